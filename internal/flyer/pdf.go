package flyer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/tsawler/tabula/pages"
	"github.com/tsawler/tabula/reader"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	appLog "flyercal/internal/log"
)

const (
	// pointsPerInch is the PDF user-space unit.
	pointsPerInch = 72.0
	// maxCanvasSide caps the rendered bitmap so a bogus MediaBox cannot
	// allocate gigabytes.
	maxCanvasSide = 8000
	defaultFontPt = 12.0
)

// US Letter, used when a page has no usable MediaBox.
var letterBox = []float64{0, 0, 612, 792}

// pdfDocument is a Document backed by the tabula PDF reader.
type pdfDocument struct {
	r    *reader.Reader
	path string
}

// OpenPDF opens an in-memory PDF. The reader needs a file, so data is
// spooled to a temp file that Close removes.
func OpenPDF(data []byte) (Document, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return nil, errors.New("missing %PDF- header")
	}

	tmp, err := os.CreateTemp("", "flyercal-*.pdf")
	if err != nil {
		return nil, err
	}
	path := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(path)
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	r, err := reader.Open(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return &pdfDocument{r: r, path: path}, nil
}

func (d *pdfDocument) PageCount() (int, error) {
	return d.r.PageCount()
}

func (d *pdfDocument) Close() error {
	err := d.r.Close()
	if rmErr := os.Remove(d.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// RenderPage rasterizes page index onto a white canvas sized from the
// MediaBox at dpi. The largest embedded raster image is scaled to fit the
// page, then text fragments are drawn at their page positions.
func (d *pdfDocument) RenderPage(index, dpi int) (image.Image, error) {
	page, err := d.r.GetPage(index)
	if err != nil {
		return nil, err
	}

	box := mediaBox(page)
	scale := float64(dpi) / pointsPerInch
	canvas := newCanvas(box[2]-box[0], box[3]-box[1], scale)

	imgs, err := d.r.ExtractPageImages(page)
	if err != nil {
		appLog.Debug("pdf image extraction failed", "page", index, "err", err)
	}
	if bg := largestImage(imgs); bg != nil {
		xdraw.CatmullRom.Scale(canvas, fitRect(canvas.Bounds(), bg.Bounds()), bg, bg.Bounds(), xdraw.Over, nil)
	}

	frags, err := d.r.ExtractTextFragments(page)
	if err != nil {
		appLog.Debug("pdf text extraction failed", "page", index, "err", err)
	}
	if len(frags) > 0 {
		tr := newTextRenderer(dpi)
		for _, f := range frags {
			x := (f.X - box[0]) * scale
			y := (box[3] - f.Y) * scale
			tr.draw(canvas, f.Text, f.FontSize, x, y)
		}
	}

	if len(imgs) == 0 && len(frags) == 0 {
		return nil, fmt.Errorf("page %d has no drawable content", index+1)
	}
	return canvas, nil
}

func mediaBox(page *pages.Page) []float64 {
	box, err := page.MediaBox()
	if err != nil || len(box) < 4 || box[2] <= box[0] || box[3] <= box[1] {
		return letterBox
	}
	return box
}

func newCanvas(widthPt, heightPt, scale float64) *image.RGBA {
	w := clampSide(widthPt * scale)
	h := clampSide(heightPt * scale)
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	return canvas
}

func clampSide(v float64) int {
	n := int(math.Ceil(v))
	if n < 1 {
		return 1
	}
	if n > maxCanvasSide {
		return maxCanvasSide
	}
	return n
}

// fitRect returns the largest rectangle with src's aspect ratio centered
// inside dst.
func fitRect(dst, src image.Rectangle) image.Rectangle {
	if src.Dx() == 0 || src.Dy() == 0 {
		return dst
	}
	sx := float64(dst.Dx()) / float64(src.Dx())
	sy := float64(dst.Dy()) / float64(src.Dy())
	s := math.Min(sx, sy)
	w := int(math.Round(float64(src.Dx()) * s))
	h := int(math.Round(float64(src.Dy()) * s))
	x0 := dst.Min.X + (dst.Dx()-w)/2
	y0 := dst.Min.Y + (dst.Dy()-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

// largestImage decodes the page images and returns the one with the most
// pixels. Images that fail to decode are skipped.
func largestImage(imgs []reader.PageImage) image.Image {
	var best image.Image
	bestArea := 0
	for i := range imgs {
		pi := &imgs[i]
		if pi.Width*pi.Height <= bestArea {
			continue
		}
		img, err := decodePageImage(pi)
		if err != nil {
			appLog.Debug("pdf image skipped", "name", pi.Name, "filter", pi.Filter, "err", err)
			continue
		}
		best = img
		bestArea = pi.Width * pi.Height
	}
	return best
}

func decodePageImage(pi *reader.PageImage) (image.Image, error) {
	switch pi.Filter {
	case "DCTDecode", "DCT":
		return jpeg.Decode(bytes.NewReader(pi.Data))
	case "JPXDecode":
		return nil, errors.New("JPEG 2000 images are not supported")
	}
	data, err := pi.ToPNG()
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(data))
}

var (
	goRegular     *opentype.Font
	goRegularErr  error
	goRegularOnce sync.Once
)

func regularFont() (*opentype.Font, error) {
	goRegularOnce.Do(func() {
		goRegular, goRegularErr = opentype.Parse(goregular.TTF)
	})
	return goRegular, goRegularErr
}

// textRenderer draws strings with Go Regular, caching one face per size.
type textRenderer struct {
	dpi   int
	faces map[int]font.Face
}

func newTextRenderer(dpi int) *textRenderer {
	return &textRenderer{dpi: dpi, faces: make(map[int]font.Face)}
}

func (t *textRenderer) draw(dst draw.Image, text string, sizePt, x, y float64) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if sizePt <= 0 {
		sizePt = defaultFontPt
	}
	face := t.face(sizePt)
	if face == nil {
		return
	}
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(int(x), int(y)),
	}
	d.DrawString(text)
}

func (t *textRenderer) face(sizePt float64) font.Face {
	key := int(math.Round(sizePt))
	if key < 1 {
		key = 1
	}
	if f, ok := t.faces[key]; ok {
		return f
	}
	fnt, err := regularFont()
	if err != nil {
		appLog.Error("load fallback font", err)
		return nil
	}
	face, err := opentype.NewFace(fnt, &opentype.FaceOptions{
		Size:    float64(key),
		DPI:     float64(t.dpi),
		Hinting: font.HintingFull,
	})
	if err != nil {
		appLog.Error("create font face", err, "size", key)
		return nil
	}
	t.faces[key] = face
	return face
}
