package flyer

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/smartystreets/goconvey/convey"
	"github.com/tsawler/tabula/reader"

	"flyercal/internal/model"
)

type fakeDocument struct {
	pages    int
	countErr error
	rendered []int
	closed   bool
}

func (d *fakeDocument) PageCount() (int, error) { return d.pages, d.countErr }

func (d *fakeDocument) RenderPage(index, dpi int) (image.Image, error) {
	d.rendered = append(d.rendered, index)
	side := dpi / 10
	return image.NewRGBA(image.Rect(0, 0, side, side)), nil
}

func (d *fakeDocument) Close() error {
	d.closed = true
	return nil
}

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(4, 3)); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solidImage(8, 8), nil); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func TestNormalize(t *testing.T) {
	convey.Convey("Given a normalizer", t, func() {
		doc := &fakeDocument{pages: 3}
		n := &Normalizer{DPI: 200, OpenPDF: func([]byte) (Document, error) { return doc, nil }}

		convey.Convey("When a PNG is uploaded", func() {
			data := pngBytes(t)
			imgs, err := n.Normalize(model.Upload{Name: "gala.png", MediaType: "image/png", Data: data})

			convey.Convey("Then one decoded image keeps the original bytes", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(imgs), convey.ShouldEqual, 1)
				convey.So(imgs[0].Image.Bounds().Dx(), convey.ShouldEqual, 4)
				convey.So(imgs[0].Source, convey.ShouldEqual, "gala.png")
				convey.So(imgs[0].MediaType, convey.ShouldEqual, MediaPNG)
				convey.So(imgs[0].Encoded, convey.ShouldResemble, data)
			})
		})

		convey.Convey("When a JPEG is uploaded with the image/jpg alias", func() {
			imgs, err := n.Normalize(model.Upload{Name: "a.jpg", MediaType: "image/jpg", Data: jpegBytes(t)})

			convey.Convey("Then it is decoded as JPEG", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(imgs), convey.ShouldEqual, 1)
				convey.So(imgs[0].MediaType, convey.ShouldEqual, MediaJPEG)
			})
		})

		convey.Convey("When image bytes are corrupt", func() {
			_, err := n.Normalize(model.Upload{Name: "broken.png", MediaType: "image/png", Data: []byte("not a png")})

			convey.Convey("Then ErrDecode is returned", func() {
				convey.So(errors.Is(err, ErrDecode), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the media type is unsupported", func() {
			_, err := n.Normalize(model.Upload{Name: "notes.txt", MediaType: "text/plain", Data: []byte("hello")})

			convey.Convey("Then ErrUnsupportedMedia is returned", func() {
				convey.So(errors.Is(err, ErrUnsupportedMedia), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a multi-page PDF is uploaded", func() {
			imgs, err := n.Normalize(model.Upload{Name: "flyer.pdf", MediaType: "application/pdf", Data: []byte("%PDF-1.4")})

			convey.Convey("Then only the first page is rendered at the configured DPI", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(imgs), convey.ShouldEqual, 1)
				convey.So(doc.rendered, convey.ShouldResemble, []int{0})
				convey.So(imgs[0].Image.Bounds().Dx(), convey.ShouldEqual, 20)
				convey.So(imgs[0].Page, convey.ShouldEqual, 0)
				convey.So(doc.closed, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a PDF has zero pages", func() {
			doc.pages = 0
			_, err := n.Normalize(model.Upload{Name: "empty.pdf", MediaType: "application/pdf", Data: []byte("%PDF-1.4")})

			convey.Convey("Then ErrEmptyDocument is returned and nothing is rendered", func() {
				convey.So(errors.Is(err, ErrEmptyDocument), convey.ShouldBeTrue)
				convey.So(doc.rendered, convey.ShouldBeEmpty)
				convey.So(doc.closed, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the PDF cannot be opened", func() {
			n.OpenPDF = func([]byte) (Document, error) { return nil, errors.New("bad xref") }
			_, err := n.Normalize(model.Upload{Name: "bad.pdf", MediaType: "application/pdf", Data: []byte("%PDF-1.4")})

			convey.Convey("Then ErrDecode is returned", func() {
				convey.So(errors.Is(err, ErrDecode), convey.ShouldBeTrue)
			})
		})
	})
}

func TestOpenPDFRejectsNonPDF(t *testing.T) {
	if _, err := OpenPDF([]byte("GIF89a")); err == nil {
		t.Fatal("expected error for non-PDF bytes")
	}
}

func TestDetectMediaType(t *testing.T) {
	pdf := []byte("%PDF-1.7\n")
	tests := []struct {
		name, file, declared string
		data                 []byte
		want                 string
	}{
		{"declared wins", "x.bin", "image/png", nil, MediaPNG},
		{"parameters stripped", "x", "Image/JPEG; q=1", nil, MediaJPEG},
		{"extension", "flyer.pdf", "", nil, MediaPDF},
		{"octet-stream falls back to extension", "poster.jpeg", "application/octet-stream", nil, MediaJPEG},
		{"content sniffing", "upload", "", pdf, MediaPDF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMediaType(tt.file, tt.declared, tt.data); got != tt.want {
				t.Errorf("DetectMediaType(%q, %q) = %q, want %q", tt.file, tt.declared, got, tt.want)
			}
		})
	}
}

func TestFitRect(t *testing.T) {
	dst := image.Rect(0, 0, 200, 100)
	got := fitRect(dst, image.Rect(0, 0, 50, 50))
	if want := image.Rect(50, 0, 150, 100); got != want {
		t.Errorf("fitRect = %v, want %v", got, want)
	}
	if got := fitRect(dst, image.Rectangle{}); got != dst {
		t.Errorf("empty source should fill dst, got %v", got)
	}
}

func TestDecodePageImage(t *testing.T) {
	gray := &reader.PageImage{
		Name:             "Im1",
		Width:            2,
		Height:           2,
		ColorSpace:       "DeviceGray",
		BitsPerComponent: 8,
		Data:             []byte{0, 128, 64, 255},
	}
	img, err := decodePageImage(gray)
	if err != nil {
		t.Fatalf("decode gray: %v", err)
	}
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}

	jpg := &reader.PageImage{Name: "Im2", Width: 8, Height: 8, Filter: "DCTDecode", Data: jpegBytes(t)}
	if _, err := decodePageImage(jpg); err != nil {
		t.Errorf("decode DCT: %v", err)
	}

	jpx := &reader.PageImage{Name: "Im3", Filter: "JPXDecode"}
	if _, err := decodePageImage(jpx); err == nil {
		t.Error("expected JPX to be rejected")
	}
}

func TestLargestImage(t *testing.T) {
	small := reader.PageImage{Name: "small", Width: 1, Height: 1, ColorSpace: "DeviceGray", BitsPerComponent: 8, Data: []byte{0}}
	big := reader.PageImage{Name: "big", Width: 2, Height: 2, ColorSpace: "DeviceGray", BitsPerComponent: 8, Data: []byte{1, 2, 3, 4}}
	broken := reader.PageImage{Name: "broken", Width: 9, Height: 9, ColorSpace: "DeviceGray", BitsPerComponent: 8, Data: []byte{1}}

	got := largestImage([]reader.PageImage{small, broken, big})
	if got == nil || got.Bounds().Dx() != 2 {
		t.Fatalf("expected the 2x2 image, got %v", got)
	}
	if largestImage(nil) != nil {
		t.Error("expected nil for no images")
	}
}
