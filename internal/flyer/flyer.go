// Package flyer turns uploaded flyer bytes into decoded raster images ready
// for the model. PDFs contribute only their first page.
package flyer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG for image.Decode
	_ "image/png"  // register PNG for image.Decode
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	appLog "flyercal/internal/log"
	"flyercal/internal/model"
)

// Accepted media types.
const (
	MediaPNG  = "image/png"
	MediaJPEG = "image/jpeg"
	MediaPDF  = "application/pdf"
)

// DefaultDPI is the resolution used to render the first PDF page.
const DefaultDPI = 200

var (
	// ErrDecode means the bytes could not be parsed as the declared type.
	ErrDecode = errors.New("flyer decode failed")
	// ErrEmptyDocument means a PDF has no pages.
	ErrEmptyDocument = errors.New("document has no pages")
	// ErrUnsupportedMedia means the media type is not PNG, JPEG or PDF.
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// Document is an opened multi-page document that can rasterize a page.
type Document interface {
	PageCount() (int, error)
	RenderPage(index, dpi int) (image.Image, error)
	Close() error
}

// OpenFunc opens a PDF held in memory.
type OpenFunc func(data []byte) (Document, error)

// Normalizer converts uploads into images.
type Normalizer struct {
	// DPI for PDF rendering. Zero means DefaultDPI.
	DPI int
	// OpenPDF opens PDF payloads. Defaults to OpenPDF.
	OpenPDF OpenFunc
}

// NewNormalizer returns a Normalizer rendering PDFs at dpi.
func NewNormalizer(dpi int) *Normalizer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Normalizer{DPI: dpi, OpenPDF: OpenPDF}
}

// Normalize decodes u into exactly one image. PDF uploads yield their first
// page rendered at n.DPI.
func (n *Normalizer) Normalize(u model.Upload) ([]model.Image, error) {
	mediaType := DetectMediaType(u.Name, u.MediaType, u.Data)

	switch mediaType {
	case MediaPDF:
		img, err := n.renderFirstPage(u.Data)
		if err != nil {
			return nil, err
		}
		appLog.Info("pdf first page rendered", "file", u.Name, "dpi", n.dpi(),
			"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
		return []model.Image{{Source: u.Name, Page: 0, Image: img}}, nil

	case MediaPNG, MediaJPEG:
		img, format, err := image.Decode(bytes.NewReader(u.Data))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, u.Name, err)
		}
		if "image/"+format != mediaType {
			appLog.Debug("declared media type differs from content", "file", u.Name, "declared", mediaType, "detected", format)
			mediaType = "image/" + format
		}
		return []model.Image{{
			Source:    u.Name,
			Page:      0,
			Image:     img,
			MediaType: mediaType,
			Encoded:   u.Data,
		}}, nil

	default:
		return nil, fmt.Errorf("%w: %q (%s)", ErrUnsupportedMedia, mediaType, u.Name)
	}
}

func (n *Normalizer) dpi() int {
	if n.DPI <= 0 {
		return DefaultDPI
	}
	return n.DPI
}

func (n *Normalizer) renderFirstPage(data []byte) (image.Image, error) {
	open := n.OpenPDF
	if open == nil {
		open = OpenPDF
	}

	doc, err := open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrDecode, err)
	}
	defer doc.Close()

	count, err := doc.PageCount()
	if err != nil {
		return nil, fmt.Errorf("%w: read page tree: %v", ErrDecode, err)
	}
	if count < 1 {
		return nil, ErrEmptyDocument
	}

	img, err := doc.RenderPage(0, n.dpi())
	if err != nil {
		return nil, fmt.Errorf("%w: render page 1: %v", ErrDecode, err)
	}
	return img, nil
}

// DetectMediaType resolves the media type of an upload. The declared type
// wins when it is specific; otherwise the filename extension and finally
// the content are consulted.
func DetectMediaType(name, declared string, data []byte) string {
	if mt := canonical(declared); mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if mt := canonical(mime.TypeByExtension(ext)); mt != "" {
			return mt
		}
	}
	return canonical(http.DetectContentType(data))
}

func canonical(mediaType string) string {
	if mediaType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mediaType))
	}
	switch mt {
	case "image/jpg", "image/pjpeg":
		return MediaJPEG
	case "application/x-pdf":
		return MediaPDF
	}
	return mt
}
