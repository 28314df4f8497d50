package model

import (
	"image"
	"time"
)

// Field keys as requested from the model.
const (
	KeyTitle       = "title"
	KeyStartTime   = "start_time"
	KeyEndTime     = "end_time"
	KeyLocation    = "location"
	KeyDescription = "description"
)

// Keys lists the five keys of the extraction schema in prompt order.
var Keys = []string{KeyTitle, KeyStartTime, KeyEndTime, KeyLocation, KeyDescription}

// Upload is a single flyer as submitted by the user.
type Upload struct {
	Name      string // original filename, used for diagnostics
	MediaType string // declared media type (image/png, image/jpeg, application/pdf)
	Data      []byte
}

// Image is one decoded raster page of a flyer.
type Image struct {
	Source string // Upload.Name
	Page   int    // 0-based page index; always 0 for PDFs

	Image image.Image

	// MediaType/Encoded carry the original PNG or JPEG bytes when the upload
	// was already a raster image. Empty for rendered PDF pages.
	MediaType string
	Encoded   []byte
}

// Fields holds the loosely-typed values returned by the model. Keys that
// the model omitted (or set to null) are absent from the map.
type Fields map[string]string

// Get returns the value for key and whether the model supplied it.
func (f Fields) Get(key string) (string, bool) {
	if f == nil {
		return "", false
	}
	v, ok := f[key]
	return v, ok
}

// Event is the normalized, fully-defaulted event ready for calendar encoding.
//
// End >= Start is not enforced.
type Event struct {
	Title       string    `json:"title"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// Result is the outcome of processing one flyer image.
type Result struct {
	Source string `json:"source"`
	Page   int    `json:"page"`

	Fields   Fields   `json:"fields,omitempty"`
	Event    *Event   `json:"event,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	Calendar []byte `json:"-"`
	Filename string `json:"filename,omitempty"`

	// Err is non-nil when any stage failed for this flyer.
	Err error `json:"-"`
}

// OK reports whether the flyer produced a calendar document.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Calendar) > 0
}
