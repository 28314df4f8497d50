package ics

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"flyercal/internal/model"
)

// ProductID identifies flyercal as the producer of generated calendars.
const ProductID = "-//flyercal//Flyer to Calendar//EN"

// MediaType is the MIME type of encoded calendar documents.
const MediaType = "text/calendar"

// ErrEncoding is returned when a calendar document cannot be built.
var ErrEncoding = errors.New("calendar encoding failed")

// uidNamespace scopes the name-based UIDs of generated events.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://flyercal.invalid/events"))

// Encoder serializes a canonical event into an iCalendar document holding
// exactly one VEVENT.
type Encoder struct {
	// Now supplies DTSTAMP. Defaults to time.Now.
	Now func() time.Time
}

// NewEncoder returns an Encoder using the wall clock for DTSTAMP.
func NewEncoder() *Encoder {
	return &Encoder{Now: time.Now}
}

// Encode builds the calendar document for ev. The output depends only on
// ev and the encoder clock.
func (e *Encoder) Encode(ev model.Event) ([]byte, error) {
	if ev.Start.IsZero() || ev.End.IsZero() {
		return nil, fmt.Errorf("%w: event %q has no start or end time", ErrEncoding, ev.Title)
	}

	now := time.Now
	if e != nil && e.Now != nil {
		now = e.Now
	}

	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.MethodPublish)

	vev := cal.AddEvent(EventUID(ev))
	vev.SetDtStampTime(now().UTC())
	vev.SetStartAt(ev.Start.UTC())
	vev.SetEndAt(ev.End.UTC())
	vev.SetSummary(ev.Title)
	vev.SetLocation(ev.Location)
	vev.SetDescription(ev.Description)

	var buf bytes.Buffer
	if err := cal.SerializeTo(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("BEGIN:VEVENT")) {
		return nil, fmt.Errorf("%w: serialized calendar has no VEVENT", ErrEncoding)
	}
	return buf.Bytes(), nil
}

// EventUID derives a stable UID from the event title and times, so
// re-importing the same flyer updates rather than duplicates the entry.
func EventUID(ev model.Event) string {
	name := ev.Title + "\x00" + ev.Start.UTC().Format(time.RFC3339) + "\x00" + ev.End.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + "@flyercal"
}
