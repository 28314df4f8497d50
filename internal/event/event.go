// Package event turns the loosely-typed fields returned by the model into a
// fully populated event.
package event

import (
	"fmt"
	"strings"
	"time"

	appLog "flyercal/internal/log"
	"flyercal/internal/model"
)

// Defaults applied when the model left a field blank or absent.
const (
	DefaultTitle       = "Untitled Event"
	DefaultLocation    = "Not specified"
	DefaultDescription = "No description provided."
)

// WarningKind classifies a Warning.
type WarningKind string

// WarnDateFallback means one of the timestamps could not be used and both
// were replaced with the current time.
const WarnDateFallback WarningKind = "date_fallback"

// Warning is a non-fatal problem found while normalizing.
type Warning struct {
	Kind    WarningKind
	Field   string
	Message string
}

func (w Warning) String() string {
	return w.Message
}

// Normalizer converts model.Fields to model.Event. The zero value uses the
// local timezone and the wall clock.
type Normalizer struct {
	// Location is used for timestamps that carry no zone.
	Location *time.Location
	// Now is the clock used for the date fallback.
	Now func() time.Time
}

// NewNormalizer returns a Normalizer for loc.
func NewNormalizer(loc *time.Location) *Normalizer {
	return &Normalizer{Location: loc, Now: time.Now}
}

// Normalize never fails: missing strings get defaults and unusable
// timestamps fall back to now, reported as a Warning.
func (n *Normalizer) Normalize(fields model.Fields) (model.Event, []Warning) {
	ev := model.Event{
		Title:       valueOr(fields, model.KeyTitle, DefaultTitle),
		Location:    valueOr(fields, model.KeyLocation, DefaultLocation),
		Description: valueOr(fields, model.KeyDescription, DefaultDescription),
	}

	start, startErr := n.parseTime(fields, model.KeyStartTime)
	end, endErr := n.parseTime(fields, model.KeyEndTime)

	var warnings []Warning
	if startErr != nil || endErr != nil {
		now := n.now()
		ev.Start, ev.End = now, now

		field, cause := model.KeyStartTime, startErr
		if cause == nil {
			field, cause = model.KeyEndTime, endErr
		}
		w := Warning{
			Kind:    WarnDateFallback,
			Field:   field,
			Message: fmt.Sprintf("could not parse dates (%s: %v); using current time", field, cause),
		}
		appLog.Warn("date fallback", "title", ev.Title, "field", field, "err", cause)
		warnings = append(warnings, w)
		return ev, warnings
	}

	ev.Start, ev.End = start, end
	if end.Before(start) {
		appLog.Debug("event ends before it starts", "title", ev.Title, "start", start, "end", end)
	}
	return ev, warnings
}

func (n *Normalizer) location() *time.Location {
	if n.Location == nil {
		return time.Local
	}
	return n.Location
}

func (n *Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now().In(n.location())
	}
	return n.Now().In(n.location())
}

func (n *Normalizer) parseTime(fields model.Fields, key string) (time.Time, error) {
	raw, ok := fields.Get(key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return time.Time{}, fmt.Errorf("%s is missing", key)
	}
	t, err := parseDateTime(raw, n.location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %q: %w", key, raw, err)
	}
	return t, nil
}

func valueOr(fields model.Fields, key, def string) string {
	v, ok := fields.Get(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Messages flattens warnings into their display text.
func Messages(ws []Warning) []string {
	if len(ws) == 0 {
		return nil
	}
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.String()
	}
	return out
}
