package event

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var (
	leadingWeekday = regexp.MustCompile(`(?i)^(?:mon|tue|wed|thu|fri|sat|sun)[a-z]*\.?,?\s+`)
	ordinalSuffix  = regexp.MustCompile(`(?i)(\d)(?:st|nd|rd|th)\b`)
	atSeparator    = regexp.MustCompile(`(?i)\s+at\s+`)
	clockTime      = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*([ap])\.?m\b\.?`)
	spaces         = regexp.MustCompile(`\s+`)
)

// humanLayouts are tried before dateparse, which reads hour-only 12-hour
// times such as "7pm" as noon.
var humanLayouts = []string{
	"January 2 2006 3:04 PM",
	"Jan 2 2006 3:04 PM",
	"2 January 2006 3:04 PM",
	"2 Jan 2006 3:04 PM",
	"January 2 2006 15:04",
	"Jan 2 2006 15:04",
	"January 2 2006",
	"Jan 2 2006",
}

// normalizeHuman rewrites flyer-style dates into a canonical form:
// "Thursday, August 15th, 2024 at 7pm" becomes "August 15 2024 7:00 PM".
func normalizeHuman(s string) string {
	s = leadingWeekday.ReplaceAllString(strings.TrimSpace(s), "")
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	s = atSeparator.ReplaceAllString(s, " ")
	s = clockTime.ReplaceAllStringFunc(s, func(m string) string {
		sub := clockTime.FindStringSubmatch(m)
		minutes := sub[2]
		if minutes == "" {
			minutes = "00"
		}
		return fmt.Sprintf("%s:%s %sM", sub[1], minutes, strings.ToUpper(sub[3]))
	})
	s = strings.ReplaceAll(s, ",", " ")
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// parseDateTime reads a model-supplied timestamp. Zone-less values are
// interpreted in loc.
func parseDateTime(raw string, loc *time.Location) (time.Time, error) {
	human := normalizeHuman(raw)
	for _, layout := range humanLayouts {
		if t, err := time.ParseInLocation(layout, human, loc); err == nil {
			return t, nil
		}
	}
	if t, err := dateparse.ParseIn(human, loc); err == nil {
		return t, nil
	}
	return dateparse.ParseIn(raw, loc)
}
