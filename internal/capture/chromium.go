// Package capture renders an extracted event as a PNG card with headless
// Chromium, for side-by-side review next to the source flyer.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"flyercal/internal/model"
)

// Default card parameters.
const (
	DefaultWidth      = 800
	DefaultHeight     = 600
	DefaultTimeoutSec = 30
)

// CardOptions defines parameters for rendering an event card.
type CardOptions struct {
	// OutputPath is where the PNG will be written, e.g. "./var/preview/gala.png".
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Location formats the start and end times. Nil means the event's own.
	Location *time.Location

	// Timeout bounds the entire capture operation. If zero,
	// DefaultTimeoutSec is used.
	Timeout time.Duration
}

var cardTemplate = template.Must(template.New("card").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><style>
body { margin: 0; font-family: sans-serif; background: #f4f4f4; }
.card { margin: 24px; padding: 24px 32px; background: #fff; border-radius: 12px; box-shadow: 0 2px 8px rgba(0,0,0,.15); }
h1 { margin: 0 0 12px 0; font-size: 32px; }
.when { font-size: 20px; color: #333; }
.where { font-size: 18px; color: #555; margin-top: 8px; }
p { font-size: 16px; color: #444; white-space: pre-wrap; }
</style></head>
<body><div class="card" data-ready="true">
<h1>{{.Title}}</h1>
<div class="when">{{.Start}} &ndash; {{.End}}</div>
<div class="where">{{.Location}}</div>
<p>{{.Description}}</p>
</div></body></html>`))

type cardData struct {
	Title, Start, End, Location, Description string
}

// CardHTML renders the card markup for ev. All fields are HTML-escaped.
func CardHTML(ev model.Event, loc *time.Location) ([]byte, error) {
	start, end := ev.Start, ev.End
	if loc != nil {
		start, end = start.In(loc), end.In(loc)
	}
	const layout = "Mon Jan 2, 2006 3:04 PM MST"

	var buf bytes.Buffer
	err := cardTemplate.Execute(&buf, cardData{
		Title:       ev.Title,
		Start:       start.Format(layout),
		End:         end.Format(layout),
		Location:    ev.Location,
		Description: ev.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("capture: render card: %w", err)
	}
	return buf.Bytes(), nil
}

// dataURL embeds html so no server is needed for the capture.
func dataURL(html []byte) string {
	return "data:text/html;charset=utf-8;base64," + base64.StdEncoding.EncodeToString(html)
}

// RenderEventCard launches a headless Chromium instance via chromedp, loads
// the card for ev, waits for it to be visible and writes a PNG screenshot
// to opts.OutputPath.
func RenderEventCard(parentCtx context.Context, ev model.Event, opts CardOptions) error {
	if opts.OutputPath == "" {
		return fmt.Errorf("capture: OutputPath is required")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}

	html, err := CardHTML(ev, opts.Location)
	if err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(dataURL(html)),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: create output dir: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	return nil
}
