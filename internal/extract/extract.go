// Package extract asks a hosted multimodal model for the event fields shown
// on a flyer and recovers them from the free-form reply.
package extract

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"time"

	appLog "flyercal/internal/log"
	"flyercal/internal/model"
)

// Extractor is the capability of turning a flyer image into event fields.
// Implementations return *ModelCallError or *ResponseParseError on failure.
type Extractor interface {
	Extract(ctx context.Context, img model.Image, prompt string) (model.Fields, error)
}

// Policy bounds and repeats remote calls. It is supplied by configuration.
type Policy struct {
	// Timeout per attempt. Zero disables the per-attempt deadline.
	Timeout time.Duration
	// Attempts is the total number of tries; values below 1 mean 1.
	Attempts int
	// Backoff is the pause before the second attempt, doubled afterwards.
	Backoff time.Duration
}

// Retrying applies a Policy to another Extractor. Only *ModelCallError is
// retried; parse failures and caller cancellation return immediately.
type Retrying struct {
	Next   Extractor
	Policy Policy

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// WithPolicy wraps next with p.
func WithPolicy(next Extractor, p Policy) *Retrying {
	return &Retrying{Next: next, Policy: p}
}

func (r *Retrying) Extract(ctx context.Context, img model.Image, prompt string) (model.Fields, error) {
	attempts := r.Policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	backoff := r.Policy.Backoff

	for i := 1; ; i++ {
		fields, err := r.attempt(ctx, img, prompt)
		if err == nil {
			return fields, nil
		}

		var mce *ModelCallError
		if !errors.As(err, &mce) {
			return nil, err
		}
		mce.Attempts = i
		if i >= attempts || ctx.Err() != nil {
			return nil, err
		}

		appLog.Warn("model call failed; retrying", "file", img.Source, "attempt", i, "of", attempts, "backoff", backoff.String(), "err", mce.Err)
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func (r *Retrying) attempt(ctx context.Context, img model.Image, prompt string) (model.Fields, error) {
	if r.Policy.Timeout <= 0 {
		return r.Next.Extract(ctx, img, prompt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.Policy.Timeout)
	defer cancel()
	return r.Next.Extract(attemptCtx, img, prompt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// imagePayload returns the bytes and media type sent to the model. Raster
// uploads are forwarded as-is; rendered pages are encoded as PNG.
func imagePayload(img model.Image) ([]byte, string, error) {
	if len(img.Encoded) > 0 && img.MediaType != "" {
		return img.Encoded, img.MediaType, nil
	}
	if img.Image == nil {
		return nil, "", errors.New("image has no pixels")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img.Image); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/png", nil
}
