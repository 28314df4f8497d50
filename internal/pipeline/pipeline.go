// Package pipeline runs each uploaded flyer through normalization,
// extraction, field normalization and calendar encoding.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flyercal/internal/event"
	"flyercal/internal/extract"
	appLog "flyercal/internal/log"
	"flyercal/internal/metrics"
	"flyercal/internal/model"
	"flyercal/internal/prompt"
	"flyercal/internal/slug"
)

// Stage names used in StageError and metrics.
const (
	StageNormalize = "normalize"
	StageExtract   = "extract"
	StageEncode    = "encode"
)

// StageError tags a per-flyer failure with the stage that produced it.
type StageError struct {
	Stage  string
	Source string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Source, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ImageNormalizer turns an upload into images.
type ImageNormalizer interface {
	Normalize(u model.Upload) ([]model.Image, error)
}

// FieldNormalizer turns extracted fields into an event.
type FieldNormalizer interface {
	Normalize(fields model.Fields) (model.Event, []event.Warning)
}

// CalendarEncoder turns an event into a calendar document.
type CalendarEncoder interface {
	Encode(ev model.Event) ([]byte, error)
}

// Pipeline holds the stages. All fields except OnResult are required.
type Pipeline struct {
	Images    ImageNormalizer
	Extractor extract.Extractor
	Fields    FieldNormalizer
	Encoder   CalendarEncoder

	// Prompt sent with every image. Defaults to prompt.Build().
	Prompt string

	// OnResult, if set, is called after each flyer image is finished.
	OnResult func(ctx context.Context, r model.Result)
}

// Process handles uploads sequentially and returns one result per flyer
// image, in input order. A failure affects only its own flyer.
func (p *Pipeline) Process(ctx context.Context, uploads []model.Upload) []model.Result {
	instruction := p.Prompt
	if instruction == "" {
		instruction = prompt.Build()
	}

	results := make([]model.Result, 0, len(uploads))
	for _, u := range uploads {
		images, err := p.Images.Normalize(u)
		if err != nil {
			results = append(results, p.finish(ctx, model.Result{
				Source: u.Name,
				Err:    &StageError{Stage: StageNormalize, Source: u.Name, Err: err},
			}))
			continue
		}
		for _, img := range images {
			results = append(results, p.finish(ctx, p.processImage(ctx, img, instruction)))
		}
	}
	return results
}

func (p *Pipeline) processImage(ctx context.Context, img model.Image, instruction string) model.Result {
	res := model.Result{Source: img.Source, Page: img.Page}

	if err := ctx.Err(); err != nil {
		res.Err = &StageError{Stage: StageExtract, Source: img.Source, Err: err}
		return res
	}

	started := time.Now()
	fields, err := p.Extractor.Extract(ctx, img, instruction)
	metrics.ModelCallDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		res.Err = &StageError{Stage: StageExtract, Source: img.Source, Err: err}
		return res
	}
	res.Fields = fields

	ev, warnings := p.Fields.Normalize(fields)
	for _, w := range warnings {
		if w.Kind == event.WarnDateFallback {
			metrics.DateFallbacksTotal.Inc()
		}
	}
	res.Event = &ev
	res.Warnings = event.Messages(warnings)

	data, err := p.Encoder.Encode(ev)
	if err != nil {
		res.Err = &StageError{Stage: StageEncode, Source: img.Source, Err: err}
		return res
	}
	res.Calendar = data
	res.Filename = slug.Filename(ev.Title)
	return res
}

// finish records metrics and logs for r, then invokes OnResult.
func (p *Pipeline) finish(ctx context.Context, r model.Result) model.Result {
	if r.Err != nil {
		metrics.FlyersTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		stage := "unknown"
		var se *StageError
		if errors.As(r.Err, &se) {
			stage = se.Stage
		}
		metrics.StageFailuresTotal.WithLabelValues(stage).Inc()

		kv := []any{"file", r.Source, "stage", stage}
		var rpe *extract.ResponseParseError
		if errors.As(r.Err, &rpe) {
			kv = append(kv, "raw_response", rpe.Raw)
		}
		appLog.Error("flyer failed", r.Err, kv...)
	} else {
		metrics.FlyersTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		appLog.Info("flyer converted", "file", r.Source, "title", r.Event.Title, "filename", r.Filename, "warnings", len(r.Warnings))
	}

	if p.OnResult != nil {
		p.OnResult(ctx, r)
	}
	return r
}

// Describe returns a one-line, user-facing message for a failed result.
func Describe(r model.Result) string {
	if r.Err == nil {
		return ""
	}
	var se *StageError
	stage := ""
	if errors.As(r.Err, &se) {
		stage = se.Stage
	}
	cause := errors.Unwrap(r.Err)
	if cause == nil {
		cause = r.Err
	}
	switch stage {
	case StageNormalize:
		return fmt.Sprintf("could not read %s: %v", r.Source, cause)
	case StageExtract:
		var rpe *extract.ResponseParseError
		if errors.As(cause, &rpe) {
			return fmt.Sprintf("could not parse the model response for %s", r.Source)
		}
		return fmt.Sprintf("model call failed for %s: %v", r.Source, cause)
	case StageEncode:
		return fmt.Sprintf("could not build a calendar for %s: %v", r.Source, cause)
	default:
		return fmt.Sprintf("%s: %v", r.Source, r.Err)
	}
}
