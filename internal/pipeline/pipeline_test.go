package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartystreets/goconvey/convey"

	"flyercal/internal/event"
	"flyercal/internal/extract"
	"flyercal/internal/flyer"
	"flyercal/internal/ics"
	"flyercal/internal/metrics"
	"flyercal/internal/model"
)

type emptyDoc struct{}

func (emptyDoc) PageCount() (int, error)                  { return 0, nil }
func (emptyDoc) RenderPage(int, int) (image.Image, error) { return nil, errors.New("no pages") }
func (emptyDoc) Close() error                             { return nil }

// replyExtractor answers with a canned model response per source file.
type replyExtractor struct {
	replies map[string]string
	prompts []string
}

func (e *replyExtractor) Extract(_ context.Context, img model.Image, prompt string) (model.Fields, error) {
	e.prompts = append(e.prompts, prompt)
	raw, ok := e.replies[img.Source]
	if !ok {
		return nil, &extract.ModelCallError{Model: "fake", Attempts: 1, Err: errors.New("quota exceeded")}
	}
	return extract.ParseResponse(raw)
}

func pngUpload(t *testing.T, name string) model.Upload {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png: %v", err)
	}
	return model.Upload{Name: name, MediaType: "image/png", Data: buf.Bytes()}
}

func newPipeline(ex extract.Extractor) *Pipeline {
	clock := func() time.Time { return time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC) }
	return &Pipeline{
		Images:    &flyer.Normalizer{DPI: 200, OpenPDF: func([]byte) (flyer.Document, error) { return emptyDoc{}, nil }},
		Extractor: ex,
		Fields:    &event.Normalizer{Location: time.UTC, Now: clock},
		Encoder:   &ics.Encoder{Now: clock},
	}
}

func TestProcess(t *testing.T) {
	convey.Convey("Given a pipeline with a scripted model", t, func() {
		ex := &replyExtractor{replies: map[string]string{
			"gala.png":  "```json\n{\"title\":\"Summer Gala\",\"start_time\":\"2024-08-15T19:00:00\",\"end_time\":\"2024-08-15T21:00:00\",\"location\":\"City Hall\",\"description\":\"\"}\n```",
			"prose.png": "Sorry, I can't read this flyer.",
			"vague.png": `{"title":"Book Fair","start_time":"soon","end_time":""}`,
		}}
		p := newPipeline(ex)
		var seen []string
		p.OnResult = func(_ context.Context, r model.Result) { seen = append(seen, r.Source) }

		convey.Convey("When a zero-page PDF is batched with a good image", func() {
			results := p.Process(context.Background(), []model.Upload{
				{Name: "empty.pdf", MediaType: "application/pdf", Data: []byte("%PDF-1.4")},
				pngUpload(t, "gala.png"),
			})

			convey.Convey("Then only the PDF fails and order is preserved", func() {
				convey.So(len(results), convey.ShouldEqual, 2)
				convey.So(results[0].Source, convey.ShouldEqual, "empty.pdf")
				convey.So(errors.Is(results[0].Err, flyer.ErrEmptyDocument), convey.ShouldBeTrue)
				var se *StageError
				convey.So(errors.As(results[0].Err, &se), convey.ShouldBeTrue)
				convey.So(se.Stage, convey.ShouldEqual, StageNormalize)

				convey.So(results[1].OK(), convey.ShouldBeTrue)
				convey.So(results[1].Filename, convey.ShouldEqual, "summer-gala.ics")
				convey.So(string(results[1].Calendar), convey.ShouldContainSubstring, "SUMMARY:Summer Gala")
				convey.So(results[1].Event.Description, convey.ShouldEqual, event.DefaultDescription)
				convey.So(seen, convey.ShouldResemble, []string{"empty.pdf", "gala.png"})
			})
		})

		convey.Convey("When one response is prose", func() {
			results := p.Process(context.Background(), []model.Upload{
				pngUpload(t, "prose.png"),
				pngUpload(t, "gala.png"),
			})

			convey.Convey("Then that flyer reports a parse error and the batch continues", func() {
				var rpe *extract.ResponseParseError
				convey.So(errors.As(results[0].Err, &rpe), convey.ShouldBeTrue)
				convey.So(rpe.Raw, convey.ShouldEqual, "Sorry, I can't read this flyer.")
				convey.So(Describe(results[0]), convey.ShouldContainSubstring, "could not parse the model response")
				convey.So(results[1].OK(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the dates are unusable", func() {
			before := testutil.ToFloat64(metrics.DateFallbacksTotal)
			results := p.Process(context.Background(), []model.Upload{pngUpload(t, "vague.png")})

			convey.Convey("Then the calendar is still produced with a warning", func() {
				convey.So(results[0].OK(), convey.ShouldBeTrue)
				convey.So(len(results[0].Warnings), convey.ShouldEqual, 1)
				convey.So(results[0].Event.Start.Equal(results[0].Event.End), convey.ShouldBeTrue)
				convey.So(testutil.ToFloat64(metrics.DateFallbacksTotal)-before, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the model call fails", func() {
			before := testutil.ToFloat64(metrics.StageFailuresTotal.WithLabelValues(StageExtract))
			results := p.Process(context.Background(), []model.Upload{pngUpload(t, "unknown.png")})

			convey.Convey("Then the failure is tagged with the extract stage", func() {
				convey.So(errors.Is(results[0].Err, extract.ErrModelCall), convey.ShouldBeTrue)
				convey.So(Describe(results[0]), convey.ShouldContainSubstring, "model call failed for unknown.png")
				convey.So(testutil.ToFloat64(metrics.StageFailuresTotal.WithLabelValues(StageExtract))-before, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			results := p.Process(ctx, []model.Upload{pngUpload(t, "gala.png")})

			convey.Convey("Then no model call is made", func() {
				convey.So(errors.Is(results[0].Err, context.Canceled), convey.ShouldBeTrue)
				convey.So(ex.prompts, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When no prompt is configured", func() {
			p.Process(context.Background(), []model.Upload{pngUpload(t, "gala.png")})

			convey.Convey("Then the default instruction is sent", func() {
				convey.So(len(ex.prompts), convey.ShouldEqual, 1)
				convey.So(ex.prompts[0], convey.ShouldContainSubstring, "start_time")
			})
		})
	})
}

func TestDescribeSuccess(t *testing.T) {
	if got := Describe(model.Result{Source: "ok.png", Calendar: []byte("x")}); got != "" {
		t.Errorf("Describe(success) = %q, want empty", got)
	}
}
