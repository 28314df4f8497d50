package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"flyercal/internal/config"
	"flyercal/internal/extract"
	"flyercal/internal/model"
)

// nameProcessor fails every file whose name contains "bad" with a model
// call error and every file containing "prose" with an unparseable reply.
type nameProcessor struct{ seen []string }

func (p *nameProcessor) Process(_ context.Context, uploads []model.Upload) []model.Result {
	var out []model.Result
	for _, u := range uploads {
		p.seen = append(p.seen, u.Name)
		if strings.Contains(u.Name, "prose") {
			out = append(out, model.Result{Source: u.Name, Err: &extract.ResponseParseError{Raw: "No event here."}})
			continue
		}
		if strings.Contains(u.Name, "bad") {
			out = append(out, model.Result{Source: u.Name, Err: errors.New("model call failed")})
			continue
		}
		out = append(out, model.Result{Source: u.Name, Calendar: []byte("BEGIN:VCALENDAR"), Filename: "gala.ics"})
	}
	return out
}

func TestScan(t *testing.T) {
	convey.Convey("Given an inbox with flyers and other files", t, func() {
		root := t.TempDir()
		cfg := config.WatchConfig{
			Inbox:  filepath.Join(root, "inbox"),
			Outbox: filepath.Join(root, "outbox"),
			Done:   filepath.Join(root, "done"),
		}
		convey.So(os.MkdirAll(cfg.Inbox, 0o755), convey.ShouldBeNil)
		for _, name := range []string{"a.png", "b-bad.pdf", "c.JPG", "notes.txt", ".hidden.png"} {
			convey.So(os.WriteFile(filepath.Join(cfg.Inbox, name), []byte("x"), 0o644), convey.ShouldBeNil)
		}
		proc := &nameProcessor{}
		w := New(cfg, proc)

		convey.Convey("When the inbox is scanned", func() {
			sum, err := w.Scan(context.Background())

			convey.Convey("Then only flyers are processed in name order", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(proc.seen, convey.ShouldResemble, []string{"a.png", "b-bad.pdf", "c.JPG"})
				convey.So(sum.Converted, convey.ShouldEqual, 2)
				convey.So(sum.Failed, convey.ShouldEqual, 1)
			})

			convey.Convey("Then calendars are written without clobbering each other", func() {
				convey.So(len(sum.Written), convey.ShouldEqual, 2)
				_, err1 := os.Stat(filepath.Join(cfg.Outbox, "gala.ics"))
				_, err2 := os.Stat(filepath.Join(cfg.Outbox, "gala-2.ics"))
				convey.So(err1, convey.ShouldBeNil)
				convey.So(err2, convey.ShouldBeNil)
			})

			convey.Convey("Then successes move to done and failures stay", func() {
				_, err := os.Stat(filepath.Join(cfg.Done, "a.png"))
				convey.So(err, convey.ShouldBeNil)
				_, err = os.Stat(filepath.Join(cfg.Inbox, "b-bad.pdf"))
				convey.So(err, convey.ShouldBeNil)
				_, err = os.Stat(filepath.Join(cfg.Inbox, "notes.txt"))
				convey.So(err, convey.ShouldBeNil)
			})

			convey.Convey("And a second scan retries only what is left", func() {
				proc.seen = nil
				sum, err := w.Scan(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(proc.seen, convey.ShouldResemble, []string{"b-bad.pdf"})
				convey.So(sum.Converted, convey.ShouldEqual, 0)
			})
		})
	})
}

func TestScanMovesUnparseableReplies(t *testing.T) {
	convey.Convey("Given an inbox with a flyer the model answers in prose", t, func() {
		root := t.TempDir()
		cfg := config.WatchConfig{
			Inbox:  filepath.Join(root, "inbox"),
			Outbox: filepath.Join(root, "outbox"),
			Done:   filepath.Join(root, "done"),
			Failed: filepath.Join(root, "failed"),
		}
		convey.So(os.MkdirAll(cfg.Inbox, 0o755), convey.ShouldBeNil)
		for _, name := range []string{"a-prose.png", "b-bad.pdf"} {
			convey.So(os.WriteFile(filepath.Join(cfg.Inbox, name), []byte("x"), 0o644), convey.ShouldBeNil)
		}
		proc := &nameProcessor{}
		w := New(cfg, proc)

		convey.Convey("When the inbox is scanned twice", func() {
			first, err := w.Scan(context.Background())
			convey.So(err, convey.ShouldBeNil)
			proc.seen = nil
			second, err := w.Scan(context.Background())
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the unparseable flyer is moved to failed and not resent", func() {
				convey.So(first.Failed, convey.ShouldEqual, 2)
				convey.So(first.Rejected, convey.ShouldEqual, 1)
				_, err := os.Stat(filepath.Join(cfg.Failed, "a-prose.png"))
				convey.So(err, convey.ShouldBeNil)
				_, err = os.Stat(filepath.Join(cfg.Inbox, "a-prose.png"))
				convey.So(os.IsNotExist(err), convey.ShouldBeTrue)
				convey.So(proc.seen, convey.ShouldResemble, []string{"b-bad.pdf"})
				convey.So(second.Rejected, convey.ShouldEqual, 0)
			})
		})
	})
}

func TestNewDefaultsFailedDir(t *testing.T) {
	w := New(config.WatchConfig{Inbox: filepath.Join("var", "inbox")}, &nameProcessor{})
	if want := filepath.Join("var", "failed"); w.Failed != want {
		t.Errorf("Failed = %q, want %q", w.Failed, want)
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	w := New(config.WatchConfig{Inbox: t.TempDir()}, &nameProcessor{})
	if err := w.Run(context.Background(), "not a schedule"); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	w := New(config.WatchConfig{
		Inbox:  filepath.Join(root, "in"),
		Outbox: filepath.Join(root, "out"),
		Done:   filepath.Join(root, "done"),
	}, &nameProcessor{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx, "@every 1h"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
