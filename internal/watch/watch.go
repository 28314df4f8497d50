// Package watch converts flyers dropped into an inbox directory on a cron
// schedule.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"flyercal/internal/config"
	"flyercal/internal/extract"
	"flyercal/internal/ics"
	appLog "flyercal/internal/log"
	"flyercal/internal/model"
)

// Processor converts a batch of uploads. *pipeline.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, uploads []model.Upload) []model.Result
}

// Summary counts the outcome of one scan.
type Summary struct {
	Converted int
	Failed    int
	// Rejected counts flyers moved to the failed dir.
	Rejected  int
	Written   []string
}

// Watcher moves converted flyers from Inbox to Done and writes their
// calendars to Outbox. Flyers whose model reply could not be parsed go to
// Failed; any other failure leaves the file in Inbox for the next scan.
type Watcher struct {
	Inbox  string
	Outbox string
	Done   string
	Failed string
	Proc   Processor
}

// New returns a Watcher for cfg. An empty Failed dir defaults to a "failed"
// sibling of the inbox.
func New(cfg config.WatchConfig, proc Processor) *Watcher {
	failed := cfg.Failed
	if failed == "" {
		failed = filepath.Join(filepath.Dir(cfg.Inbox), "failed")
	}
	return &Watcher{Inbox: cfg.Inbox, Outbox: cfg.Outbox, Done: cfg.Done, Failed: failed, Proc: proc}
}

var flyerExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".pdf": true}

// pending lists flyer files in the inbox in name order.
func (w *Watcher) pending() ([]string, error) {
	entries, err := os.ReadDir(w.Inbox)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if flyerExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Scan processes every flyer currently in the inbox.
func (w *Watcher) Scan(ctx context.Context) (Summary, error) {
	var sum Summary
	for _, dir := range []string{w.Inbox, w.Outbox, w.Done, w.Failed} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return sum, err
		}
	}

	names, err := w.pending()
	if err != nil {
		return sum, fmt.Errorf("scan inbox: %w", err)
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		written, err := w.convert(ctx, name)
		if err != nil {
			sum.Failed++
			if !errors.Is(err, extract.ErrResponseParse) {
				appLog.Warn("flyer left in inbox", "file", name, "err", err)
				continue
			}
			if mvErr := os.Rename(filepath.Join(w.Inbox, name), filepath.Join(w.Failed, name)); mvErr != nil {
				appLog.Error("move to failed", mvErr, "file", name)
				continue
			}
			sum.Rejected++
			appLog.Warn("flyer moved to failed", "file", name, "failed_dir", w.Failed, "err", err)
			continue
		}
		sum.Converted++
		sum.Written = append(sum.Written, written...)
	}

	if len(names) > 0 {
		appLog.Info("inbox scan finished", "converted", sum.Converted, "failed", sum.Failed, "rejected", sum.Rejected)
	}
	return sum, nil
}

func (w *Watcher) convert(ctx context.Context, name string) ([]string, error) {
	src := filepath.Join(w.Inbox, name)
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}

	results := w.Proc.Process(ctx, []model.Upload{{Name: name, Data: data}})
	if len(results) == 0 {
		return nil, errors.New("no result")
	}
	for _, r := range results {
		if !r.OK() {
			return nil, r.Err
		}
	}

	var written []string
	for _, r := range results {
		path, err := ics.WriteFile(w.Outbox, r.Filename, r.Calendar)
		if err != nil {
			return written, fmt.Errorf("write calendar: %w", err)
		}
		written = append(written, path)
	}

	if err := os.Rename(src, filepath.Join(w.Done, name)); err != nil {
		return written, fmt.Errorf("move to done: %w", err)
	}
	return written, nil
}

// Run scans once immediately and then on schedule until ctx is cancelled.
// Overlapping runs are skipped.
func (w *Watcher) Run(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	scan := func() {
		if _, err := w.Scan(ctx); err != nil && ctx.Err() == nil {
			appLog.Error("inbox scan failed", err, "inbox", w.Inbox)
		}
	}
	if _, err := c.AddFunc(schedule, scan); err != nil {
		return fmt.Errorf("watch schedule %q: %w", schedule, err)
	}

	appLog.Info("watching inbox", "inbox", w.Inbox, "outbox", w.Outbox, "schedule", schedule)
	scan()
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
