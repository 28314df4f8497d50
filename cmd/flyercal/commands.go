package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"flyercal/internal/capture"
	"flyercal/internal/config"
	"flyercal/internal/ics"
	appLog "flyercal/internal/log"
	"flyercal/internal/model"
	"flyercal/internal/pipeline"
	"flyercal/internal/slug"
	"flyercal/internal/watch"
	"flyercal/internal/web"
)

func (a *app) serve(ctx context.Context) error {
	s := web.NewServer(a.cfg, a.pipeline, a.registry)
	return web.ListenAndServe(ctx, a.cfg, s.Handler())
}

func (a *app) watch(ctx context.Context) error {
	w := watch.New(a.cfg.Watch, a.pipeline)
	return w.Run(ctx, a.cfg.Watch.Cron)
}

// convert processes the named files and writes one .ics per flyer.
func (a *app) convert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	out := fs.String("out", ".", "Directory for generated .ics files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("convert: no input files")
	}

	uploads := make([]model.Upload, 0, fs.NArg())
	var readErrs []error
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			readErrs = append(readErrs, err)
			appLog.Error("cannot read flyer", err, "file", path)
			continue
		}
		uploads = append(uploads, model.Upload{Name: filepath.Base(path), Data: data})
	}

	failed := len(readErrs)
	for _, r := range a.pipeline.Process(ctx, uploads) {
		if !r.OK() {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL %s\n", pipeline.Describe(r))
			continue
		}
		path, err := ics.WriteFile(*out, r.Filename, r.Calendar)
		if err != nil {
			failed++
			appLog.Error("cannot write calendar", err, "file", r.Source)
			continue
		}
		for _, w := range r.Warnings {
			fmt.Fprintf(os.Stderr, "WARN %s: %s\n", r.Source, w)
		}
		fmt.Printf("OK   %s -> %s\n", r.Source, path)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d flyer(s) failed", failed)
	}
	return nil
}

// previewHook renders a PNG card next to each successful conversion.
func previewHook(cfg *config.Config) func(context.Context, model.Result) {
	loc := cfg.Location()
	return func(ctx context.Context, r model.Result) {
		if !r.OK() || r.Event == nil {
			return
		}
		name := strings.TrimSuffix(r.Filename, filepath.Ext(r.Filename))
		if name == "" {
			name = slug.FallbackName
		}
		out := filepath.Join(cfg.Preview.Dir, name+".png")
		err := capture.RenderEventCard(ctx, *r.Event, capture.CardOptions{
			OutputPath: out,
			Width:      cfg.Preview.Width,
			Height:     cfg.Preview.Height,
			Location:   loc,
		})
		if err != nil {
			appLog.Warn("event card preview failed", "file", r.Source, "err", err)
			return
		}
		appLog.Info("event card preview written", "file", r.Source, "path", out)
	}
}

// runInspect prints the events of one calendar file.
func runInspect(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: flyercal inspect file.ics")
		return 2
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		appLog.Error("cannot read calendar", err, "file", args[0])
		return 1
	}
	events, err := ics.Parse(data)
	if err != nil {
		appLog.Error("cannot parse calendar", err, "file", args[0])
		return 1
	}
	for _, ev := range events {
		fmt.Printf("UID:      %s\nSummary:  %s\nStart:    %s\nEnd:      %s\nLocation: %s\nDetails:  %s\n\n",
			ev.UID, ev.Summary, ev.Start.Format("2006-01-02 15:04 MST"), ev.End.Format("2006-01-02 15:04 MST"),
			ev.Location, ev.Description)
	}
	if len(events) == 0 {
		fmt.Println("no events")
	}
	return 0
}
