package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"flyercal/internal/config"
	"flyercal/internal/event"
	"flyercal/internal/extract"
	"flyercal/internal/flyer"
	"flyercal/internal/ics"
	appLog "flyercal/internal/log"
	"flyercal/internal/metrics"
	"flyercal/internal/pipeline"
	"flyercal/internal/prompt"
)

const version = "0.1.0"

const usage = `usage: flyercal [-config path] <command> [args]

commands:
  serve              run the upload UI and API (default)
  convert [-out dir] files...
                     convert flyers to .ics files
  watch              convert flyers dropped into the inbox on a schedule
  inspect file.ics   print the events of a calendar file
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("flyercal", flag.ContinueOnError)
	configPath := fs.String("config", "flyercal.yaml", "Path to config file")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cmd, rest := "serve", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	// inspect needs neither configuration nor credentials. Unknown commands
	// are rejected before either is touched.
	switch cmd {
	case "inspect":
		return runInspect(rest)
	case "serve", "convert", "watch":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog.Info("flyercal starting", "version", version, "command", cmd)

	conf, err := loadConfig(*configPath)
	if err != nil {
		appLog.Error("invalid configuration", err, "config_path", *configPath)
		return 1
	}

	app, err := newApp(ctx, conf)
	if err != nil {
		appLog.Error("startup failed", err)
		return 1
	}

	switch cmd {
	case "serve":
		err = app.serve(ctx)
	case "convert":
		err = app.convert(ctx, rest)
	case "watch":
		err = app.watch(ctx)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			appLog.Info("interrupted")
			return 130
		}
		appLog.Error("command failed", err, "command", cmd)
		return 1
	}
	appLog.Info("flyercal exiting")
	return 0
}

// loadConfig loads, validates and applies the configuration once.
func loadConfig(path string) (*config.Config, error) {
	conf, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := appLog.SetLevelString(conf.LogLevel); err != nil {
		return nil, &config.ConfigurationError{Field: "log_level", Reason: err.Error()}
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"model", conf.Model.Name,
		"api_key", conf.Redacted().Model.APIKey,
		"timeout_seconds", conf.Model.TimeoutSeconds,
		"attempts", conf.Model.Attempts,
		"dpi", conf.Render.DPI,
		"preview", conf.Preview.Enabled,
	)
	return conf, nil
}

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	client, err := extract.NewGeminiClient(ctx, extract.GeminiOptions{
		APIKey: cfg.Model.APIKey,
		Model:  cfg.Model.Name,
	})
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Model.Timeout())
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("model credential check: %w", err)
	}
	appLog.Info("model credential verified", "model", client.Model())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	p := &pipeline.Pipeline{
		Images: flyer.NewNormalizer(cfg.Render.DPI),
		Extractor: extract.WithPolicy(client, extract.Policy{
			Timeout:  cfg.Model.Timeout(),
			Attempts: cfg.Model.Attempts,
			Backoff:  cfg.Model.Backoff(),
		}),
		Fields:  event.NewNormalizer(cfg.Location()),
		Encoder: ics.NewEncoder(),
		Prompt:  prompt.Build(),
	}
	if cfg.Preview.Enabled {
		p.OnResult = previewHook(cfg)
	}
	return &app{cfg: cfg, pipeline: p, registry: reg}, nil
}
