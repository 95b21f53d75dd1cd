// Command spiderfoot-core runs a single reconnaissance scan against one
// target using the core's built-in module set, writing the recorded
// findings to stdout as JSON lines once the scan ends, printing a one-line
// scan summary to stderr, and optionally writing a Markdown risk report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spiderfoot/core/aggregator"
	"github.com/spiderfoot/core/capabilities"
	"github.com/spiderfoot/core/config"
	"github.com/spiderfoot/core/dispatch"
	"github.com/spiderfoot/core/enrichment"
	"github.com/spiderfoot/core/host"
	"github.com/spiderfoot/core/modules"
	"github.com/spiderfoot/core/queue"
	"github.com/spiderfoot/core/ratelimit"
	"github.com/spiderfoot/core/repository"
	"github.com/spiderfoot/core/resolver"
	"github.com/spiderfoot/core/target"
	"github.com/spiderfoot/core/telemetry/logging"
	"github.com/spiderfoot/core/telemetry/metrics"
)

func main() {
	var (
		targetValue string
		targetType  string
		configPath  string
		scanID      string
		workers     int
		timeout     time.Duration
		reportPath  string
		showVersion bool
	)

	flag.StringVar(&targetValue, "target", "", "Scan target value (domain, IP, etc.)")
	flag.StringVar(&targetType, "target-type", "INTERNET_NAME", "Scan target type (INTERNET_NAME, IP_ADDRESS, ...)")
	flag.StringVar(&configPath, "config", "spiderfoot-core.yaml", "Path to YAML config file")
	flag.StringVar(&scanID, "scan-id", "", "Scan identifier (defaults to a timestamp-derived ID)")
	flag.IntVar(&workers, "workers", 0, "Dispatch worker count (0 = config/CPU default)")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Overall scan deadline")
	flag.StringVar(&reportPath, "report", "", "Optional path to write the Markdown risk report")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("spiderfoot-core 1.0.0")
		return
	}
	if targetValue == "" {
		fmt.Fprintln(os.Stderr, "a -target is required")
		os.Exit(1)
	}
	if scanID == "" {
		scanID = fmt.Sprintf("scan-%d", time.Now().Unix())
	}

	mgr := config.NewManager(configPath)
	if err := mgr.Load(); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := mgr.Current()
	if workers == 0 {
		workers = cfg.Workers
	}

	logger := logging.New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Telemetry.LogLevel)})))
	metricsProvider := buildMetricsProvider(cfg.Telemetry)

	mods := []dispatch.Module{modules.NewDNSResolver(), modules.NewSpider()}

	caps := capabilities.Default()
	r := resolver.New()
	names := make([]string, 0, len(mods))
	for _, m := range mods {
		caps.Register(capabilities.Declaration{
			ModuleName: m.Name(),
			Tags:       []string{"builtin"},
		})
		r.Register(resolver.Descriptor{
			Name:           m.Name(),
			WatchedEvents:  m.WatchedEvents(),
			ProducedEvents: m.ProducedEvents(),
			Enabled:        true,
		})
		names = append(names, m.Name())
	}
	if conflicts := caps.FindConflicts(names); len(conflicts) > 0 {
		log.Fatalf("module set has capability conflicts: %v", conflicts)
	}

	plan := r.Resolve(resolver.Request{RequiredModules: names})
	if plan.Status != resolver.StatusOK {
		log.Fatalf("module resolution failed: status=%s missing=%v circular=%v", plan.Status, plan.MissingEvents, plan.CircularChains)
	}

	qCfg := queue.Config{Capacity: cfg.Queue.Capacity, BackpressureAction: backpressureAction(cfg.Queue.BackpressureAction)}
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	repo := repository.NewInMemory()
	agg := aggregator.New(scanID)

	engine, err := dispatch.New(dispatch.Config{
		ScanID:     scanID,
		Modules:    mods,
		LoadOrder:  plan.LoadOrder,
		Workers:    workers,
		Queue:      qCfg,
		Enrichment: builtinEnrichment(),
		Aggregator: agg,
		Repository: repo,
		Logger:     logger,
		Metrics:    metricsProvider,
	})
	if err != nil {
		log.Fatalf("construct dispatch engine: %v", err)
	}

	// The host's sole emit target is the engine, so it can only be built
	// once the engine exists; engine.AttachHost closes the loop.
	hst, err := host.New(host.Config{
		ScanID:         scanID,
		DefaultTimeout: cfg.HTTP.RequestTimeout,
		UserAgent:      cfg.HTTP.UserAgent,
		Limiter:        limiter,
	}, engine.Emit)
	if err != nil {
		log.Fatalf("construct module host: %v", err)
	}
	engine.AttachHost(hst)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.InfoCtx(ctx, "signal received; stopping scan")
		engine.Stop()
	}()

	status, err := engine.Run(ctx, target.Target{Value: targetValue, Type: targetType})
	if err != nil {
		log.Fatalf("scan run failed: %v", err)
	}

	stats := engine.Stats()
	fmt.Fprintf(os.Stderr, "scan %s finished: status=%s events=%d invocations=%d errors=%d duplicates=%d rejected=%d\n",
		scanID, status, stats.EventsProcessed, stats.ModuleInvocations, stats.ModuleErrors, stats.Duplicates, stats.QueueRejected)

	events, err := repo.ReadEvents(scanID, "")
	if err != nil {
		log.Fatalf("read events: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			logger.WarnCtx(ctx, "encode event failed", "error", err)
		}
	}

	if reportPath != "" {
		report, err := agg.RenderMarkdownReport()
		if err != nil {
			log.Fatalf("render report: %v", err)
		}
		if err := os.WriteFile(reportPath, []byte(report), 0o644); err != nil {
			log.Fatalf("write report: %v", err)
		}
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func backpressureAction(s string) queue.BackpressureAction {
	switch s {
	case "reject":
		return queue.ActionReject
	case "drop_oldest":
		return queue.ActionDropOldest
	default:
		return queue.ActionBlock
	}
}

func buildMetricsProvider(cfg config.TelemetryConfig) metrics.Provider {
	if !cfg.MetricsEnabled {
		return metrics.NewNoopProvider()
	}
	switch cfg.MetricsBackend {
	case "otel":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: "spiderfoot-core"})
	case "prometheus", "":
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	default:
		return metrics.NewNoopProvider()
	}
}

func builtinEnrichment() *enrichment.Pipeline {
	p := enrichment.New()
	p.Register(enrichment.TagInference, enrichment.PriorityNormal, nil)
	p.Register(enrichment.DataSizeAnnotation, enrichment.PriorityLow, nil)
	return p
}
