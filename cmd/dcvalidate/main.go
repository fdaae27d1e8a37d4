// Package main implements the entry point for the dcvalidate worker.
// The worker dequeues validation jobs from JetStream, evaluates data-center
// power devices against JSON-declared and code-implemented rules, and
// publishes scored results.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/dcvalidate/coderule"
	"github.com/c360/dcvalidate/config"
	"github.com/c360/dcvalidate/device"
	"github.com/c360/dcvalidate/expression"
	"github.com/c360/dcvalidate/metric"
	"github.com/c360/dcvalidate/pipeline"
	"github.com/c360/dcvalidate/queue"
	"github.com/c360/dcvalidate/repository"
	"github.com/c360/dcvalidate/rules"
	"github.com/c360/dcvalidate/service"
	"github.com/c360/dcvalidate/types"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "dcvalidate"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (built %s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(
		firstNonEmpty(cliCfg.LogLevel, cfg.Logging.Level),
		firstNonEmpty(cliCfg.LogFormat, cfg.Logging.Format))
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("Starting dcvalidate worker",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"nats_url", cfg.NATS.URL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.NATS.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait.Std()))
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() {
		if err := nc.Drain(); err != nil {
			slog.Error("NATS drain failed", "error", err)
		}
	}()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	registry := metric.NewRegistry()
	if cfg.Metrics.Enabled {
		metricServer := metric.NewServer(cfg.Metrics.Port, "/metrics", registry)
		if err := metricServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricServer.Stop(shutdownCtx); err != nil {
				slog.Error("Metrics server shutdown failed", "error", err)
			}
		}()
	}

	worker, err := buildWorker(ctx, cfg, js, registry)
	if err != nil {
		return err
	}

	return worker.Run(ctx)
}

// buildWorker wires the rule store, repositories, both pipeline engines and
// the queue into a worker.
func buildWorker(ctx context.Context, cfg config.Config, js jetstream.JetStream, registry *metric.Registry) (*service.Worker, error) {
	store, err := rules.NewKVStore(ctx, js, cfg.Rules.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}

	evaluators := coderule.DefaultEvaluators()
	codeRules := make([]rules.CodeRule, 0, len(evaluators))
	for _, ev := range evaluators {
		codeRules = append(codeRules, ev)
	}
	if err := rules.RegisterCodeRules(ctx, store, cfg.Rules.CodeRuleSet, codeRules); err != nil {
		return nil, fmt.Errorf("register code rules: %w", err)
	}

	builder := expression.NewBuilder()
	loader := rules.NewLoader(store, builder)

	devices, err := repository.NewKVDeviceRepository(ctx, js, cfg.Storage.DeviceBucket)
	if err != nil {
		return nil, fmt.Errorf("open device repository: %w", err)
	}
	readings, err := repository.NewKVReadingSource(ctx, js, cfg.Storage.ReadingsBucket)
	if err != nil {
		return nil, fmt.Errorf("open reading source: %w", err)
	}
	runs, err := repository.NewKVRunRepository(ctx, js, cfg.Storage.RunsBucket)
	if err != nil {
		return nil, fmt.Errorf("open run repository: %w", err)
	}

	sink, err := pipeline.NewJetStreamSink(js, cfg.Pipeline.ResultsSubject)
	if err != nil {
		return nil, fmt.Errorf("create result sink: %w", err)
	}
	pipeMetrics, err := pipeline.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("register pipeline metrics: %w", err)
	}

	desc := device.Schema()
	enrichers := []pipeline.Enricher{
		pipeline.NewTopologyEnricher(devices),
		pipeline.NewLiveReadingsEnricher(readings),
	}
	pipeCfg := pipeline.Config{
		Parallelism:          cfg.Pipeline.Parallelism,
		BufferCapacity:       cfg.Pipeline.BufferCapacity,
		PersistenceBatchSize: cfg.Pipeline.PersistenceBatchSize,
		ProcessTimeout:       cfg.Pipeline.ProcessTimeout.Std(),
		DrainTimeout:         cfg.Pipeline.DrainTimeout.Std(),
	}

	jsonEngine, err := pipeline.NewEngine(pipeCfg,
		pipeline.NewEntityRuleProducer(loader, desc),
		enrichers,
		pipeline.NewRuleTransformer(builder, desc),
		[]pipeline.Sink{sink},
		pipeline.WithMetrics(pipeMetrics))
	if err != nil {
		return nil, fmt.Errorf("build JSON rule engine: %w", err)
	}

	codeEngine, err := pipeline.NewEngine(pipeCfg,
		pipeline.NewCodeRuleProducer(loader, desc),
		enrichers,
		coderule.NewTransformer(evaluators),
		[]pipeline.Sink{sink},
		pipeline.WithMetrics(pipeMetrics))
	if err != nil {
		return nil, fmt.Errorf("build code rule engine: %w", err)
	}

	jobQueue, err := queue.NewJetStreamQueue(ctx, js, queue.JetStreamConfig{
		Stream:       cfg.Queue.Stream,
		Subject:      cfg.Queue.Subject,
		Durable:      cfg.Queue.Durable,
		Visibility:   cfg.Queue.Visibility.Std(),
		FetchMaxWait: cfg.Queue.FetchMaxWait.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("open job queue: %w", err)
	}

	deadLetter, err := service.NewJetStreamDeadLetter(js, cfg.Queue.DeadLetterSubject)
	if err != nil {
		return nil, fmt.Errorf("create dead-letter publisher: %w", err)
	}
	workerMetrics, err := service.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("register worker metrics: %w", err)
	}

	runners := map[types.ValidationType]service.Runner{
		types.ValidationJSONRule: jsonEngine,
		types.ValidationCodeRule: codeEngine,
		// Data-center aggregate checks ride the code rule engine.
		types.ValidationDataCenter: codeEngine,
	}

	return service.NewWorker(service.Config{
		DequeueBatch:    cfg.Worker.DequeueBatch,
		RatePerSecond:   cfg.Worker.RatePerSecond,
		RateBurst:       cfg.Worker.RateBurst,
		RetryDelay:      cfg.Worker.RetryDelay.Std(),
		MaxDequeueCount: cfg.Queue.MaxDequeueCount,
		DefaultRuleSets: map[types.ValidationType]string{
			types.ValidationJSONRule:   cfg.Rules.JSONRuleSet,
			types.ValidationCodeRule:   cfg.Rules.CodeRuleSet,
			types.ValidationDataCenter: cfg.Rules.CodeRuleSet,
		},
	}, jobQueue, runners, runs,
		service.WithDeadLetter(deadLetter),
		service.WithWorkerMetrics(workerMetrics))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
