// Package main implements the livebind binary: it binds local properties
// to live NATS JetStream KV data from a declarative configuration file and
// serves the debug gateway and Prometheus metrics until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/livebind/binding"
	"github.com/c360/livebind/config"
	"github.com/c360/livebind/gateway"
	"github.com/c360/livebind/metric"
	"github.com/c360/livebind/natsclient"
	"github.com/c360/livebind/natssync"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "livebind"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Add panic recovery
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
	configPath := flag.String("config", "", "path to the binding configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if *configPath == "" {
		return fmt.Errorf("usage: %s -config <file>", appName)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := natsclient.Connect(cfg.NATS.URL,
		natsclient.WithName(appName),
		natsclient.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	registry, err := metric.NewRegistry()
	if err != nil {
		return err
	}

	// The gateway's refs projection late-binds to the binder created below.
	var binder *binding.Binder
	refs := func() map[string]string {
		if binder == nil {
			return map[string]string{}
		}
		return binder.Refs()
	}

	var gw *gateway.Server
	binderOpts := []binding.BinderOption{
		binding.WithContext(ctx),
		binding.WithDefaults(cfg.DefaultOptions()),
		binding.WithLogger(logger),
		binding.WithMetrics(registry.Bindings()),
	}
	if cfg.Gateway.Addr != "" {
		gw = gateway.NewServer(cfg.Gateway.Addr, refs,
			gateway.WithLogger(logger),
			gateway.WithMetricsHandler(metric.NewServer(0, "", registry).Handler()))
		if err := gw.Start(); err != nil {
			return err
		}
		defer func() { _ = gw.Stop(shutdownTimeout) }()
		binderOpts = append(binderOpts, binding.WithObserver(gw.Publish))
		logger.Info("gateway listening", "addr", cfg.Gateway.Addr)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Port != 0 {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		if err := metricsServer.Start(); err != nil {
			return err
		}
		defer func() { _ = metricsServer.Stop(shutdownTimeout) }()
		logger.Info("metrics listening", "port", cfg.Metrics.Port)
	}

	props := binding.NewMapProperties()
	binder, err = binding.New(props, &natssync.ValueSynchronizer{Logger: logger}, &natssync.ListSynchronizer{Logger: logger}, binderOpts...)
	if err != nil {
		return err
	}

	if err := establishBindings(ctx, client, binder, props, cfg, logger); err != nil {
		_ = binder.Close()
		return err
	}

	logger.Info("bindings established", "count", len(cfg.Bindings), "refs", binder.Refs())

	<-ctx.Done()
	logger.Info("shutting down")
	if err := binder.Close(); err != nil {
		logger.Warn("binder teardown reported errors", "error", err)
	}
	return nil
}

// establishBindings binds every declared property, logging each result as
// it settles.
func establishBindings(
	ctx context.Context, client *natsclient.Client, binder *binding.Binder,
	props binding.Properties, cfg *config.Config, logger *slog.Logger,
) error {
	for _, bc := range cfg.Bindings {
		kv, err := client.Bucket(ctx, bc.Bucket)
		if err != nil {
			return err
		}

		var result *binding.Result
		switch bc.BindingMode() {
		case binding.ModeList:
			props.Set(bc.Key, []any{})
			src := natssync.QueryRef{Bucket: kv, BucketName: bc.Bucket, Prefix: bc.Prefix}
			result, err = binder.BindList(bc.Key, src, bc.BindOptions()...)
		default:
			src := natssync.KeyRef{Bucket: kv, BucketName: bc.Bucket, Key: bc.KVKey}
			result, err = binder.BindValue(bc.Key, src, bc.BindOptions()...)
		}
		if err != nil {
			return err
		}

		go func(key string, result *binding.Result) {
			snapshot, err := result.Await(ctx)
			if err != nil {
				logger.Warn("binding failed", "key", key, "error", err)
				return
			}
			logger.Info("binding resolved", "key", key, "snapshot", snapshot)
		}(bc.Key, result)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
