package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/specauthority/check/alignment"
	"github.com/c360studio/specauthority/check/contract"
	"github.com/c360studio/specauthority/check/persona"
	"github.com/c360studio/specauthority/compiler"
	"github.com/c360studio/specauthority/config"
	"github.com/c360studio/specauthority/evidence"
	"github.com/c360studio/specauthority/gate"
	"github.com/c360studio/specauthority/llm"
	"github.com/c360studio/specauthority/metrics"
	"github.com/c360studio/specauthority/pipeline"
	"github.com/c360studio/specauthority/registry"
	"github.com/c360studio/specauthority/source"
	"github.com/c360studio/specauthority/storage"
)

// app wires the configured components for one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store    storage.Store
	registry *registry.Registry
	compiler *compiler.Compiler
	gate     *gate.Gate
	recorder *evidence.Recorder
	runner   *pipeline.Runner
	personas *persona.Normalizer

	nc *nats.Conn
}

// newApp loads configuration, connects the store, and builds the component
// graph every subcommand works against.
func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	logger := setupLogging(flags.logLevel)

	cfg, err := loadConfig(flags.configPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	if err := a.connectStore(ctx); err != nil {
		return nil, err
	}

	client := llm.NewClient(llm.Endpoint{
		Provider: cfg.Model.Provider,
		URL:      cfg.Model.Endpoint,
		Model:    cfg.Model.Model,
	},
		llm.WithHTTPClient(&http.Client{Timeout: cfg.Model.Timeout}),
		llm.WithLogger(logger),
	)

	instruction, err := loadInstruction(cfg)
	if err != nil {
		return nil, err
	}
	compilerVersion := cfg.Compiler.Version
	if compilerVersion == "" {
		compilerVersion = Version
	}

	resolver := source.NewResolver(cfg.Sources.Root, source.WithResolverLogger(logger))
	a.registry = registry.New(a.store,
		registry.WithResolver(resolver),
		registry.WithLogger(logger))

	a.compiler = compiler.New(a.store, &compiler.LLMCaller{Client: client},
		instruction, compilerVersion, compiler.WithLogger(logger))

	a.gate = gate.New(a.store, gate.WithLogger(logger))

	checker := alignment.New(
		alignment.WithNegationProber(&alignment.LLMProber{Client: client}),
		alignment.WithLogger(logger))

	a.personas = persona.NewNormalizer(cfg.Enforcer.PersonaSynonyms)
	enforcer := contract.New(contract.Config{
		PointsEnabled:    cfg.Enforcer.PointsAllowed(),
		PointsMin:        cfg.Enforcer.PointsMin,
		PointsMax:        cfg.Enforcer.PointsMax,
		RequiredPersona:  cfg.Enforcer.RequiredPersona,
		AllowedTimeFrame: cfg.Enforcer.AllowedTimeFrame,
	}, a.personas)

	a.recorder = evidence.New(a.store, a.gate, checker, enforcer, Version,
		evidence.WithLogger(logger))

	generator := &pipeline.LLMGenerator{Client: client}
	a.runner = pipeline.NewRunner(a.store, a.recorder, checker, generator,
		pipeline.WithConcurrency(cfg.Pipeline.Concurrency),
		pipeline.WithRefiner(generator, cfg.Pipeline.MaxRefines),
		pipeline.WithPersonaCorrection(a.personas, cfg.Enforcer.RequiredPersona),
		pipeline.WithLogger(logger))

	if flags.metricsAddr != "" {
		a.serveMetrics(flags.metricsAddr)
	}

	return a, nil
}

// Close releases external connections.
func (a *app) Close() {
	if a.nc != nil {
		a.nc.Close()
	}
}

func setupLogging(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.NewLoader(logger).Load()
}

// connectStore selects NATS KV when a URL is configured, otherwise the
// in-memory store.
func (a *app) connectStore(ctx context.Context) error {
	if a.cfg.Store.NATSURL == "" {
		a.logger.Warn("No NATS URL configured, using in-memory store; state will not survive this process")
		a.store = storage.NewMemoryStore()
		return nil
	}

	nc, err := nats.Connect(a.cfg.Store.NATSURL,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", a.cfg.Store.NATSURL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	store, err := storage.NewKVStore(ctx, js)
	if err != nil {
		nc.Close()
		return fmt.Errorf("create KV store: %w", err)
	}

	a.logger.Info("Connected to NATS", slog.String("url", a.cfg.Store.NATSURL))
	a.nc = nc
	a.store = store
	return nil
}

// loadInstruction reads the pinned compile instruction. The configured file
// wins; without one the built-in instruction is used.
func loadInstruction(cfg *config.Config) (string, error) {
	if cfg.Compiler.InstructionPath == "" {
		return compiler.DefaultInstruction, nil
	}
	data, err := os.ReadFile(cfg.Compiler.InstructionPath)
	if err != nil {
		return "", fmt.Errorf("read compile instruction: %w", err)
	}
	return string(data), nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		a.logger.Info("Serving metrics", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			a.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()
}
