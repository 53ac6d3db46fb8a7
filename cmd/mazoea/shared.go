package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jkaninda/mazoea/internal/breaks"
	"github.com/jkaninda/mazoea/internal/catalog"
	"github.com/jkaninda/mazoea/internal/config"
	"github.com/jkaninda/mazoea/internal/domain"
	"github.com/jkaninda/mazoea/internal/lifecycle"
	"github.com/jkaninda/mazoea/internal/llm"
	"github.com/jkaninda/mazoea/internal/llm/openai"
	"github.com/jkaninda/mazoea/internal/observability"
	"github.com/jkaninda/mazoea/internal/significance"
	"github.com/jkaninda/mazoea/internal/storage"
	pgstore "github.com/jkaninda/mazoea/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/mazoea/internal/storage/sqlite"
)

// SharedComponents holds the subsystems that both server and MCP modes
// require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    storage.Store
	Obs      *observability.Observability // nil = observability disabled.
	Engine   *lifecycle.Engine
	Detector *breaks.Detector
	Facade   *catalog.Facade

	// Requester is non-nil only when significance notes are enabled.
	Requester *significance.Requester

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs the common initialization shared between server and
// MCP modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", cfg.DataDir, err)
		}
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}
	registry := obs.Registry()

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Run migrations.
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// Lifecycle engine.
	engine := lifecycle.New(
		store.Rituals(),
		store.Occurrences(),
		lifecycle.NewMetrics(registry),
		logger,
		lifecycle.Config{
			EstablishThreshold: cfg.Detection.Threshold(),
			FadeAfterIdle:      cfg.Detection.FadeAfterIdle(),
		},
	)
	sc.Engine = engine

	// Break detector.
	start, end := cfg.Breaks.FarewellWindow()
	window, err := breaks.ParseWindow(start, end)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("parsing farewell window: %w", err)
	}
	expectations := breaks.DefaultExpectations()
	expectations[domain.PatternFarewell] = breaks.Expectation{Window: window}
	detector := breaks.NewDetector(store.Breaks(), store.Rituals(), expectations, breaks.NewMetrics(registry), logger)
	sc.Detector = detector
	engine.WithBreakResolver(detector)

	// Catalog façade.
	sc.Facade = catalog.NewFacade(store.Rituals(), store.Breaks(), 0)

	// Significance notes (optional).
	if cfg.Significance != nil && cfg.Significance.Enabled {
		provider, err := newLLMProvider(cfg, sc, logger)
		if err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("initializing LLM provider: %w", err)
		}
		requester := significance.NewRequester(
			significance.NewLLMGenerator(provider),
			engine,
			logger,
			significance.WithTimeout(cfg.Significance.Timeout()),
			significance.WithMaxConcurrent(cfg.Significance.Concurrency()),
		)
		sc.Requester = requester
		engine.WithSignificance(requester)
		// Let in-flight note generations finish before the store closes.
		sc.addCleanup(requester.Wait)
		logger.Debug("significance notes enabled",
			slog.String("model", cfg.Significance.SignificanceModel()),
		)
	}

	// Readiness checks.
	if obs != nil && obs.Health != nil {
		if cfg.Observability.Health != nil && cfg.Observability.Health.IncludeDB {
			obs.Health.AddCheck("database", store.Ping)
		}
	}

	return sc, nil
}

// initStore opens the configured storage backend.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.StorageDriver() {
	case storage.DriverPostgres:
		pg := cfg.Storage.Postgres
		db, err := pgstore.Open(pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
		if err != nil {
			return nil, err
		}
		return pgstore.NewStore(db), nil
	default:
		journalMode := ""
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
		return sqlitestore.Open(sqlitestore.Config{
			Path:        cfg.SQLitePath(),
			JournalMode: journalMode,
		}, logger)
	}
}

// newLLMProvider builds the significance note provider, instrumented when
// metrics are enabled.
func newLLMProvider(cfg *config.Config, sc *SharedComponents, logger *slog.Logger) (llm.Provider, error) {
	sig := cfg.Significance
	if sig.APIKey == "" {
		return nil, fmt.Errorf("significance enabled but no API key configured")
	}

	var opts []openai.Option
	if sig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(sig.BaseURL))
	}
	var provider llm.Provider = openai.NewClient(sig.APIKey, sig.SignificanceModel(), logger, opts...)

	if sc.Obs != nil && sc.Obs.Metrics != nil {
		provider = observability.NewInstrumentedProvider(provider, sc.Obs.Metrics, sc.Obs.TracerOrNil(), sc.Obs.Anomaly)
	}
	return provider, nil
}
