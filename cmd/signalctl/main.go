package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/conference-signal/internal/config"
	"github.com/rickgao/conference-signal/internal/database"
	"github.com/rickgao/conference-signal/internal/hub"
	"github.com/rickgao/conference-signal/internal/journal"
	"github.com/rickgao/conference-signal/internal/metrics"
	"github.com/rickgao/conference-signal/internal/signal"
	"github.com/rickgao/conference-signal/internal/store"
	"github.com/rickgao/conference-signal/internal/version"
)

// closeTimeout bounds how long shutdown waits for the hub to close.
const closeTimeout = 5 * time.Second

type flags struct {
	configPath string
	conference string
	invoke     string
	payload    string
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "configs/signalctl.yaml", "path to config file")
	flag.StringVar(&f.conference, "conference", "", "conference id (overrides conference.id)")
	flag.StringVar(&f.invoke, "invoke", "", "hub method to invoke once joined")
	flag.StringVar(&f.payload, "payload", "", "JSON argument for -invoke")
	flag.Parse()

	// Bootstrap logger until the config is loaded
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting signalctl",
		version.Attr(),
		"config", f.configPath,
	)

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, f); err != nil {
		slog.Error("signalctl failed", "error", err)
		os.Exit(1)
	}
	slog.Info("signalctl stopped")
}

func run(ctx context.Context, f flags) error {
	// Load configuration
	cfg, err := config.LoadWithDefaults(f.configPath)
	if err != nil {
		return err
	}
	if f.conference != "" {
		cfg.Conference.ID = f.conference
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	plan := joinPlan{Events: cfg.Conference.Events, Invoke: f.invoke}
	if f.payload != "" {
		if !json.Valid([]byte(f.payload)) {
			return errors.New("-payload is not valid JSON")
		}
		plan.Payload = json.RawMessage(f.payload)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"hub_url", cfg.Hub.URL,
		"conference_id", cfg.Conference.ID,
		"journal", cfg.Journal.Enabled,
		"metrics_port", cfg.Metrics.Port,
	)

	m := metrics.New()
	middlewares := []store.Middleware[appState]{logActions(logger), metrics.Middleware[appState](m)}

	// Optional journal
	var jw *journal.Writer
	if cfg.Journal.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Journal.Database.Host,
			"port", cfg.Journal.Database.Port,
			"database", cfg.Journal.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()

		if err := journal.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		jcfg := journal.DefaultConfig()
		jcfg.BatchSize = cfg.Journal.BatchSize
		jcfg.FlushInterval = cfg.Journal.FlushInterval

		jw = journal.NewWriter(jcfg, pool, logger.With("component", "journal"))
		if err := jw.Start(context.Background()); err != nil {
			return err
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			jw.Stop(stopCtx)
		}()

		middlewares = append(middlewares, journal.Middleware[appState](jw))
	}

	bridge := signal.NewBridge(signal.Options[appState]{
		BaseURL:     cfg.Hub.URL,
		AccessToken: func(s appState) string { return s.AccessToken },
		Factory:     hub.Factory(hubConfig(cfg.Hub), logger.With("component", "hub")),
		Logger:      logger,
	})
	middlewares = append(middlewares, bridge.Middleware(), followUp(plan))

	st := store.New(
		store.DefaultConfig(),
		appState{AccessToken: cfg.Hub.AccessToken, Phase: phaseIdle},
		reduce,
		logger,
		middlewares...,
	)

	// Terminal outcomes end the run
	outcome := make(chan error, 1)
	closed := make(chan struct{}, 1)
	st.Subscribe(func(a store.Action, _ appState) {
		if _, ok := a.(signal.ConnectionClosed); ok {
			select {
			case closed <- struct{}{}:
			default:
			}
		}
		if done, err := runOutcome(a); done {
			select {
			case outcome <- err:
			default:
			}
		}
	})

	if err := registerMetrics(m, st, bridge.Manager(), jw); err != nil {
		return err
	}

	if cfg.Metrics.Port > 0 {
		mux := createHealthHandler(st, bridge.Manager(), jw)
		mux.Handle(cfg.Metrics.Path, m.Handler())

		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		metricsServer := &http.Server{
			Addr:    addr,
			Handler: mux,
		}
		go func() {
			logger.Info("starting metrics server", "addr", addr, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
	}

	// The store outlives ctx so the final Close still runs through it.
	storeCtx, stopStore := context.WithCancel(context.Background())
	defer stopStore()

	g := new(errgroup.Group)
	g.Go(func() error {
		err := st.Run(storeCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		defer stopStore()

		st.Dispatch(signal.JoinConference{ConferenceID: cfg.Conference.ID})

		var result error
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
		case result = <-outcome:
			if result != nil {
				logger.Error("conference ended", "error", result)
			}
		}

		connected := bridge.Connection() != nil
		st.Dispatch(signal.Close{})

		if connected {
			select {
			case <-closed:
			case <-time.After(closeTimeout):
				logger.Warn("hub close timed out")
			}
		}
		return result
	})

	return g.Wait()
}

// newLogger builds the logger described by the log config section.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
