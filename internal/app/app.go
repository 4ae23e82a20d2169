// v0
// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"nrgchamp/housebrain/internal/breaker"
	"nrgchamp/housebrain/internal/config"
	"nrgchamp/housebrain/internal/httpapi"
	"nrgchamp/housebrain/internal/journal"
	"nrgchamp/housebrain/internal/metrics"
	"nrgchamp/housebrain/internal/store"
)

// Options overrides collaborators that New would otherwise build from the
// configuration.
type Options struct {
	Logger *slog.Logger
	// AccessLog receives combined-format HTTP access lines.
	AccessLog io.Writer
	Platform  *Platform
	Journal   journal.Journal
	Metrics   *metrics.Metrics
}

// Application wires configuration, the instance manager, the control
// surface and graceful shutdown.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	plat    *Platform
	journal journal.Journal
	manager *Manager
	server  *http.Server
}

// New loads the instance records and builds every collaborator.
func New(ctx context.Context, cfg config.Config, opts Options) (*Application, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return nil, errors.New("listen address cannot be empty")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	records, err := store.Open(cfg.InstancesPath)
	if err != nil {
		return nil, fmt.Errorf("load instances: %w", err)
	}

	plat := opts.Platform
	if plat == nil {
		plat, err = OpenPlatform(ctx, cfg, m, logger.With("component", "platform"))
		if err != nil {
			return nil, fmt.Errorf("platform %s: %w", cfg.PlatformMode, err)
		}
	}

	jr := opts.Journal
	if jr == nil {
		jr = openJournal(ctx, cfg, m, logger)
	}

	manager, err := NewManager(cfg, ManagerDeps{Store: records, Platform: plat, Metrics: m, Journal: jr}, logger)
	if err != nil {
		plat.Close()
		_ = jr.Close(ctx)
		return nil, err
	}

	router := httpapi.NewRouter(logger, manager, m, opts.AccessLog)
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout + cfg.LLMTimeout,
		IdleTimeout:       cfg.HTTPWriteTimeout,
	}

	return &Application{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		plat:    plat,
		journal: jr,
		manager: manager,
		server:  server,
	}, nil
}

func openJournal(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) journal.Journal {
	if !cfg.JournalEnabled() {
		logger.Info("journal_disabled")
		return journal.Nop{}
	}
	jcfg := journal.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.JournalTopic}
	if err := journal.EnsureTopic(ctx, jcfg); err != nil {
		logger.Warn("journal_topic_ensure_failed", "topic", jcfg.Topic, "error", err)
	}
	brk := newBreaker("kafka", cfg.Breaker, m, logger, nil)
	retry := breaker.Retry{Attempts: 3, AttemptTimeout: cfg.Breaker.AttemptTimeout, Backoff: cfg.Breaker.Backoff}
	logger.Info("journal_enabled", "brokers", strings.Join(cfg.KafkaBrokers, ","), "topic", jcfg.Topic)
	return journal.NewKafka(jcfg, brk, retry, logger)
}

// Logger exposes the configured logger.
func (a *Application) Logger() *slog.Logger { return a.logger }

// Manager exposes the instance manager.
func (a *Application) Manager() *Manager { return a.manager }

// Handler exposes the HTTP control surface.
func (a *Application) Handler() http.Handler { return a.server.Handler }

// Run starts every loop and serves HTTP until ctx is cancelled or the
// server fails, then shuts the server down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.manager.Start(ctx)

	httpCh := make(chan error, 1)
	go func() {
		a.logger.Info("http_server_listen", slog.String("address", a.cfg.ListenAddress))
		httpCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-httpCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http_server_error", slog.Any("err", err))
			return err
		}
		a.logger.Info("server_closed")
		return nil
	case <-ctx.Done():
		a.logger.Info("shutdown_signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer shutdownCancel()
	var httpErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("server_shutdown_failed", slog.Any("err", err))
		httpErr = fmt.Errorf("shutdown: %w", err)
	}
	if err := <-httpCh; err != nil && !errors.Is(err, http.ErrServerClosed) && httpErr == nil {
		httpErr = err
	}
	return httpErr
}

// Close stops the loops, drains the journal and disconnects the platform.
func (a *Application) Close() error {
	a.manager.Close()
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	err := a.journal.Close(ctx)
	a.plat.Close()
	if err != nil {
		return fmt.Errorf("journal close: %w", err)
	}
	return nil
}
