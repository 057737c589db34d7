package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/potally/internal/adapters/discord"
	"github.com/okian/potally/internal/adapters/http/api"
	"github.com/okian/potally/internal/adapters/http/swagger"
	"github.com/okian/potally/internal/adapters/repository"
	service "github.com/okian/potally/internal/app"
	"github.com/okian/potally/internal/config"
	"github.com/okian/potally/internal/domain/ranking"
	"github.com/okian/potally/internal/domain/resync"
	"github.com/okian/potally/pkg/logger"
	"github.com/okian/potally/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	systemMetricsInterval  = 10 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	// Only the custom registry is exposed; drop the default Go collectors.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (.env -> defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.JSONLogs() {
		if err := logger.Init(logger.WithJSON(true)); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	backend, err := repository.OpenBackend(ctx, cfg.Backend())
	if err != nil {
		return fmt.Errorf("failed to open %s backend: %w", cfg.StoreBackend, err)
	}

	svc := service.New(serviceOptions(cfg, backend, log)...)
	if err := svc.Start(ctx); err != nil {
		_ = backend.Close()
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Stop()

	sess, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}
	bot, err := discord.New(sess, svc, cfg.TargetChannelID,
		discord.WithLogger(log.Named("discord")),
		discord.WithAdmins(cfg.AdminUserIDs...),
		discord.WithResyncOnStartup(cfg.ResyncOnStartup),
		discord.WithDefaultLimit(cfg.DefaultLeaderboardLimit),
		discord.WithMemberCache(sess.State),
	)
	if err != nil {
		return err
	}
	if err := bot.Open(ctx); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	defer func() {
		if err := bot.Close(); err != nil {
			log.Warn(ctx, "discord session close failed", logger.Error(err))
		}
	}()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	var srv *http.Server
	if cfg.Addr != "" {
		deps := httpDeps{Service: svc, history: bot.History(), directory: bot.Directory()}
		srv = &http.Server{
			Addr:              cfg.Addr,
			Handler:           newMux(ctx, deps, cfg),
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
		}
		go func() {
			log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "HTTP server failed", logger.Error(err))
			}
		}()
	}

	<-ctx.Done()
	log.Info(ctx, "shutting down...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
		}
	}
	log.Info(ctx, "server stopped")
	return nil
}

// serviceOptions maps configuration onto service options.
func serviceOptions(cfg *config.Config, backend repository.Backend, log logger.Logger) []service.Option {
	return []service.Option{
		service.WithLogger(log.Named("service")),
		service.WithBackend(backend),
		service.WithToken(cfg.Token),
		service.WithCommandPrefix(cfg.CommandPrefix),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithHistoryPageSize(cfg.HistoryPageSize),
		service.WithBufferPolicy(cfg.BufferPolicy()),
	}
}

// newMux builds the HTTP routes.
func newMux(ctx context.Context, deps api.Dependencies, cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(deps,
		api.WithAdminToken(cfg.AdminToken),
		api.WithDefaultLimit(cfg.DefaultLeaderboardLimit),
	).Register(ctx, mux)
	return mux
}

// httpDeps adapts the service to the HTTP handlers: leaderboard rows get
// display names and resyncs read the bot's channel history.
type httpDeps struct {
	*service.Service
	history   resync.HistoryProvider
	directory ranking.Directory
}

func (d httpDeps) Leaderboard(ctx context.Context, limit int, requester string) (ranking.Result, error) {
	res, err := d.Service.Leaderboard(ctx, limit, requester)
	if err != nil {
		return res, err
	}
	if d.directory == nil {
		return res, nil
	}
	return ranking.Resolve(ctx, res, d.directory), nil
}

func (d httpDeps) TriggerResync() (string, error) {
	id, err := d.ResyncAsync(d.history)
	if errors.Is(err, service.ErrResyncInProgress) {
		return "", fmt.Errorf("%w: %w", api.ErrResyncBusy, err)
	}
	return id, err
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

func updateServiceMetrics(svc *service.Service) {
	stats := svc.GetStats()
	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if users, ok := stats["trackedUsers"].(int); ok {
		metrics.UpdateTrackedUsers(users)
	}
}
