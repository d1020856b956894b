package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/health"
	"github.com/jensholdgaard/auctiond/internal/httpapi"
	"github.com/jensholdgaard/auctiond/internal/leader"
	"github.com/jensholdgaard/auctiond/internal/monitor"
	"github.com/jensholdgaard/auctiond/internal/notify"
	"github.com/jensholdgaard/auctiond/internal/store"
	"github.com/jensholdgaard/auctiond/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/auctiond/internal/store/memory"
	_ "github.com/jensholdgaard/auctiond/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "store opened", slog.String("driver", cfg.Database.Driver))

	notifier, closers, err := buildNotifier(cfg.Notify, logger, clk)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if closeErr := c.Close(); closeErr != nil {
				logger.Error("notifier close error", slog.Any("error", closeErr))
			}
		}
	}()

	engine, err := auction.NewEngine(repos, notifier, logger, tp.TracerProvider, tp.MeterProvider, clk, cfg.Bidding)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	// Every replica serves bids. Writes for one item are serialised by the
	// engine and, across replicas, by the store.
	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           httpapi.NewRouter(engine, healthHandler, logger, tp.TracerProvider),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
			cancel()
		}
	}()

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "auctiond is running", slog.String("version", version))

	var wg sync.WaitGroup
	if cfg.Monitor.Enabled {
		mon := monitor.New(engine, cfg.Monitor.Interval, logger, tp.TracerProvider)
		runMonitor := func(ctx context.Context) {
			if monErr := mon.Run(ctx); monErr != nil {
				logger.ErrorContext(ctx, "auction monitor stopped", slog.Any("error", monErr))
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cfg.LeaderElection.Enabled {
				runMonitor(ctx)
				return
			}
			logger.InfoContext(ctx, "leader election enabled, monitor waits for leadership")
			if leaderErr := leader.Campaign(ctx, cfg.LeaderElection, logger, runMonitor); leaderErr != nil {
				logger.ErrorContext(ctx, "leader election failed", slog.Any("error", leaderErr))
				cancel()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}

// buildNotifier fans notifications out to the log and to every configured
// delivery channel.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger, clk clock.Clock) (notify.Notifier, []io.Closer, error) {
	fan := notify.Multi{notify.NewLog(logger)}
	var closers []io.Closer

	if cfg.AMQP.Enabled() {
		n, closer, err := notify.DialAMQP(cfg.AMQP, clk)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to amqp: %w", err)
		}
		fan = append(fan, n)
		closers = append(closers, closer)
	}

	if cfg.Discord.Enabled() {
		session, err := notify.NewDiscordSession(cfg.Discord)
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, nil, err
		}
		fan = append(fan, notify.NewDiscord(session, cfg.Discord.ChannelID))
	}

	return fan, closers, nil
}
