package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/api"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/auth"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/bus"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/config"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/events"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/logging"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/metrics"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/plugins"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/projects"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/storage"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const serviceName = "taylordash"

var rootCmd = &cobra.Command{
	Use:     "taylordash",
	Short:   "TaylorDash - project tracking and plugin platform",
	Long:    `TaylorDash is an event-driven project tracking platform with a sandboxed plugin system`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("TaylorDash %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		db, err := storage.Open(ctx, cfg.DatabaseURL, cfg.DBMinConns, cfg.DBMaxConns, metrics.Get())
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Migrate(ctx)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup; re-initialized once config loads.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: serviceName,
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: serviceName,
	})

	log.Info().Str("version", Version).Str("environment", cfg.Environment).
		Msg("Starting TaylorDash backend")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := metrics.Get()

	db, err := storage.Open(ctx, cfg.DatabaseURL, cfg.DBMinConns, cfg.DBMaxConns, registry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	busClient, err := bus.Connect(bus.Config{
		BrokerURL: cfg.BusBrokerURL,
		Username:  cfg.BusUsername,
		Password:  cfg.BusPassword,
		ClientID:  cfg.BusClientID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to message bus")
	}
	defer busClient.Close()

	// Logging sink and retention
	logStore := logging.NewPGStore(db)
	sink := logging.NewSink(logStore, registry, cfg.Environment, cfg.LogRetentionDefaultDays)
	go sink.Run(ctx)

	sweeper := logging.NewSweeper(logStore, cfg.LogRetentionDefaultDays)
	sweeper.Start()
	defer sweeper.Stop()

	// Auth
	authStore := auth.NewPGStore(db)
	authSvc := auth.NewService(authStore, authStore, authStore, cfg.SessionSigningKey, registry)
	if err := authSvc.EnsureAdmin(ctx, cfg.BootstrapAdminPassword); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed admin account")
	}
	authSvc.RefreshSessionGauge(ctx)

	maintenance := cron.New()
	if _, err := maintenance.AddFunc("@hourly", func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), time.Minute)
		defer cleanupCancel()
		authSvc.CleanupExpired(cleanupCtx)
		authSvc.RefreshSessionGauge(cleanupCtx)
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule session cleanup")
	}
	maintenance.Start()
	defer maintenance.Stop()

	// Event pipeline
	eventStore := events.NewPGStore(db)
	pipeline := events.NewPipeline(eventStore, busClient, registry, cfg.BusClientID)
	for _, topic := range cfg.EventTopics {
		if err := busClient.Subscribe(topic, pipeline.Handle); err != nil {
			log.Fatal().Err(err).Str("topic", topic).Msg("Failed to subscribe to event topic")
		}
	}

	// Plugins
	pluginStore := plugins.NewPGStore(db)
	pluginMgr := plugins.NewManager(pluginStore, plugins.NewGitFetcher(), pipeline, registry,
		cfg.PluginInstallDir, cfg.PluginAllowedHosts)
	gatekeeper := plugins.NewGatekeeper(pluginStore, pluginMgr)

	healthChecker := plugins.NewHealthChecker(pluginStore, pluginMgr)
	if err := healthChecker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start plugin health checker")
	}

	server := api.NewServer(api.Deps{
		ServiceName: serviceName,
		Registry:    registry,
		Sink:        sink,
		Auth:        authSvc,
		Validator:   authSvc,
		Projects:    projects.NewStore(db),
		Pipeline:    pipeline,
		Plugins:     pluginMgr,
		PluginStore: pluginStore,
		Gatekeeper:  gatekeeper,
		Logs:        logStore,
		DB:          db,
		Bus:         busClient,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	metricsSrv := startMetricsServer(cfg.MetricsListenAddr)

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start API server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown error")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics server shutdown error")
	}

	// Stop intake, then let the sink drain its queue.
	cancel()
	sink.Wait()

	log.Info().Msg("Server stopped")
}

// startMetricsServer exposes Prometheus metrics on its own listener so the
// scrape endpoint can be firewalled separately from the API.
func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}
