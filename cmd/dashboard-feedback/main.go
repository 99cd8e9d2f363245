package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dashboard-feedback/internal/common"
	"dashboard-feedback/internal/handlers"
	"dashboard-feedback/internal/interfaces"
	"dashboard-feedback/internal/services"
	"dashboard-feedback/internal/widget"

	"github.com/ternarybob/arbor"
)

const serviceName = "dashboard-feedback"

func main() {
	var (
		configPath     = flag.String("config", "", "Path to configuration file")
		mode           = flag.String("mode", "dev", "Environment mode: 'dev', 'development', 'prod', or 'production'")
		quiet          = flag.Bool("quiet", false, "Suppress banner output")
		version        = flag.Bool("version", false, "Show version information")
		help           = flag.Bool("help", false, "Show help message")
		validateConfig = flag.Bool("validate", false, "Validate configuration file and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s (build: %s)\n", serviceName, common.GetVersion(), common.GetBuild())
		os.Exit(0)
	}

	if *help {
		showHelp()
		os.Exit(0)
	}

	environment := parseMode(*mode)

	// defaults -> TOML -> environment
	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Service.Environment = environment

	if *validateConfig {
		fmt.Println("Configuration is valid")
		if err := cfg.BackendStatus(); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
		os.Exit(0)
	}

	if err := common.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := common.GetLogger()

	logger.Info().
		Str("version", common.GetVersion()).
		Str("build", common.GetBuild()).
		Str("environment", environment).
		Msg("Starting Dashboard Feedback Service")

	logger.Info().
		Str("config_path", *configPath).
		Msg("Configuration loaded")

	if !*quiet {
		common.PrintBanner(cfg, *configPath, common.GetLogFilePath())
	}

	logger.Info().Msg("Initializing services...")

	storage, err := services.NewStorage(&cfg.Storage)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize storage")
		os.Exit(1)
	}
	defer storage.Close()

	purgeHistory(storage, cfg.Storage.RetentionDays, logger)

	backend := services.NewBackendClient(&cfg.Backend, logger)

	capture := services.NewPageCapture(&cfg.Capture, logger)
	defer capture.Close()

	logger.Info().Msg("Services initialized successfully")

	runServerMode(cfg, storage, backend, capture, logger)

	if !*quiet {
		common.PrintShutdownBanner(serviceName)
	}
	logger.Info().Msg("Dashboard Feedback Service shutdown complete")
}

func runServerMode(cfg *common.Config, storage interfaces.Storage, backend interfaces.Backend, capture *services.PageCapture, logger arbor.ILogger) {
	logger.Info().Msg("Starting in server mode")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsHub := handlers.NewWebSocketHub(logger)

	registry := widget.NewRegistry(widget.Dependencies{
		Renderer:    capture,
		Hider:       capture,
		Backend:     backend,
		Storage:     storage,
		Events:      wsHub,
		Logger:      logger,
		SettleDelay: time.Duration(cfg.Capture.SettleDelayMs) * time.Millisecond,
	})
	defer registry.CloseAll()

	idle := time.Duration(cfg.Service.SessionIdleMinutes) * time.Minute
	registry.StartJanitor(ctx, time.Minute, idle)

	webServer, err := services.NewWebServer(cfg, storage, backend, registry, wsHub, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create web server")
		return
	}

	if err := webServer.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start web server")
		return
	}

	logger.Info().
		Int("port", cfg.Service.Port).
		Msg("Web server started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info().Msg("Server running - press Ctrl+C to stop")

	<-sigChan
	logger.Info().Msg("Shutdown signal received")

	if err := webServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping web server")
	}

	logger.Info().Msg("Server mode shutdown complete")
}

// purgeHistory drops submission records older than the retention window
func purgeHistory(storage interfaces.Storage, retentionDays int, logger arbor.ILogger) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed, err := storage.PurgeOlderThan(cutoff)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to purge submission history")
		return
	}
	logger.Info().
		Int("removed", removed).
		Int("retention_days", retentionDays).
		Msg("Submission history purged")
}

func parseMode(mode string) string {
	mode = strings.ToLower(mode)
	switch mode {
	case "prod", "production":
		return "production"
	default:
		return "development"
	}
}

func showHelp() {
	fmt.Printf("%s v%s - Dashboard Feedback Capture\n\n", serviceName, common.GetVersion())
	fmt.Println("Usage:")
	fmt.Printf("  %s [flags]\n\n", os.Args[0])
	fmt.Println("Flags:")
	fmt.Println("  -mode string        Environment mode: 'dev', 'development', 'prod', or 'production' (default \"dev\")")
	fmt.Println("  -config string      Configuration file path")
	fmt.Println("  -quiet              Suppress banner output")
	fmt.Println("  -version            Show version information")
	fmt.Println("  -help               Show help message")
	fmt.Println("  -validate           Validate configuration file and exit")
	fmt.Println("\nEnvironment:")
	fmt.Println("  FEEDBACK_BACKEND_URL / SUPABASE_URL           Backend project URL")
	fmt.Println("  FEEDBACK_BACKEND_API_KEY / SUPABASE_ANON_KEY  Backend API key")
	fmt.Println("  FEEDBACK_PAGE_URL                             Page captured by the service")
	fmt.Println("\nExamples:")
	fmt.Printf("  %s                                  # Run in server mode\n", os.Args[0])
	fmt.Printf("  %s -mode prod                       # Run server in production mode\n", os.Args[0])
	fmt.Printf("  %s -config /path/to/config.toml     # Use custom config file\n", os.Args[0])
	fmt.Println("\nNote: page capture needs Chrome running with --remote-debugging-port.")
}
