// Command server runs the download engine's HTTP admission layer and
// worker pool as a single process. Grounded on the teacher's
// cmd/quaero/main.go startup sequence (flags -> config -> logger -> banner
// -> app -> server -> signal-driven graceful shutdown), adapted since this
// app's server.New takes narrow Config/Deps structs assembled in
// internal/app rather than the whole application struct.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/app"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/common"
)

var (
	configFile   = flag.String("config", "", "Configuration file path (TOML)")
	configFileC  = flag.String("c", "", "Configuration file path (shorthand)")
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("yt-dlp-service version %s\n", common.GetVersion())
		os.Exit(0)
	}

	path := *configFile
	if path == "" {
		path = *configFileC
	}
	if path == "" {
		if _, err := os.Stat("config.toml"); err == nil {
			path = "config.toml"
		}
	}

	// Startup sequence (REQUIRED ORDER): load config (default -> file ->
	// env), apply CLI overrides (highest priority), initialize logger,
	// print banner, build the app.
	cfg, err := common.LoadFromFile(path)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Str("path", path).Msg("failed to load configuration")
		os.Exit(1)
	}

	if finalPort := firstNonZero(*serverPortP, *serverPort); finalPort != 0 {
		cfg.Server.Port = finalPort
	}
	if *serverHost != "" {
		cfg.Server.Host = *serverHost
	}

	logger := common.SetupLogger(cfg)
	common.PrintBanner(cfg, logger)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer func() {
		application.Close()
		common.PrintShutdownBanner(logger)
		common.Stop()
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("server goroutine panicked")
			}
		}()
		if err := application.Server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received")
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
