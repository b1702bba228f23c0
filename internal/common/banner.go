package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner.
func PrintBanner(config *Config, logger arbor.ILogger) {
	version := GetVersion()
	build := GetBuild()

	serviceURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("YT-DLP SERVICE")
	b.PrintCenteredText("Self-Hosted Media Download Engine")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Environment", config.Environment, 15)
	b.PrintKeyValue("Service URL", serviceURL, 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Msg("application started")

	fmt.Printf("Configuration:\n")
	fmt.Printf("   - Storage dir: %s\n", config.Storage.Dir)
	fmt.Printf("   - Service URL: %s\n", serviceURL)

	logFilePath := ""
	if loggerWithPath, ok := interface{}(logger).(interface{ GetLogFilePath() string }); ok {
		logFilePath = loggerWithPath.GetLogFilePath()
		if logFilePath != "" {
			fmt.Printf("   - Log file: %s\n", logFilePath)
		}
	}
	fmt.Printf("\n")

	logger.Info().
		Str("log_file", logFilePath).
		Int("workers", config.Workers.Count).
		Int("max_concurrent_downloads", config.Workers.MaxConcurrentDownloads).
		Bool("require_api_key", config.Admission.RequireAPIKey).
		Bool("webhook_enabled", config.Webhook.Enable).
		Msg("configuration loaded")

	printCapabilities(config, logger)
	fmt.Printf("\n")
}

// printCapabilities displays the enabled runtime capabilities.
func printCapabilities(config *Config, logger arbor.ILogger) {
	fmt.Printf("Enabled features:\n")

	fmt.Printf("   - %d workers, max %d concurrent downloads\n", config.Workers.Count, config.Workers.MaxConcurrentDownloads)

	if config.Admission.RequireAPIKey {
		fmt.Printf("   - API key authentication required\n")
	} else {
		fmt.Printf("   - API key authentication disabled (development mode)\n")
	}

	fmt.Printf("   - Rate limit: %.1f req/s, burst %d\n", config.Admission.RateLimitRPS, config.Admission.RateLimitBurst)

	if len(config.Admission.AllowedDomains) > 0 {
		fmt.Printf("   - Domain allow-list: %d entries\n", len(config.Admission.AllowedDomains))
	} else {
		fmt.Printf("   - No domain allow-list configured\n")
	}

	if config.Webhook.Enable {
		fmt.Printf("   - Webhook notifications enabled (timeout %ds, %d retries)\n", config.Webhook.TimeoutSec, config.Webhook.MaxRetries)
	} else {
		fmt.Printf("   - Webhook notifications disabled\n")
	}

	fmt.Printf("   - File retention: %dh, job purge every %s\n", config.Storage.FileRetentionHours, config.Storage.JobPurgeInterval)

	logger.Info().
		Int("workers", config.Workers.Count).
		Int("max_concurrent_downloads", config.Workers.MaxConcurrentDownloads).
		Int("rate_limit_burst", config.Admission.RateLimitBurst).
		Int("allowed_domains", len(config.Admission.AllowedDomains)).
		Bool("webhook_enabled", config.Webhook.Enable).
		Msg("runtime capabilities")
}

// PrintShutdownBanner displays the application shutdown banner.
func PrintShutdownBanner(logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText("YT-DLP SERVICE")
	b.PrintBottomLine()
	fmt.Println()

	logger.Info().Msg("application shutting down")
}

// PrintColorizedMessage prints a message in the given color.
func PrintColorizedMessage(color, message string, logger arbor.ILogger) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

// PrintSuccess prints a success message in green and logs it.
func PrintSuccess(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorGreen, fmt.Sprintf("OK %s", message), logger)
	logger.Info().Str("type", "success").Msg(message)
}

// PrintError prints an error message in red and logs it.
func PrintError(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorRed, fmt.Sprintf("FAIL %s", message), logger)
	logger.Error().Str("type", "error").Msg(message)
}

// PrintWarning prints a warning message in yellow and logs it.
func PrintWarning(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("WARN %s", message), logger)
	logger.Warn().Str("type", "warning").Msg(message)
}

// PrintInfo prints an info message in cyan and logs it.
func PrintInfo(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorCyan, fmt.Sprintf("INFO %s", message), logger)
	logger.Info().Str("type", "info").Msg(message)
}
