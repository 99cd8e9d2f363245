package common

import (
	"fmt"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner
func PrintBanner(cfg *Config, configFile, logFile string) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorCyan).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	backendState := "available"
	if err := cfg.BackendStatus(); err != nil {
		backendState = "UNAVAILABLE"
	}

	fmt.Printf("\n")

	b.PrintTopLine()
	b.PrintCenteredText("DASHBOARD FEEDBACK")
	b.PrintCenteredText("Screenshot Feedback Capture Service")
	b.PrintSeparatorLine()

	b.PrintKeyValue("Version", GetVersion(), 15)
	b.PrintKeyValue("Build", GetBuild(), 15)
	b.PrintKeyValue("Environment", cfg.Service.Environment, 15)
	b.PrintKeyValue("Port", fmt.Sprintf("%d", cfg.Service.Port), 15)
	b.PrintKeyValue("Backend", backendState, 15)
	b.PrintBottomLine()

	fmt.Printf("\n")

	fmt.Printf("📋 Configuration:\n")
	if configFile != "" {
		fmt.Printf("   • Config File: %s\n", configFile)
	} else {
		fmt.Printf("   • Config File: (defaults)\n")
	}
	if logFile != "" {
		pattern := strings.Replace(logFile, ".log", ".{YYYY-MM-DDTHH-MM-SS}.log", 1)
		fmt.Printf("   • Log File: %s\n", pattern)
	}
	fmt.Printf("   • Storage Bucket: %s\n", cfg.Backend.Bucket)
	fmt.Printf("   • Analysis Function: %s\n", cfg.Backend.Function)
	fmt.Printf("\n")

	if backendState != "available" {
		PrintWarning("Backend URL or API key missing - feedback capture is disabled")
		fmt.Printf("\n")
	}
}

// PrintShutdownBanner displays the application shutdown banner
func PrintShutdownBanner(serviceName string) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorCyan).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText(serviceName)
	b.PrintBottomLine()
	fmt.Println()
}

// PrintColorizedMessage prints a message with specified color
func PrintColorizedMessage(color, message string) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

// PrintWarning prints a warning message in yellow
func PrintWarning(message string) {
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("⚠ %s", message))
}
