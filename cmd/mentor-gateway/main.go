// ABOUTME: Entry point for mentor-gateway, the math tutoring server and CLI
// ABOUTME: Dispatches subcommands and prints the startup banner for serve

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/mentor-gateway/internal/config"
	"github.com/2389/mentor-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                      _                                _
 _ __ ___   ___ _ __ | |_ ___  _ __       __ _  __ _| |_ _____      ____ _ _   _
| '_ ' _ \ / _ \ '_ \| __/ _ \| '__|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | | | | |  __/ | | | || (_) | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_| |_| |_|\___|_| |_|\__\___/|_|        \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                         |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: MENTOR_CONFIG env var > XDG_CONFIG_HOME/mentor/gateway.yaml > ~/.config/mentor/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MENTOR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mentor", "gateway.yaml")
}

// getDataPath returns the path to the mentor data directory.
// Priority: XDG_DATA_HOME/mentor > ~/.local/share/mentor
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "mentor")
}

func usage() {
	fmt.Println("Usage: mentor-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the gateway server")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println("  bootstrap --name NAME          Create config if needed and a token for a student")
	fmt.Println("  health                         Check gateway health and readiness")
	fmt.Println("  seed [--file kb.toml]          Seed the knowledge base (a file is always ingested)")
	fmt.Println("  solve [--image F | --audio F | TEXT...]")
	fmt.Println("                                 Solve a problem locally and print the explanation")
	fmt.Println("  memory export|import FILE      Export or import confirmed solutions (JSON)")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(args)
	case "health":
		err = runHealth(ctx)
	case "seed":
		err = runSeed(ctx, args)
	case "solve":
		err = runSolve(ctx, args)
	case "memory":
		err = runMemory(ctx, args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ▶ ")
		fmt.Println("Auth:      disabled")
	}
	if cfg.MCP.Enabled {
		green.Print("    ▶ ")
		fmt.Println("MCP:       /mcp")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting mentor-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"provider", cfg.LLM.Provider,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
