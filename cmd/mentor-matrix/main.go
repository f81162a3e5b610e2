// ABOUTME: Entry point for the mentor-matrix bridge
// ABOUTME: Lets students send math problems from Matrix rooms to mentor-gateway

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
)

const banner = `
                      _                                  _        _
 _ __ ___   ___ _ __ | |_ ___  _ __       _ __ ___   __ _| |_ _ __(_)_  __
| '_ ' _ \ / _ \ '_ \| __/ _ \| '__|____| '_ ' _ \ / _' | __| '__| \ \/ /
| | | | | |  __/ | | | || (_) | | |_____| | | | | | (_| | |_| |  | |>  <
|_| |_| |_|\___|_| |_|\__\___/|_|       |_| |_| |_|\__,_|\__|_|  |_/_/\_\
`

// getConfigPath returns the path to the matrix bridge config file.
// Priority: MENTOR_MATRIX_CONFIG env var > XDG_CONFIG_HOME/mentor/matrix-bridge.toml > ~/.config/mentor/matrix-bridge.toml
func getConfigPath() string {
	if envPath := os.Getenv("MENTOR_MATRIX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "matrix-bridge.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mentor", "matrix-bridge.toml")
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

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	dataPath := getDataPath()

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Username:   %s\n", cfg.Matrix.Username)
	green.Print("    ▶ ")
	fmt.Printf("Gateway:    %s\n", cfg.Gateway.URL)
	if cfg.Gateway.Token == "" {
		yellow.Print("    ▶ ")
		fmt.Println("Token:      none (gateway must run without auth)")
	}
	if cfg.Bridge.Images {
		green.Print("    ▶ ")
		fmt.Println("Images:     enabled")
	}
	if cfg.Matrix.RecoveryKey != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()

	// All operations below respect the shutdown signal.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridge, err := NewBridge(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// Crypto setup needs the device ID from login.
	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Matrix.RecoveryKey != "" {
		cryptoMgr, err := SetupCrypto(ctx, bridge.matrix, bridge.UserID(), cfg.Matrix.RecoveryKey, dataPath, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer func() { _ = cryptoMgr.Close() }()
	} else {
		logger.Info("encryption disabled (no recovery key)")
	}

	logger.Info("starting bridge")
	return bridge.Run(ctx)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// initAnswers are the values gathered by runInit.
type initAnswers struct {
	Homeserver  string
	Username    string
	Password    string
	RecoveryKey string
	GatewayURL  string
	TokenFile   string
	Prefix      string
	Images      bool
}

// renderConfig produces the TOML written by init.
func renderConfig(a initAnswers) string {
	out := fmt.Sprintf(`# mentor-matrix bridge configuration
# Generated by mentor-matrix init

[matrix]
homeserver = %q
username = %q
password = %q
`, a.Homeserver, a.Username, a.Password)

	if a.RecoveryKey != "" {
		out += fmt.Sprintf("recovery_key = %q\n", a.RecoveryKey)
	}

	out += fmt.Sprintf(`
[gateway]
url = %q
`, a.GatewayURL)
	if a.TokenFile != "" {
		out += fmt.Sprintf("token_file = %q\n", a.TokenFile)
	}

	out += fmt.Sprintf(`
[bridge]
# Only respond in these rooms (empty = all joined rooms)
allowed_rooms = []
# Require messages start with this prefix (empty = respond to all)
command_prefix = %q
# Send typing indicator while the problem is being solved
typing_indicator = true
# Read problems from photos
images = %t

[logging]
level = "info"
`, a.Prefix, a.Images)

	return out
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()
	reader := bufio.NewReader(os.Stdin)

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	ask := func(question, defaultVal string) string {
		green.Print("    ▶ ")
		if defaultVal != "" {
			fmt.Printf("%s [%s]: ", question, defaultVal)
		} else {
			fmt.Printf("%s: ", question)
		}
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return defaultVal
		}
		return answer
	}

	defaultTokenFile := filepath.Join(filepath.Dir(configPath), "token")

	a := initAnswers{
		Homeserver:  ask("Matrix homeserver URL", "https://matrix.org"),
		Username:    ask("Matrix username", ""),
		Password:    ask("Matrix password", ""),
		RecoveryKey: ask("Matrix recovery key (optional, for E2EE)", ""),
		GatewayURL:  ask("Gateway URL", "http://localhost:8080"),
		TokenFile:   ask("Gateway token file (from mentor-gateway bootstrap)", defaultTokenFile),
		Prefix:      ask("Command prefix (optional, e.g. '!solve ')", ""),
	}
	images := strings.ToLower(ask("Solve problems sent as photos? [y/N]", "n"))
	a.Images = images == "y" || images == "yes"

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: mentor-gateway bootstrap --name matrix   (if the gateway requires tokens)")
	fmt.Println("    2. Run: mentor-matrix")
	fmt.Println()

	return nil
}
