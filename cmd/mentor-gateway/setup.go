// ABOUTME: First-run subcommands: interactive init, bootstrap, and health checks
// ABOUTME: bootstrap writes a config with a random JWT secret and mints a student token

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/mentor-gateway/internal/auth"
	"github.com/2389/mentor-gateway/internal/config"
	"github.com/2389/mentor-gateway/internal/store"
)

// tokenTTL is the lifetime of tokens minted by bootstrap.
const tokenTTL = 30 * 24 * time.Hour

type bootstrapArgs struct {
	name string
	out  string
}

// parseBootstrapArgs supports both "--name value" and "--name=value".
func parseBootstrapArgs(args []string) (bootstrapArgs, error) {
	var b bootstrapArgs
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return b, fmt.Errorf("--name requires a value")
			}
			b.name = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			b.name = strings.TrimPrefix(arg, "--name=")
		case strings.HasPrefix(arg, "-n="):
			b.name = strings.TrimPrefix(arg, "-n=")
		case arg == "--out" || arg == "-o":
			if i+1 >= len(args) {
				return b, fmt.Errorf("--out requires a value")
			}
			b.out = args[i+1]
			i++
		case strings.HasPrefix(arg, "--out="):
			b.out = strings.TrimPrefix(arg, "--out=")
		case strings.HasPrefix(arg, "-"):
			return b, fmt.Errorf("unknown flag: %s", arg)
		default:
			return b, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	b.name = strings.TrimSpace(b.name)
	if b.name == "" {
		return b, fmt.Errorf("--name flag is required")
	}
	if len(b.name) > 100 {
		return b, fmt.Errorf("student name exceeds maximum length of 100 characters")
	}
	return b, nil
}

// generateSecret returns 32 random bytes, base64 encoded.
func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

// bootstrapConfig is the config written when bootstrap finds none.
func bootstrapConfig(dbPath, jwtSecret string) string {
	return fmt.Sprintf(`# mentor-gateway configuration
# Generated by mentor-gateway bootstrap

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

llm:
  provider: "openai"
  api_key: "${OPENAI_API_KEY}"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)
}

// runBootstrap performs first-time setup of the gateway:
// 1. Creates config file with random JWT secret (if not exists)
// 2. Creates the database
// 3. Generates a JWT token for the named student
//
// Run it once per student: mentor-gateway bootstrap --name "Asha"
func runBootstrap(args []string) error {
	b, err := parseBootstrapArgs(args)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "mentor.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	var cfg *config.Config
	if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
		jwtSecret, err := generateSecret()
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		if err := os.WriteFile(configPath, []byte(bootstrapConfig(dbPath, jwtSecret)), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
		green.Printf("  ✓ Created config: %s\n", configPath)

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
		}
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = s.Close() }()
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(b.name, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	expiresAt := time.Now().Add(tokenTTL).UTC()

	tokenPath := b.out
	if tokenPath == "" {
		tokenPath = filepath.Join(filepath.Dir(configPath), "token")
	}
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Student")
	cyan.Println("  -------")
	fmt.Printf("  Name:   %s\n", b.name)
	fmt.Printf("  Token:  %s (expires %s)\n", tokenPath, expiresAt.Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    mentor-gateway serve                        # start the gateway")
	fmt.Println("    mentor-gateway solve \"solve x^2-5x+6=0\"     # try the pipeline locally")
	fmt.Println()

	return nil
}

// gatewayURL is the address local commands use to reach a running server.
func gatewayURL(cfg *config.Config) string {
	if cfg.Server.BaseURL != "" {
		return strings.TrimSuffix(cfg.Server.BaseURL, "/")
	}
	return "http://" + cfg.Server.HTTPAddr
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	base := gatewayURL(cfg)

	status, body, err := getText(ctx, base+"/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}
	fmt.Println("healthy")

	status, body, err = getText(ctx, base+"/health/ready")
	if err != nil {
		return fmt.Errorf("readiness check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("not ready: %s", body)
	}
	fmt.Println(body)
	return nil
}

func getText(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("mentor-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "mentor.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	baseURL := prompt(reader, "Public base URL for solution links (leave empty to derive)", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Model Configuration ---")
	provider := prompt(reader, "Model provider (openai/gemini)", config.ProviderOpenAI)
	keyVar := "OPENAI_API_KEY"
	if provider == config.ProviderGemini {
		keyVar = "GEMINI_API_KEY"
	}
	apiKey := prompt(reader, "API key (or ${VAR} reference)", "${"+keyVar+"}")
	model := prompt(reader, "Model (leave empty for provider default)", "")
	seedFile := prompt(reader, "Knowledge seed file (TOML, leave empty for built-in)", "")

	fmt.Println("\n--- Auth Configuration ---")
	var jwtSecret string
	if isYes(prompt(reader, "Require student tokens?", "yes")) {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		jwtSecret = secret
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(prompt(reader, "Enable Tailscale?", "no"))

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "mentor")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		tsEphemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = isYes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	mcpEnabled := isYes(prompt(reader, "Expose tutor tools to AI agents over MCP (/mcp)?", "no"))

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# mentor-gateway configuration\n")
	cfg.WriteString("# Generated by mentor-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	if baseURL != "" {
		cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", baseURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	if jwtSecret != "" {
		cfg.WriteString("auth:\n")
		cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
		cfg.WriteString("\n")
	}

	cfg.WriteString("llm:\n")
	cfg.WriteString(fmt.Sprintf("  provider: \"%s\"\n", provider))
	cfg.WriteString(fmt.Sprintf("  api_key: \"%s\"\n", apiKey))
	if model != "" {
		cfg.WriteString(fmt.Sprintf("  model: \"%s\"\n", model))
	}
	cfg.WriteString("  timeout: \"120s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("knowledge:\n")
	if seedFile != "" {
		cfg.WriteString(fmt.Sprintf("  seed_file: \"%s\"\n", seedFile))
	}
	cfg.WriteString("  top_k: 3\n")
	cfg.WriteString("\n")

	cfg.WriteString("pipeline:\n")
	cfg.WriteString("  step_limit: 25\n")
	cfg.WriteString("  run_timeout: \"5m\"\n")
	cfg.WriteString("  dedupe_window: \"2m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("mcp:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", mcpEnabled))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  mentor-gateway seed                      # load the knowledge base")
	if jwtSecret != "" {
		fmt.Println("  mentor-gateway bootstrap --name NAME     # mint a student token")
	}
	fmt.Println("  mentor-gateway serve")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}
