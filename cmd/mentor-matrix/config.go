// ABOUTME: TOML configuration for the mentor-matrix bridge
// ABOUTME: Resolves the gateway token file and reports every invalid field at once

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/2389/mentor-gateway/internal/config"
)

// Config is the bridge's matrix-bridge.toml.
type Config struct {
	Matrix  MatrixConfig  `toml:"matrix"`
	Gateway GatewayConfig `toml:"gateway"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Logging LoggingConfig `toml:"logging"`
}

// MatrixConfig holds the bot account. RecoveryKey unlocks cross-signing
// so the bot can read encrypted rooms.
type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	RecoveryKey string `toml:"recovery_key"`
}

// GatewayConfig points at mentor-gateway. Token, or the contents of
// TokenFile, is sent as a bearer token; runs are attributed to its subject.
type GatewayConfig struct {
	URL       string `toml:"url"`
	Token     string `toml:"token"`
	TokenFile string `toml:"token_file"`
}

// BridgeConfig controls which messages become problems.
type BridgeConfig struct {
	// AllowedRooms limits the bridge to these room IDs. Empty means every joined room.
	AllowedRooms []string `toml:"allowed_rooms"`
	// CommandPrefix, when set, must start a text message for it to be solved.
	CommandPrefix   string `toml:"command_prefix"`
	TypingIndicator bool   `toml:"typing_indicator"`
	// Images enables solving problems sent as photos.
	Images bool `toml:"images"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

var logLevels = []string{"", "debug", "info", "warn", "error"}

// Load reads the bridge config at path. ${VAR} references are expanded
// before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if _, err := toml.Decode(config.ExpandEnv(string(data)), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if err := cfg.Gateway.resolveToken(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveToken reads TokenFile when no inline token is set.
func (g *GatewayConfig) resolveToken() error {
	if g.Token != "" || g.TokenFile == "" {
		return nil
	}
	token, err := os.ReadFile(g.TokenFile)
	if err != nil {
		return fmt.Errorf("reading gateway token file: %w", err)
	}
	g.Token = strings.TrimSpace(string(token))
	return nil
}

// Validate reports every missing or malformed field.
func (c *Config) Validate() error {
	var errs []error
	if c.Matrix.Homeserver == "" {
		errs = append(errs, errors.New("matrix.homeserver is required"))
	} else if err := checkHTTPURL(c.Matrix.Homeserver); err != nil {
		errs = append(errs, fmt.Errorf("matrix.homeserver: %w", err))
	}
	if c.Matrix.Username == "" {
		errs = append(errs, errors.New("matrix.username is required"))
	}
	if c.Matrix.Password == "" {
		errs = append(errs, errors.New("matrix.password is required"))
	}

	if c.Gateway.URL == "" {
		errs = append(errs, errors.New("gateway.url is required"))
	} else if err := checkHTTPURL(c.Gateway.URL); err != nil {
		errs = append(errs, fmt.Errorf("gateway.url: %w", err))
	}

	for _, room := range c.Bridge.AllowedRooms {
		if !strings.HasPrefix(room, "!") || !strings.Contains(room, ":") {
			errs = append(errs, fmt.Errorf("bridge.allowed_rooms: %q is not a room ID like !abc:example.org", room))
		}
	}
	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	return errors.Join(errs...)
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https scheme")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
