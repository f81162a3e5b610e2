// ABOUTME: Gateway orchestrator that owns the HTTP server and its listeners
// ABOUTME: Manages the run service, store, optional Tailscale node, and health endpoints

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/mentor-gateway/internal/auth"
	"github.com/2389/mentor-gateway/internal/config"
	"github.com/2389/mentor-gateway/internal/knowledge"
	"github.com/2389/mentor-gateway/internal/render"
	"github.com/2389/mentor-gateway/internal/session"
	"github.com/2389/mentor-gateway/internal/store"
)

// Extractor turns uploaded images and recordings into problem text.
type Extractor interface {
	ExtractImage(ctx context.Context, filename string, data []byte) (string, error)
	TranscribeAudio(ctx context.Context, filename string, data []byte) (string, error)
}

// KnowledgeIndex is the read side of the knowledge base.
type KnowledgeIndex interface {
	Search(ctx context.Context, query string, k int) ([]knowledge.Match, error)
	Count(ctx context.Context) (int, error)
}

// Deps are the components a Gateway serves.
type Deps struct {
	Store     store.Store
	Runs      *session.Service
	Knowledge KnowledgeIndex
	Extractor Extractor
}

// Gateway serves the tutoring API over HTTP.
type Gateway struct {
	config      *config.Config
	store       store.Store
	runs        *session.Service
	knowledge   KnowledgeIndex
	extractor   Extractor
	pages       *render.Pages
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// baseURL prefixes links to rendered run pages
	baseURL string
}

// determineBaseURL picks the external URL used in run page links.
func determineBaseURL(cfg *config.Config, logger *slog.Logger) string {
	if cfg.Server.BaseURL != "" {
		return strings.TrimSuffix(cfg.Server.BaseURL, "/")
	}

	// MENTOR_GATEWAY_URL includes the full tailnet DNS name when set
	if envURL := os.Getenv("MENTOR_GATEWAY_URL"); envURL != "" {
		return strings.TrimSuffix(envURL, "/")
	}

	if !cfg.Tailscale.Enabled {
		return "http://" + cfg.Server.HTTPAddr
	}

	if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
		logger.Warn("server.base_url/MENTOR_GATEWAY_URL not set; run links will use the bare hostname")
		return "https://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Tailscale.Hostname
}

// New assembles every component from cfg and creates a Gateway. Runs left
// running by a previous process are marked failed before serving starts.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	c, err := Assemble(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	c.SeedKnowledge(ctx, cfg.Knowledge.SeedFile, logger)

	if n, err := c.Runs.RecoverInterrupted(ctx); err != nil {
		logger.Warn("failed to recover interrupted runs", "error", err)
	} else if n > 0 {
		logger.Info("marked interrupted runs as failed", "count", n)
	}

	gw, err := NewWithDeps(cfg, Deps{
		Store:     c.Store,
		Runs:      c.Runs,
		Knowledge: c.Knowledge,
		Extractor: c.Extractor,
	}, logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithDeps creates a Gateway around already-built components.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if deps.Store == nil || deps.Runs == nil {
		return nil, errors.New("gateway requires a store and a run service")
	}

	pages, err := render.NewPages("")
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:    cfg,
		store:     deps.Store,
		runs:      deps.Runs,
		knowledge: deps.Knowledge,
		extractor: deps.Extractor,
		pages:     pages,
		logger:    logger.With("component", "gateway"),
		baseURL:   determineBaseURL(cfg, logger),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, metricsHandler())
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		return nil, err
	}
	if verifier == nil {
		logger.Warn("HTTP auth disabled - no jwt_secret configured")
	} else {
		logger.Info("HTTP auth middleware enabled")
	}
	gw.registerRoutes(mux, auth.Middleware(verifier))

	if cfg.MCP.Enabled {
		if err := gw.registerMCP(mux, verifier); err != nil {
			return nil, err
		}
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// newVerifier returns nil when auth is disabled. The nil is an untyped
// interface so auth.Middleware sees it as disabled.
func newVerifier(cfg *config.Config) (auth.TokenVerifier, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, nil
	}
	v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP JWT verifier: %w", err)
	}
	return v, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// RunURL is the public page for a run.
func (g *Gateway) RunURL(runID string) string {
	return g.baseURL + "/runs/" + runID
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// warnIgnoredAddress logs a warning if a server address is configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddress() {
	if g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddress()
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts serving and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The original context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "mentor-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)
	g.updateBaseURLFromStatus(status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// updateBaseURLFromStatus points run links at the node's tailnet DNS name
// unless a base URL was configured explicitly.
func (g *Gateway) updateBaseURLFromStatus(status *ipnstate.Status) {
	if g.config.Server.BaseURL != "" || os.Getenv("MENTOR_GATEWAY_URL") != "" {
		return
	}
	if status.Self == nil || status.Self.DNSName == "" {
		return
	}
	scheme := "http://"
	if g.config.Tailscale.HTTPS || g.config.Tailscale.Funnel {
		scheme = "https://"
	}
	newURL := scheme + strings.TrimSuffix(status.Self.DNSName, ".")
	if newURL != g.baseURL {
		g.logger.Info("updated base URL to use Tailscale DNS name", "old", g.baseURL, "new", newURL)
		g.baseURL = newURL
	}
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	// Disconnects watchers before the store goes away.
	g.runs.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the knowledge base answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.knowledge == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("knowledge base not configured"))
		return
	}
	n, err := g.knowledge.Count(r.Context())
	if err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("knowledge base unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d documents)", n)
}
