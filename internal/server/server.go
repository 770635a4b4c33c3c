// ABOUTME: Server orchestrator wiring the widget, API, and delivery paths.
// ABOUTME: Manages HTTP (or Tailscale) listeners and component lifecycle.

package server

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
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/concierge/internal/assets"
	"github.com/2389/concierge/internal/auth"
	"github.com/2389/concierge/internal/config"
	"github.com/2389/concierge/internal/demo"
	"github.com/2389/concierge/internal/gateway"
	"github.com/2389/concierge/internal/mailbox"
	"github.com/2389/concierge/internal/relay"
	"github.com/2389/concierge/internal/session"
	"github.com/2389/concierge/internal/store"
)

// mailboxMaxEntries bounds the mailbox even when TTL expiry lags.
const mailboxMaxEntries = 100_000

// Server orchestrates the concierge components: the embedded widget, the
// /api/chat endpoint, the mailbox relay, and the optional gateway client.
type Server struct {
	config      *config.Config
	session     *session.Session
	gateway     *gateway.Client // nil when no gateway is configured
	mailbox     *mailbox.Store
	transcripts store.TranscriptStore
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	hookURL      string // readiness fallback when the gateway link is down
	pollInterval time.Duration
	pollAttempts int
}

// initTranscripts creates the transcript store per config.
func initTranscripts(cfg *config.Config, logger *slog.Logger) (store.TranscriptStore, error) {
	if cfg.Database.Path == "" {
		return store.NopStore{}, nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing transcript store: %w", err)
	}
	return s, nil
}

// determineCallbackURL resolves the public URL the agent should call back
// to, forwarded in every hook trigger.
func determineCallbackURL(cfg *config.Config) string {
	if envURL := os.Getenv("CONCIERGE_PUBLIC_URL"); envURL != "" {
		return envURL + "/api/chat"
	}
	if cfg.Tailscale.Enabled {
		if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
			return "https://" + cfg.Tailscale.Hostname + "/api/chat"
		}
		return "http://" + cfg.Tailscale.Hostname + "/api/chat"
	}
	return "http://" + cfg.Server.HTTPAddr + "/api/chat"
}

// New creates a Server from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	transcripts, err := initTranscripts(cfg, logger)
	if err != nil {
		return nil, err
	}

	mb := mailbox.New(cfg.Mailbox.TTL, mailboxMaxEntries)

	rl := relay.New(
		mb,
		auth.NewCallbackVerifier(cfg.Hook.Secret, cfg.Hook.RequireSecret),
		demo.New(cfg.Widget.ContactLine),
		cfg.Hook.URL,
		cfg.Hook.Secret,
		determineCallbackURL(cfg),
		logger,
	)

	var gw *gateway.Client
	var gwForSession session.GatewayClient
	if cfg.Gateway.URL != "" {
		gw = gateway.New(gateway.Config{
			URL:            cfg.Gateway.URL,
			Token:          cfg.Gateway.Token,
			ClientID:       cfg.Gateway.ClientID,
			SessionKey:     cfg.Gateway.SessionKey,
			ReconnectDelay: cfg.Gateway.ReconnectDelay,
			RequestTimeout: cfg.Gateway.RequestTimeout,
		}, logger)
		gwForSession = gw
	}

	sess := session.New(gwForSession, rl, transcripts, cfg.Widget.Greeting, cfg.Widget.ContactLine, logger)

	s := &Server{
		config:       cfg,
		session:      sess,
		gateway:      gw,
		mailbox:      mb,
		transcripts:  transcripts,
		logger:       logger.With("component", "server"),
		hookURL:      cfg.Hook.URL,
		pollInterval: cfg.Widget.PollInterval,
		pollAttempts: cfg.Widget.PollAttempts,
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// routes builds the HTTP mux: widget at /, API under /api/, health checks.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/greeting", s.handleGreeting)
	mux.HandleFunc("/api/transcripts", s.handleTranscripts)
	mux.HandleFunc("/api/transcripts/", s.handleTranscriptHistory)

	mux.Handle("/static/", http.StripPrefix("/static", assets.FileServer()))
	mux.HandleFunc("/", s.handleIndex)

	return mux
}

// handleIndex serves the widget shell at the site root only.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	page, err := assets.Index()
	if err != nil {
		s.logger.Error("widget shell missing from embedded assets", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(page)
}

// Run starts the server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if serving fails.
func (s *Server) Run(ctx context.Context) error {
	if s.gateway != nil {
		go s.gateway.Run(ctx)
	}

	listener, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serveErr = <-errCh:
		s.logger.Error("server error", "error", serveErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the original is already
// canceled by the time shutdown begins.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases all component resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	if s.gateway != nil {
		s.gateway.Close()
	}
	s.mailbox.Close()

	if s.tsnetServer != nil {
		if err := s.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if err := s.transcripts.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// setupListener creates the HTTP listener: plain TCP, or a Tailscale node
// when tailscale is enabled.
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using a default
// under the home directory when not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "concierge", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and returns its listener.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

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

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return s.setupTailscaleTLSListener()
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// setupTailscaleTLSListener serves HTTPS with Tailscale's auto-provisioned certs.
func (s *Server) setupTailscaleTLSListener() (net.Listener, error) {
	s.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
