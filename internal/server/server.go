package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/mivoportal/internal/i18n"
	"github.com/goodtune/mivoportal/internal/qrauth"
	"github.com/goodtune/mivoportal/internal/status"
	"github.com/goodtune/mivoportal/internal/storage"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config holds the portal server configuration.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	FetchTimeout    time.Duration
	TickInterval    time.Duration
	MaxUploadBytes  int64
	ScanRateLimit   int // scans per minute per host, 0 disables
	DefaultLanguage string
	PageConfig      status.PageConfig
	Capture         qrauth.CaptureConfig
}

// Server serves the runtime endpoints the portal page talks to.
type Server struct {
	config   Config
	store    storage.Store
	locales  *i18n.Loader
	fetcher  status.Fetcher
	scanner  *qrauth.ImageScanner
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new portal server. fetcher may be nil when no remote
// status API is configured.
func NewServer(cfg Config, store storage.Store, locales *i18n.Loader, fetcher status.Fetcher, logger zerolog.Logger) *Server {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 4 << 20
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = i18n.DefaultLanguage
	}

	s := &Server{
		config:  cfg,
		store:   store,
		locales: locales,
		fetcher: fetcher,
		scanner: qrauth.NewImageScanner(true),
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger.With().Str("component", "server").Logger(),
	}
	if cfg.ScanRateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.ScanRateLimit, time.Minute)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(ClientMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	// Status
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/ws/status", s.handleStream).Methods("GET")

	// QR
	s.router.Handle("/api/qr/logs", LoopbackOnly(http.HandlerFunc(s.handleQRLogs))).Methods("GET")
	qr := s.router.PathPrefix("/api/qr").Subrouter()
	if s.limiter != nil {
		qr.Use(RateLimitMiddleware(s.limiter))
	}
	qr.HandleFunc("/validate", s.handleQRValidate).Methods("POST")
	qr.HandleFunc("/scan", s.handleQRScan).Methods("POST")

	// Locales and preferences
	s.router.HandleFunc("/api/i18n", s.handleLanguages).Methods("GET")
	s.router.HandleFunc("/api/i18n/{lang}", s.handleCatalog).Methods("GET")
	s.router.HandleFunc("/api/preferences/lang", s.handleGetLanguage).Methods("GET")
	s.router.HandleFunc("/api/preferences/lang", s.handleSetLanguage).Methods("PUT")
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the portal HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting portal server")

	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Portal server error")
		}
	}()

	return nil
}

// Stop gracefully stops the portal HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping portal server")

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("portal server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"status_api":     s.fetcher != nil,
		"storage":        s.store != nil,
		"locales_loaded": s.locales != nil,
	})
}
