package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Status metrics
	StatusFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mivo_status_fetches_total",
			Help: "Total remote status fetches by result",
		},
		[]string{"result"},
	)

	StatusFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mivo_status_fetch_duration_seconds",
			Help:    "Remote status fetch duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	ActivePageViews = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mivo_active_page_views",
			Help: "Number of live status reconcilers",
		},
	)

	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mivo_active_streams",
			Help: "Number of open status websocket streams",
		},
	)

	// QR metrics
	QRScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mivo_qr_scans_total",
			Help: "Total decoded QR payloads by intent and outcome",
		},
		[]string{"intent", "outcome"},
	)

	QRRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mivo_qr_rejections_total",
			Help: "QR payloads rejected by security validation",
		},
		[]string{"cause"},
	)

	CaptureFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mivo_capture_failures_total",
			Help: "Camera and file scan failures",
		},
		[]string{"source"},
	)

	// Locale metrics
	LocaleLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mivo_locale_loads_total",
			Help: "Locale catalog loads by result",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		StatusFetchesTotal,
		StatusFetchDuration,
		ActivePageViews,
		ActiveStreams,
		QRScansTotal,
		QRRejectionsTotal,
		CaptureFailuresTotal,
		LocaleLoadsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
