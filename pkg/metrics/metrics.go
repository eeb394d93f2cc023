// Package metrics defines the Prometheus metrics exported by the file server
// and the HTTP endpoint that serves them.
package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"fileshare/pkg/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Notification outcomes.
const (
	NotificationQueued  = "queued"
	NotificationDropped = "dropped"
	NotificationOffline = "offline"
)

// ServerMetrics tracks connection, command and transfer activity.
type ServerMetrics struct {
	// Connection metrics
	ConnectionsTotal  prometheus.Counter
	HandshakeFailures *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge

	// Command metrics
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Transfer metrics
	BytesUploaded   prometheus.Counter
	BytesDownloaded prometheus.Counter

	Notifications *prometheus.CounterVec
	StoredFiles   prometheus.Gauge
}

// New creates and registers the metrics. A nil registerer uses the default
// Prometheus registry.
func New(registry prometheus.Registerer) *ServerMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &ServerMetrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fileshare_connections_total",
			Help: "Total number of accepted connections",
		}),
		HandshakeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fileshare_handshake_failures_total",
			Help: "Connections that never reached an active session",
		}, []string{"reason"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fileshare_active_sessions",
			Help: "Number of sessions holding a username",
		}),

		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fileshare_commands_total",
			Help: "Commands handled, by command and result",
		}, []string{"command", "result"}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fileshare_command_duration_seconds",
			Help:    "Time spent handling a command, including transfers",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),

		BytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "fileshare_uploaded_bytes_total",
			Help: "Bytes received in completed uploads",
		}),
		BytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "fileshare_downloaded_bytes_total",
			Help: "Bytes sent in completed downloads",
		}),

		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fileshare_notifications_total",
			Help: "Download notifications, by outcome",
		}, []string{"outcome"}),
		StoredFiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fileshare_stored_files",
			Help: "Number of files in the registry",
		}),
	}
}

// Result classifies a command error for the result label.
func Result(err error) string {
	var cmdErr *protocol.CommandError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &cmdErr):
		return "invalid_command"
	case errors.Is(err, protocol.ErrInvalidFilename):
		return "invalid_filename"
	case errors.Is(err, protocol.ErrFileTooLarge):
		return "too_large"
	case errors.Is(err, protocol.ErrInvalidFileSize):
		return "invalid_size"
	case errors.Is(err, protocol.ErrConnectionInterrupted):
		return "interrupted"
	case errors.Is(err, protocol.ErrFileNotFound):
		return "not_found"
	case errors.Is(err, protocol.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, protocol.ErrTransferCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

// ObserveCommand records one handled command.
func (m *ServerMetrics) ObserveCommand(command string, err error, elapsed time.Duration) {
	m.Commands.WithLabelValues(command, Result(err)).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// Serve exposes /metrics and /health/live on address in the background.
func Serve(address string, gatherer prometheus.Gatherer, logger *zap.Logger) (*http.Server, net.Addr, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting metrics server", zap.String("address", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server, ln.Addr(), nil
}
