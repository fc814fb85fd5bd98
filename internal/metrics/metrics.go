// Package metrics exposes process counters in the Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector of this package.
	Registry = prometheus.NewRegistry()

	// Sessions is the number of connected IRC clients.
	Sessions = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "minbif_sessions",
			Help: "Number of connected IRC clients",
		},
	)

	// Commands counts dispatched IRC commands.
	Commands = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "minbif_irc_commands_total",
			Help: "IRC commands dispatched, by command",
		},
		[]string{"command"},
	)

	// IMs counts instant messages, by direction (in or out).
	IMs = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "minbif_im_messages_total",
			Help: "Instant messages relayed, by direction",
		},
		[]string{"direction"},
	)

	// Transfers counts finished DCC transfers by direction and result.
	Transfers = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "minbif_dcc_transfers_total",
			Help: "DCC transfers, by direction and result",
		},
		[]string{"direction", "result"},
	)

	// TransferBytes counts bytes moved over DCC.
	TransferBytes = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "minbif_dcc_bytes_total",
			Help: "Bytes moved over DCC",
		},
	)

	// Reconnects counts scheduled account reconnections.
	Reconnects = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "minbif_account_reconnects_total",
			Help: "Account reconnections scheduled after a network error",
		},
	)
)

// Handler serves the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Server serves /metrics until Shutdown.
type Server struct {
	srv *http.Server
}

// Listen starts serving on addr.
func Listen(addr string) (*Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Surface an immediate bind failure.
	select {
	case err := <-errChan:
		return nil, errors.Wrap(err, "unable to start metrics server")
	case <-time.After(100 * time.Millisecond):
	}

	return &Server{srv: srv}, nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
