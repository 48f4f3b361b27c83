// Registers:
//
//	#cryptostream_events_total
//	#cryptostream_errors_total
//	#cryptostream_resyncs_total
//	#cryptostream_dropped_total
//	#cryptostream_handshakes_total
//	#cryptostream_active_connections
//	#go_* and process_* system metrics
//
// Exposes them on the configured address under /metrics using the
// Prometheus HTTP handler.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptostream_events_total",
			Help: "Number of normalised market events delivered",
		},
		[]string{"exchange", "kind"},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptostream_errors_total",
			Help: "Number of error items delivered, by error kind",
		},
		[]string{"exchange", "error"},
	)

	resyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptostream_resyncs_total",
			Help: "Number of order book resynchronisations requested",
		},
		[]string{"exchange", "reason"},
	)

	droppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptostream_dropped_total",
			Help: "Number of items dropped by bounded output channels",
		},
		[]string{"exchange"},
	)

	handshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptostream_handshakes_total",
			Help: "Number of subscription handshakes, by result",
		},
		[]string{"exchange", "result"},
	)

	activeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryptostream_active_connections",
			Help: "Number of live exchange connections",
		},
		[]string{"exchange"},
	)
)

func init() {
	registry.MustRegister(
		eventsTotal,
		errorsTotal,
		resyncsTotal,
		droppedTotal,
		handshakesTotal,
		activeConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registered collectors in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes Handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// IncEvent counts one delivered event of the given kind.
func IncEvent(exchange, kind string) {
	eventsTotal.WithLabelValues(exchange, kind).Inc()
}

// IncError counts one delivered error item.
func IncError(exchange, kind string) {
	errorsTotal.WithLabelValues(exchange, kind).Inc()
}

// IncResync counts one order book resync, reason being "gap", "checksum"
// or "missing_snapshot".
func IncResync(exchange, reason string) {
	resyncsTotal.WithLabelValues(exchange, reason).Inc()
}

// IncHandshake counts a finished handshake; result is "ok" or "failed".
func IncHandshake(exchange, result string) {
	handshakesTotal.WithLabelValues(exchange, result).Inc()
}

func ConnectionOpened(exchange string) {
	activeConnections.WithLabelValues(exchange).Inc()
}

func ConnectionClosed(exchange string) {
	activeConnections.WithLabelValues(exchange).Dec()
}
