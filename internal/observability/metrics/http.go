package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chainmgr"

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests served by the API.",
	}, []string{"handler", "method", "code"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	rpcCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_calls_total",
		Help:      "JSON-RPC calls issued per chain, operation and outcome.",
	}, []string{"chain_id", "operation", "outcome"})

	rpcLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rpc_call_duration_seconds",
		Help:      "JSON-RPC call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"chain_id", "operation"})

	chainHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chain_healthy",
		Help:      "1 when the last health check of the chain succeeded.",
	}, []string{"chain_id"})

	chainFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chain_consecutive_failures",
		Help:      "Consecutive failed health checks.",
	}, []string{"chain_id"})

	chainBlock = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chain_block_number",
		Help:      "Latest block number seen by the health check.",
	}, []string{"chain_id"})

	confirmations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transaction_confirmations_total",
		Help:      "Transaction confirmation polls by outcome.",
	}, []string{"chain_id", "outcome"})

	confirmationAttempts = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transaction_confirmation_attempts",
		Help:      "Receipt polls needed per confirmation.",
		Buckets:   []float64{1, 2, 5, 10, 20, 40, 60},
	}, []string{"chain_id"})

	activeChain = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_chain",
		Help:      "1 for the currently active chain.",
	}, []string{"chain_id"})

	eventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_emitted_total",
		Help:      "Bus events by name.",
	}, []string{"event"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests, httpLatency,
		rpcCalls, rpcLatency,
		chainHealthy, chainFailures, chainBlock,
		confirmations, confirmationAttempts,
		activeChain, eventsEmitted,
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveRPC records one JSON-RPC call.
func ObserveRPC(chainID, operation string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	rpcCalls.WithLabelValues(chainID, operation, outcome).Inc()
	rpcLatency.WithLabelValues(chainID, operation).Observe(duration.Seconds())
}

// ObserveHealth records the result of a health check.
func ObserveHealth(chainID string, healthy bool, blockNumber uint64, failureCount int) {
	v := 0.0
	if healthy {
		v = 1
		chainBlock.WithLabelValues(chainID).Set(float64(blockNumber))
	}
	chainHealthy.WithLabelValues(chainID).Set(v)
	chainFailures.WithLabelValues(chainID).Set(float64(failureCount))
}

// ObserveConfirmation records the end of a confirmation poll. outcome is
// one of confirmed, timeout, canceled or error.
func ObserveConfirmation(chainID, outcome string, attempts int) {
	confirmations.WithLabelValues(chainID, outcome).Inc()
	if attempts > 0 {
		confirmationAttempts.WithLabelValues(chainID).Observe(float64(attempts))
	}
}

// SetActiveChain marks chainID as active and clears previous.
func SetActiveChain(previous, current string) {
	if previous != "" {
		activeChain.WithLabelValues(previous).Set(0)
	}
	activeChain.WithLabelValues(current).Set(1)
}

// ForgetChain drops the per-chain series of a removed chain.
func ForgetChain(chainID string) {
	for _, vec := range []*prometheus.GaugeVec{chainHealthy, chainFailures, chainBlock, activeChain} {
		vec.DeleteLabelValues(chainID)
	}
}

// ObserveEvent counts one bus event.
func ObserveEvent(name string) {
	eventsEmitted.WithLabelValues(name).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
