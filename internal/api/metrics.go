/**
 * @description
 * This file defines the Prometheus metrics exported by the wallet-service.
 * Counters track ledger write volume and settlement outcomes so operators can
 * alert on settlement failures and concurrency pressure.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_ledger_transactions_total",
		Help: "Total ledger transactions recorded, labeled by type",
	}, []string{"type"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_settlements_total",
		Help: "Total order settlement attempts, labeled by outcome",
	}, []string{"outcome"})

	rejectedOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_rejected_operations_total",
		Help: "Total wallet operations rejected, labeled by reason",
	}, []string{"reason"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
		Help:    "Latency distribution of wallet HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// ObserveTransaction increments the ledger transaction counter.
func ObserveTransaction(txType string) {
	ledgerTransactionsTotal.WithLabelValues(txType).Inc()
}

// ObserveSettlement increments the settlement outcome counter.
func ObserveSettlement(outcome string) {
	settlementsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRejection increments the rejected operation counter.
func ObserveRejection(reason string) {
	rejectedOperationsTotal.WithLabelValues(reason).Inc()
}

// RequestDurationMiddleware records the latency of every request against the
// matched chi route pattern, so path parameters never explode the label set.
func RequestDurationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}
