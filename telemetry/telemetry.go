package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPort = 2112

var (
	tokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countersign_tokens_issued_total",
		Help: "The total number of signing tokens issued",
	})
	tokensRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countersign_tokens_redeemed_total",
		Help: "The total number of signing tokens successfully redeemed",
	})
	signaturesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countersign_signatures_recorded_total",
		Help: "The total number of signature records written to the ledger",
	})
	reconcileAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countersign_reconcile_attempts_total",
		Help: "The total number of provider reconciliation attempts",
	})
	reconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countersign_reconcile_failures_total",
		Help: "The total number of reconciliation attempts that could not reach the provider",
	})
	stageTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countersign_stage_transitions_total",
		Help: "The total number of deal stage transitions applied",
	})
)

// TokenIssuedInc counts one issued signing token.
func TokenIssuedInc() { tokensIssued.Inc() }

// TokenRedeemedInc counts one successfully redeemed signing token.
func TokenRedeemedInc() { tokensRedeemed.Inc() }

// SignatureRecordedInc counts one signature record written to the ledger.
func SignatureRecordedInc() { signaturesRecorded.Inc() }

// ReconcileAttemptInc counts one reconciliation attempt against the provider.
func ReconcileAttemptInc() { reconcileAttempts.Inc() }

// ReconcileFailureInc counts one reconciliation attempt that failed to reach the provider.
func ReconcileFailureInc() { reconcileFailures.Inc() }

// StageTransitionInc counts one applied deal stage transition.
func StageTransitionInc() { stageTransitions.Inc() }

// Run starts the server with the prometheus telemetry endpoint.
// Pass port 0 to serve on the default port. This function does not block,
// cancel is called if the telemetry server stops unexpectedly.
func Run(ctx context.Context, cancel context.CancelFunc, port int) error {
	if port == 0 {
		port = defaultPort
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cancel()
		}
	}()

	go func() {
		<-ctx.Done()
		ctxx, cancelx := context.WithTimeout(context.Background(), time.Second*5)
		defer cancelx()
		srv.Shutdown(ctxx)
	}()

	return nil
}
