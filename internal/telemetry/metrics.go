package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_messages_consumed_total",
		Help: "Messages delivered to the caller, by topic.",
	}, []string{"topic"})

	ConnectRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_connect_retries_total",
		Help: "Transient connect failures that triggered a backoff retry.",
	})

	CredentialRenewals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_credential_renewals_total",
		Help: "Successful ticket renewals.",
	})

	AssignedPartitions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strata_assigned_partitions",
		Help: "Partitions currently assigned to this instance.",
	})

	RevokedDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_revoked_discards_total",
		Help: "In-flight messages dropped because their partition was revoked.",
	})

	LedgerCommits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_ledger_commits_total",
		Help: "Ledger flushes persisted to disk.",
	})
)

func Expose(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
	}()
}
