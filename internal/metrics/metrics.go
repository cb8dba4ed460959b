package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcilesTotal counts reconcile passes by outcome
	// (online, offline, install_error).
	ReconcilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaysync",
		Name:      "reconciles_total",
		Help:      "Reconcile passes by outcome.",
	}, []string{"outcome"})

	// ProbesTotal counts health probes by classified result.
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaysync",
		Name:      "probes_total",
		Help:      "Health probes by classified result.",
	}, []string{"result"})

	// RuleInstallsTotal counts rule replace calls by category and outcome.
	RuleInstallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaysync",
		Name:      "rule_installs_total",
		Help:      "Rule replace calls by category and outcome.",
	}, []string{"category", "outcome"})

	// NotificationsTotal counts offline notification deliveries by outcome
	// (delivered, retried, dropped).
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaysync",
		Name:      "notifications_total",
		Help:      "Offline notification deliveries by outcome.",
	}, []string{"outcome"})
)
