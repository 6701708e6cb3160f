package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var attemptCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autoengage_gate_attempts_total",
	Help: "Number of gated actions by outcome",
}, []string{"type", "outcome"})

var blockedSignalCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autoengage_blocked_signals_total",
	Help: "Number of abuse feedback responses received",
}, []string{"type"})

var blockedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "autoengage_action_blocked",
	Help: "Whether an action type is currently blocked (1) or not (0)",
}, []string{"type"})

var pacingDelay = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "autoengage_pacing_delay_sec",
	Help:    "Pause taken after each executed action",
	Buckets: prometheus.ExponentialBuckets(1, 2, 10),
}, []string{"type"})

const (
	outcomeDeniedBlocked = "denied_blocked"
	outcomeDeniedQuota   = "denied_quota"
	outcomeCancelled     = "cancelled"
	outcomeSucceeded     = "succeeded"
	outcomeFailed        = "failed"
	outcomeBlockedSignal = "blocked_signal"
)
