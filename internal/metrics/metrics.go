package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type TickMetrics struct {
	ticksCount          prometheus.Counter
	fetchFailuresCount  prometheus.Counter
	writeFailuresCount  prometheus.Counter
	outcomesCount       *prometheus.CounterVec
	rewardGrantedCount  prometheus.Counter
	lastTickDuration    prometheus.Gauge
	lastTickAccounts    prometheus.Gauge
	lastTickPaid        prometheus.Gauge
	lastTickFinishedSec prometheus.Gauge
}

// NewTickMetrics registers the validator metrics with reg.
func NewTickMetrics(namespace string, reg prometheus.Registerer) *TickMetrics {
	factory := promauto.With(reg)
	m := TickMetrics{
		ticksCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_tick_count", namespace),
			Help: "The total number of ticks run",
		}),
		fetchFailuresCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_fetch_failure_count", namespace),
			Help: "The total number of ticks aborted because the account snapshot failed",
		}),
		writeFailuresCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_write_failure_count", namespace),
			Help: "The total number of balance updates that failed",
		}),
		outcomesCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_account_outcome_count", namespace),
			Help: "The total number of evaluated accounts by liveness status",
		}, []string{"status"}),
		rewardGrantedCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_reward_granted_total", namespace),
			Help: "The total reward written to account balances",
		}),
		// metrics for the latest tick
		lastTickDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_last_tick_duration_seconds", namespace),
			Help: "Wall time of the latest tick",
		}),
		lastTickAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_last_tick_accounts", namespace),
			Help: "Accounts in the latest snapshot",
		}),
		lastTickPaid: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_last_tick_paid_accounts", namespace),
			Help: "Accounts paid in the latest tick",
		}),
		lastTickFinishedSec: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_last_tick_timestamp_seconds", namespace),
			Help: "Unix time the latest tick finished",
		}),
	}
	return &m
}

func (metrics *TickMetrics) IncTicks() {
	metrics.ticksCount.Inc()
}

func (metrics *TickMetrics) IncFetchFailures() {
	metrics.fetchFailuresCount.Inc()
}

func (metrics *TickMetrics) IncWriteFailures() {
	metrics.writeFailuresCount.Inc()
}

func (metrics *TickMetrics) IncOutcome(status string) {
	metrics.outcomesCount.WithLabelValues(status).Inc()
}

func (metrics *TickMetrics) AddReward(reward float64) {
	metrics.rewardGrantedCount.Add(reward)
}

func (metrics *TickMetrics) SetLastTick(accounts, paid int, took time.Duration, finished time.Time) {
	metrics.lastTickAccounts.Set(float64(accounts))
	metrics.lastTickPaid.Set(float64(paid))
	metrics.lastTickDuration.Set(took.Seconds())
	metrics.lastTickFinishedSec.Set(float64(finished.Unix()))
}
