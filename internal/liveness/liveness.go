package liveness

import (
	"time"

	"RimValidator/internal/model"
	"RimValidator/internal/policy"
)

// Result is the liveness verdict for one account.
type Result struct {
	Status     model.Status
	LagSeconds float64 // only meaningful for StatusOnline
}

// Evaluator decides whether an account counts as online this tick.
type Evaluator struct {
	Timeout      time.Duration
	RelayEnabled bool

	// RelayCoversMissingHeartbeat extends the relay override to accounts whose
	// heartbeat is absent or unreadable.
	RelayCoversMissingHeartbeat bool
}

// NewEvaluator builds an Evaluator from the policy.
func NewEvaluator(p policy.Policy) Evaluator {
	return Evaluator{
		Timeout:                     p.Timeout(),
		RelayEnabled:                p.RelayEnabled,
		RelayCoversMissingHeartbeat: p.RelayCoversMissingHeartbeat,
	}
}

// Evaluate applies the default evaluator with the given timeout in seconds.
func Evaluate(lastHeartbeat *string, relayExpiry any, now time.Time, timeoutSeconds float64) Result {
	e := Evaluator{
		Timeout:      time.Duration(timeoutSeconds * float64(time.Second)),
		RelayEnabled: true,
	}
	return e.Evaluate(lastHeartbeat, relayExpiry, now)
}

// Evaluate returns Online when the heartbeat is within the timeout, RelayActive
// when it is stale but a relay buff is running, and Skipped otherwise.
func (e Evaluator) Evaluate(lastHeartbeat *string, relayExpiry any, now time.Time) Result {
	relay := e.RelayEnabled && policy.IsActive(relayExpiry, now)

	if lastHeartbeat == nil {
		return e.missing(relay)
	}
	beat, ok := policy.ParseTimestamp(*lastHeartbeat)
	if !ok {
		return e.missing(relay)
	}

	lag := now.Sub(beat)
	if lag <= e.Timeout {
		return Result{Status: model.StatusOnline, LagSeconds: lag.Seconds()}
	}
	if relay {
		return Result{Status: model.StatusRelayActive}
	}
	return Result{Status: model.StatusSkipped}
}

func (e Evaluator) missing(relay bool) Result {
	if relay && e.RelayCoversMissingHeartbeat {
		return Result{Status: model.StatusRelayActive}
	}
	return Result{Status: model.StatusSkipped}
}
