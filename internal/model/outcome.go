package model

import (
	"fmt"
	"strings"
)

// Status is the liveness verdict for one account in one tick.
type Status string

const (
	StatusSkipped     Status = "SKIPPED"
	StatusOnline      Status = "ONLINE"
	StatusRelayActive Status = "RELAY_ACTIVE"
)

// TickOutcome is the per-account result of one tick. It is never persisted
// on the account; the payout ledger keeps a copy for reporting.
type TickOutcome struct {
	AccountID      AccountID
	Status         Status
	LagSeconds     float64
	Booster        bool
	Botnet         bool
	Referrals      int // referrals counted after the tier cap
	MiningReward   float64
	ReferralReward float64
	Reward         float64
	OldBalance     float64
	NewBalance     float64
	Err            error // decode or write failure; Reward was not applied
}

// Paid reports whether the reward was written to the store.
func (o TickOutcome) Paid() bool {
	return o.Status != StatusSkipped && o.Err == nil
}

// StatusText renders the status the way operators read it in the logs.
func (o TickOutcome) StatusText() string {
	switch o.Status {
	case StatusOnline:
		return fmt.Sprintf("ONLINE (%ds lag)", int(o.LagSeconds))
	case StatusRelayActive:
		return "CLOUD RELAY ACTIVE"
	default:
		return "OFFLINE"
	}
}

// BuffTags lists the reward buffs that applied, e.g. "booster+botnet".
func (o TickOutcome) BuffTags() string {
	var tags []string
	if o.Booster {
		tags = append(tags, "booster")
	}
	if o.Botnet {
		tags = append(tags, "botnet")
	}
	return strings.Join(tags, "+")
}
