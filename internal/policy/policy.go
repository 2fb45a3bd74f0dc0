package policy

import (
	"fmt"
	"time"

	"RimValidator/internal/model"
)

const (
	DefaultTimeoutSeconds      = 60
	DefaultBaseRate            = 0.1
	DefaultTickSeconds         = 5
	DefaultReferralRatePerTick = 0.003 * DefaultTickSeconds
	DefaultBoosterFactor       = 1.2
	DefaultBotnetFactor        = 2.0
)

// Policy gathers every reward constant and feature toggle in one place.
type Policy struct {
	TimeoutSeconds      float64
	BaseRate            float64
	TickSeconds         float64 // reward is granted per tick of this length
	ReferralRatePerTick float64
	BoosterFactor       float64
	BotnetFactor        float64
	Tiers               model.TierTable

	RelayEnabled   bool
	BoosterEnabled bool
	BotnetEnabled  bool

	// RelayCoversMissingHeartbeat lets an active relay pay accounts that have
	// no readable heartbeat at all. Off by default.
	RelayCoversMissingHeartbeat bool
}

// Default returns the production policy.
func Default() Policy {
	return Policy{
		TimeoutSeconds:      DefaultTimeoutSeconds,
		BaseRate:            DefaultBaseRate,
		TickSeconds:         DefaultTickSeconds,
		ReferralRatePerTick: DefaultReferralRatePerTick,
		BoosterFactor:       DefaultBoosterFactor,
		BotnetFactor:        DefaultBotnetFactor,
		Tiers:               DefaultTiers,
		RelayEnabled:        true,
		BoosterEnabled:      true,
		BotnetEnabled:       true,
	}
}

// Validate rejects values that would make rewards negative or the tiers ambiguous.
func (p Policy) Validate() error {
	if p.TimeoutSeconds <= 0 {
		return fmt.Errorf("policy.timeout_seconds must be positive")
	}
	if p.BaseRate < 0 || p.ReferralRatePerTick < 0 {
		return fmt.Errorf("policy rates must not be negative")
	}
	if p.TickSeconds <= 0 {
		return fmt.Errorf("policy.tick_seconds must be positive")
	}
	if p.BoosterFactor < 0 || p.BotnetFactor < 0 {
		return fmt.Errorf("policy buff factors must not be negative")
	}
	if err := ValidateTiers(p.Tiers); err != nil {
		return fmt.Errorf("policy.tiers: %w", err)
	}
	return nil
}

// Timeout is TimeoutSeconds as a duration.
func (p Policy) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds * float64(time.Second))
}

// Buffs is the set of buffs active for one account at one instant.
type Buffs struct {
	Relay   bool
	Booster bool
	Botnet  bool
}

// ActiveBuffs evaluates the account's expiry markers, honouring the toggles.
func (p Policy) ActiveBuffs(acc model.Account, now time.Time) Buffs {
	return Buffs{
		Relay:   p.RelayEnabled && IsActive(acc.RelayExpiry, now),
		Booster: p.BoosterEnabled && IsActive(acc.BoosterExpiry, now),
		Botnet:  p.BotnetEnabled && IsActive(acc.BotnetExpiry, now),
	}
}
