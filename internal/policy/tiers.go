package policy

import (
	"fmt"

	"RimValidator/internal/model"
)

// DefaultTiers is the 9-level balance ladder, highest tier first.
var DefaultTiers = model.TierTable{
	{Threshold: 20_000_000, Multiplier: 100.0, ReferralCap: 1000},
	{Threshold: 5_000_000, Multiplier: 25.0, ReferralCap: 1000},
	{Threshold: 1_500_000, Multiplier: 10.0, ReferralCap: 1000},
	{Threshold: 500_000, Multiplier: 5.0, ReferralCap: 500},
	{Threshold: 100_000, Multiplier: 3.0, ReferralCap: 250},
	{Threshold: 20_000, Multiplier: 2.0, ReferralCap: 100},
	{Threshold: 5_000, Multiplier: 1.5, ReferralCap: 50},
	{Threshold: 1_000, Multiplier: 1.2, ReferralCap: 25},
	{Threshold: 0, Multiplier: 1.0, ReferralCap: 10},
}

// FallbackTier is used when the table is unusable or nothing matches.
var FallbackTier = model.TierResult{Multiplier: 1.0, ReferralCap: 10}

// ValidateTiers checks that thresholds strictly decrease and end with a 0 catch-all.
func ValidateTiers(tiers model.TierTable) error {
	if len(tiers) == 0 {
		return fmt.Errorf("tier table is empty")
	}
	for i, t := range tiers {
		if t.Multiplier <= 0 {
			return fmt.Errorf("tier %d: multiplier must be positive", i)
		}
		if t.ReferralCap < 0 {
			return fmt.Errorf("tier %d: referral cap must not be negative", i)
		}
		if i > 0 && t.Threshold >= tiers[i-1].Threshold {
			return fmt.Errorf("tier %d: threshold %.0f is not below %.0f", i, t.Threshold, tiers[i-1].Threshold)
		}
	}
	if last := tiers[len(tiers)-1]; last.Threshold != 0 {
		return fmt.Errorf("last tier threshold must be 0, got %.0f", last.Threshold)
	}
	return nil
}

// TierResolver maps balances to tiers. The table is checked once; a malformed
// table resolves everything to FallbackTier.
type TierResolver struct {
	tiers model.TierTable
	valid bool
}

// NewTierResolver copies tiers so later changes to the slice are not observed.
func NewTierResolver(tiers model.TierTable) *TierResolver {
	cp := make(model.TierTable, len(tiers))
	copy(cp, tiers)
	return &TierResolver{tiers: cp, valid: ValidateTiers(cp) == nil}
}

// Resolve returns the first tier whose threshold the balance reaches.
func (r *TierResolver) Resolve(balance float64) model.TierResult {
	if !r.valid {
		return FallbackTier
	}
	for _, t := range r.tiers {
		if balance >= t.Threshold {
			return model.TierResult{Multiplier: t.Multiplier, ReferralCap: t.ReferralCap}
		}
	}
	return FallbackTier
}
