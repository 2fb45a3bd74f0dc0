package calculator

import (
	"RimValidator/internal/model"
	"RimValidator/internal/policy"
)

// Reward is the breakdown of one account's grant for one tick.
type Reward struct {
	EffectiveMultiplier float64
	Mining              float64
	CappedReferrals     int
	Referral            float64
	Total               float64
}

// RewardCalculator turns a tier, buff flags and a referral count into a grant.
type RewardCalculator struct {
	BaseRate            float64
	TickSeconds         float64
	ReferralRatePerTick float64
	BoosterFactor       float64
	BotnetFactor        float64
}

// NewRewardCalculator takes its rates from the policy.
func NewRewardCalculator(p policy.Policy) RewardCalculator {
	return RewardCalculator{
		BaseRate:            p.BaseRate,
		TickSeconds:         p.TickSeconds,
		ReferralRatePerTick: p.ReferralRatePerTick,
		BoosterFactor:       p.BoosterFactor,
		BotnetFactor:        p.BotnetFactor,
	}
}

// Compute returns the mining and referral reward. The booster only scales the
// mining part and the botnet only scales the referral part.
func (c RewardCalculator) Compute(tier model.TierResult, boosterActive, botnetActive bool, referralCount int) Reward {
	mult := tier.Multiplier
	if boosterActive {
		mult *= c.BoosterFactor
	}
	mining := c.BaseRate * mult * c.TickSeconds

	capped := min(referralCount, tier.ReferralCap)
	if capped < 0 {
		capped = 0
	}
	refMult := 1.0
	if botnetActive {
		refMult = c.BotnetFactor
	}
	referral := float64(capped) * c.ReferralRatePerTick * refMult

	if mining < 0 {
		mining = 0
	}
	if referral < 0 {
		referral = 0
	}
	return Reward{
		EffectiveMultiplier: mult,
		Mining:              mining,
		CappedReferrals:     capped,
		Referral:            referral,
		Total:               mining + referral,
	}
}
