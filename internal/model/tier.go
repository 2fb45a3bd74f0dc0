package model

// TierRule maps a minimum balance to a mining multiplier and a referral cap.
type TierRule struct {
	Threshold   float64 `yaml:"threshold"`
	Multiplier  float64 `yaml:"multiplier"`
	ReferralCap int     `yaml:"referral_cap"`
}

// TierTable is ordered by strictly decreasing threshold, ending with a 0 catch-all.
type TierTable []TierRule

// TierResult is what a balance resolves to.
type TierResult struct {
	Multiplier  float64
	ReferralCap int
}
