package calculator

import "RimValidator/internal/model"

// ReferralIndex counts, per referrer, how many accounts name it in referred_by.
type ReferralIndex map[model.AccountID]int

// BuildReferralIndex scans the whole snapshot. Self-referrals and cycles are
// counted as given.
func BuildReferralIndex(accounts []model.Account) ReferralIndex {
	idx := make(ReferralIndex)
	for _, acc := range accounts {
		if acc.ReferredBy == nil || *acc.ReferredBy == "" {
			continue
		}
		idx[*acc.ReferredBy]++
	}
	return idx
}

// Count returns the number of accounts referred by id.
func (idx ReferralIndex) Count(id model.AccountID) int {
	return idx[id]
}
