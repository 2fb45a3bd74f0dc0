package recorder

import "time"

// TickSummary holds the totals of one completed tick.
type TickSummary struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	Evaluated     int
	Online        int
	Relay         int
	Skipped       int
	WriteFailures int
	TotalReward   float64
	FetchError    string // set when the snapshot could not be fetched
}

// Payout is one applied reward.
type Payout struct {
	AccountID  string
	Status     string
	Reward     float64
	NewBalance float64
	Booster    bool
	Botnet     bool
}

// Earner is an account's total over a period.
type Earner struct {
	AccountID string
	Reward    float64
	Ticks     int
}

// PeriodSummary aggregates the ledger between Since and Until.
type PeriodSummary struct {
	Since            time.Time
	Until            time.Time
	Ticks            int
	FailedTicks      int
	Payouts          int
	WriteFailures    int
	DistinctAccounts int
	TotalReward      float64
	TopEarners       []Earner
}

// Recorder keeps a ledger of ticks and payouts for reporting.
type Recorder interface {
	RecordTick(sum *TickSummary, payouts []Payout) error
	Summarize(since, until time.Time) (*PeriodSummary, error)
	// Prune deletes ledger rows older than before and returns how many ticks went.
	Prune(before time.Time) (int64, error)
	Close() error
}
