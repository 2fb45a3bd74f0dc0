package recorder

import "time"

// NoopRecorder is used when no ledger database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordTick(_ *TickSummary, _ []Payout) error { return nil }
func (n *NoopRecorder) Summarize(since, until time.Time) (*PeriodSummary, error) {
	return &PeriodSummary{Since: since, Until: until}, nil
}
func (n *NoopRecorder) Prune(_ time.Time) (int64, error) { return 0, nil }
func (n *NoopRecorder) Close() error { return nil }
