package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"RimValidator/internal/calculator"
	"RimValidator/internal/liveness"
	"RimValidator/internal/metrics"
	"RimValidator/internal/model"
	"RimValidator/internal/policy"
	"RimValidator/internal/recorder"
	"RimValidator/internal/store"
)

// DefaultInterval is the pause between the end of one tick and the start of the next.
const DefaultInterval = 5 * time.Second

// Notifier delivers operator reports.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Scheduler runs the validator loop: one tick at a time, a fixed delay between ticks.
type Scheduler struct {
	Cron     *cron.Cron
	Store    store.AccountStore
	Policy   policy.Policy
	Recorder recorder.Recorder
	Metrics  *metrics.TickMetrics
	Notifier Notifier // optional; reports are logged when nil

	resolver *policy.TierResolver
	liveness liveness.Evaluator
	rewards  calculator.RewardCalculator
	logger   *zap.SugaredLogger
	clock    Clock
	interval time.Duration

	mu       sync.Mutex
	lastTick *TickReport
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithInterval sets the delay between ticks.
func WithInterval(d time.Duration) Option { return func(s *Scheduler) { s.interval = d } }

// WithNotifier sends reports through n.
func WithNotifier(n Notifier) Option { return func(s *Scheduler) { s.Notifier = n } }

// NewScheduler creates a Scheduler. The policy is captured by value; later
// changes to the caller's copy have no effect.
func NewScheduler(st store.AccountStore, pol policy.Policy, rec recorder.Recorder,
	m *metrics.TickMetrics, logger *zap.SugaredLogger, opts ...Option) *Scheduler {

	s := &Scheduler{
		Store:    st,
		Policy:   pol,
		Recorder: rec,
		Metrics:  m,
		resolver: policy.NewTierResolver(pol.Tiers),
		liveness: liveness.NewEvaluator(pol),
		rewards:  calculator.NewRewardCalculator(pol),
		logger:   logger,
		clock:    realClock{},
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Cron = cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{logger})))
	return s
}

// Run loops until ctx is cancelled. A failing tick never stops the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Infow("validator online", "store", s.Store.Name(),
		"timeout_seconds", s.Policy.TimeoutSeconds, "interval", s.interval)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.RunTick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.interval):
		}
	}
}

// TickReport is the result of one tick.
type TickReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Accounts   int
	Outcomes   []model.TickOutcome
	Err        error // snapshot failure; no account was evaluated
}

// Count returns the number of outcomes with the given status.
func (r *TickReport) Count(status model.Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Paid returns the number of accounts whose reward was written.
func (r *TickReport) Paid() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Paid() {
			n++
		}
	}
	return n
}

// WriteFailures returns the number of evaluated accounts that could not be paid.
func (r *TickReport) WriteFailures() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status != model.StatusSkipped && o.Err != nil {
			n++
		}
	}
	return n
}

// TotalReward sums the rewards actually written.
func (r *TickReport) TotalReward() float64 {
	total := 0.0
	for _, o := range r.Outcomes {
		if o.Paid() {
			total += o.Reward
		}
	}
	return total
}

// RunTick fetches the snapshot, evaluates every account and writes rewards.
// Errors are contained: a fetch failure ends the tick, a write failure or
// panic while paying an account only loses that account's reward.
func (s *Scheduler) RunTick(ctx context.Context) (report *TickReport) {
	report = &TickReport{StartedAt: s.clock.Now()}
	s.logger.Debugw("tick start", "at", report.StartedAt)

	defer func() {
		if r := recover(); r != nil {
			report.Err = fmt.Errorf("tick panicked: %v", r)
			s.logger.Errorw("tick aborted", "error", report.Err)
		}
		report.FinishedAt = s.clock.Now()
		s.finishTick(report)
	}()

	accounts, err := s.Store.FetchAll(ctx)
	if err != nil {
		report.Err = fmt.Errorf("fetch accounts: %w", err)
		s.Metrics.IncFetchFailures()
		s.logger.Errorw("tick aborted", "error", report.Err)
		return report
	}
	report.Accounts = len(accounts)

	refs := calculator.BuildReferralIndex(accounts)
	now := s.clock.Now()
	for _, acc := range accounts {
		out := s.evaluate(ctx, acc, refs, now)
		s.Metrics.IncOutcome(string(out.Status))
		report.Outcomes = append(report.Outcomes, out)
	}
	return report
}

// evaluate decides and pays one account. A panic here costs only this account.
func (s *Scheduler) evaluate(ctx context.Context, acc model.Account, refs calculator.ReferralIndex, now time.Time) (out model.TickOutcome) {
	out = model.TickOutcome{AccountID: acc.ID, Status: model.StatusSkipped, OldBalance: acc.Balance, NewBalance: acc.Balance}
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("account panicked: %v", r)
			s.logger.Errorw("account evaluation aborted", "account", acc.ID, "error", out.Err)
		}
	}()
	if acc.DecodeErr != nil {
		out.Err = acc.DecodeErr
		s.logger.Warnw("account skipped", "account", acc.ID, "error", acc.DecodeErr)
		return out
	}

	live := s.liveness.Evaluate(acc.LastHeartbeat, acc.RelayExpiry, now)
	if live.Status == model.StatusSkipped {
		return out
	}
	out.Status = live.Status
	out.LagSeconds = live.LagSeconds

	buffs := s.Policy.ActiveBuffs(acc, now)
	out.Booster, out.Botnet = buffs.Booster, buffs.Botnet

	tier := s.resolver.Resolve(acc.Balance)
	reward := s.rewards.Compute(tier, buffs.Booster, buffs.Botnet, refs.Count(acc.ID))
	out.Referrals = reward.CappedReferrals
	out.MiningReward = reward.Mining
	out.ReferralReward = reward.Referral
	out.Reward = reward.Total

	// Last write wins: a concurrent change to the balance since the fetch is overwritten.
	newBalance := acc.Balance + reward.Total
	if err := s.Store.UpdateBalance(ctx, acc.ID, newBalance); err != nil {
		out.Err = fmt.Errorf("update balance: %w", err)
		s.Metrics.IncWriteFailures()
		s.logger.Errorw("payout failed", "account", acc.ID, "reward", reward.Total, "error", err)
		return out
	}
	out.NewBalance = newBalance
	s.Metrics.AddReward(reward.Total)
	s.logger.Infow("paid", "account", acc.ID, "reward", fmt.Sprintf("%.4f", reward.Total),
		"buffs", out.BuffTags(), "status", out.StatusText())
	return out
}

func (s *Scheduler) finishTick(report *TickReport) {
	paid := report.Paid()
	s.Metrics.IncTicks()
	s.Metrics.SetLastTick(report.Accounts, paid, report.FinishedAt.Sub(report.StartedAt), report.FinishedAt)
	if report.Err == nil {
		if paid == 0 {
			s.logger.Info("no active miners found")
		} else {
			s.logger.Infow("tick complete", "accounts", report.Accounts, "paid", paid,
				"reward", fmt.Sprintf("%.4f", report.TotalReward()))
		}
	}
	s.mu.Lock()
	s.lastTick = report
	s.mu.Unlock()

	if err := s.Recorder.RecordTick(summarize(report), payouts(report)); err != nil {
		s.logger.Errorw("record tick failed", "error", err)
	}
}

func summarize(report *TickReport) *recorder.TickSummary {
	sum := &recorder.TickSummary{
		StartedAt:     report.StartedAt,
		FinishedAt:    report.FinishedAt,
		Evaluated:     len(report.Outcomes),
		Online:        report.Count(model.StatusOnline),
		Relay:         report.Count(model.StatusRelayActive),
		Skipped:       report.Count(model.StatusSkipped),
		WriteFailures: report.WriteFailures(),
		TotalReward:   report.TotalReward(),
	}
	if report.Err != nil {
		sum.FetchError = report.Err.Error()
	}
	return sum
}

func payouts(report *TickReport) []recorder.Payout {
	var out []recorder.Payout
	for _, o := range report.Outcomes {
		if !o.Paid() {
			continue
		}
		out = append(out, recorder.Payout{
			AccountID:  string(o.AccountID),
			Status:     string(o.Status),
			Reward:     o.Reward,
			NewBalance: o.NewBalance,
			Booster:    o.Booster,
			Botnet:     o.Botnet,
		})
	}
	return out
}
