package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"RimValidator/internal/metrics"
	"RimValidator/internal/model"
	"RimValidator/internal/policy"
	"RimValidator/internal/recorder"
	"RimValidator/internal/store"
)

var start = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waits   []time.Duration
	onAfter func(n int)
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	n, now := len(c.waits), c.now
	c.mu.Unlock()
	if c.onAfter != nil {
		c.onAfter(n)
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type fakeRecorder struct {
	recorder.NoopRecorder
	mu        sync.Mutex
	summaries []*recorder.TickSummary
	payouts   [][]recorder.Payout
	err       error
}

func (f *fakeRecorder) RecordTick(sum *recorder.TickSummary, payouts []recorder.Payout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, sum)
	f.payouts = append(f.payouts, payouts)
	return f.err
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (f *fakeNotifier) SendWithRetry(_ context.Context, text string, _ int) error {
	f.sent = append(f.sent, text)
	return f.err
}

func heartbeat(ago time.Duration) *string {
	s := start.Add(-ago).Format(time.RFC3339Nano)
	return &s
}

func ref(id model.AccountID) *model.AccountID { return &id }

func text(s string) *string { return &s }

func inFuture() any { return float64(start.Add(time.Hour).UnixMilli()) }

func newTestScheduler(t *testing.T, st store.AccountStore, rec recorder.Recorder, opts ...Option) (*Scheduler, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: start}
	m := metrics.NewTickMetrics("test", prometheus.NewRegistry())
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewScheduler(st, policy.Default(), rec, m, zaptest.NewLogger(t).Sugar(), opts...), clock
}

func balance(t *testing.T, st *store.MemoryStore, id model.AccountID) float64 {
	t.Helper()
	b, ok := st.Balance(id)
	require.True(t, ok, "account %s missing", id)
	return b
}

func TestRunTick_BaseCase(t *testing.T) {
	st := store.NewMemoryStore(model.Account{ID: "a", LastHeartbeat: heartbeat(3 * time.Second)})
	s, _ := newTestScheduler(t, st, recorder.NewNoopRecorder())

	report := s.RunTick(context.Background())
	require.NoError(t, report.Err)
	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.Equal(t, model.StatusOnline, out.Status)
	assert.InDelta(t, 3.0, out.LagSeconds, 1e-9)
	assert.InDelta(t, 0.5, out.Reward, 1e-9)
	assert.InDelta(t, 0.5, balance(t, st, "a"), 1e-9)
}

func TestRunTick_SkipsWithoutHeartbeat(t *testing.T) {
	st := store.NewMemoryStore(
		model.Account{ID: "never", Balance: 7},
		model.Account{ID: "stale", Balance: 8, LastHeartbeat: heartbeat(2 * time.Minute)},
		model.Account{ID: "garbled", Balance: 9, LastHeartbeat: text("yesterday-ish")},
	)
	s, _ := newTestScheduler(t, st, recorder.NewNoopRecorder())

	report := s.RunTick(context.Background())
	require.NoError(t, report.Err)
	assert.Equal(t, 3, report.Count(model.StatusSkipped))
	assert.Empty(t, st.Updates())
	assert.Equal(t, 7.0, balance(t, st, "never"))
	assert.Equal(t, 8.0, balance(t, st, "stale"))
}

func TestRunTick_RelayOverride(t *testing.T) {
	st := store.NewMemoryStore(model.Account{
		ID: "r", Balance: 10, LastHeartbeat: heartbeat(10 * time.Minute), RelayExpiry: inFuture(),
	})
	s, _ := newTestScheduler(t, st, recorder.NewNoopRecorder())

	report := s.RunTick(context.Background())
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, model.StatusRelayActive, report.Outcomes[0].Status)
	assert.Equal(t, "CLOUD RELAY ACTIVE", report.Outcomes[0].StatusText())
	assert.InDelta(t, 10.5, balance(t, st, "r"), 1e-9)
}

func TestRunTick_BoosterAndReferralsWithBotnet(t *testing.T) {
	accounts := []model.Account{
		{ID: "boss", Balance: 2000, LastHeartbeat: heartbeat(time.Second), BoosterExpiry: inFuture(), BotnetExpiry: "2025-03-14T13:00:00Z"},
	}
	for i := 0; i < 30; i++ {
		accounts = append(accounts, model.Account{ID: model.AccountID(fmt.Sprintf("recruit-%d", i)), ReferredBy: ref("boss")})
	}
	st := store.NewMemoryStore(accounts...)
	s, _ := newTestScheduler(t, st, recorder.NewNoopRecorder())

	report := s.RunTick(context.Background())
	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Paid())

	out := report.Outcomes[0]
	assert.True(t, out.Booster)
	assert.True(t, out.Botnet)
	assert.Equal(t, "booster+botnet", out.BuffTags())
	assert.Equal(t, 25, out.Referrals)
	assert.InDelta(t, 0.72, out.MiningReward, 1e-9)
	assert.InDelta(t, 25*0.015*2, out.ReferralReward, 1e-9)
	assert.InDelta(t, 2000+0.72+0.75, balance(t, st, "boss"), 1e-9)
}

func TestRunTick_WriteFailureIsIsolated(t *testing.T) {
	st := store.NewMemoryStore(
		model.Account{ID: "a", LastHeartbeat: heartbeat(time.Second)},
		model.Account{ID: "b", LastHeartbeat: heartbeat(time.Second)},
		model.Account{ID: "c", LastHeartbeat: heartbeat(time.Second)},
	)
	st.UpdateErr["b"] = errors.New("connection reset")
	rec := &fakeRecorder{}
	s, _ := newTestScheduler(t, st, rec)

	report := s.RunTick(context.Background())
	require.NoError(t, report.Err)
	assert.Equal(t, 2, report.Paid())
	assert.Equal(t, 1, report.WriteFailures())
	assert.ErrorContains(t, report.Outcomes[1].Err, "connection reset")
	assert.InDelta(t, 0.5, balance(t, st, "a"), 1e-9)
	assert.Equal(t, 0.0, balance(t, st, "b"))
	assert.InDelta(t, 0.5, balance(t, st, "c"), 1e-9)

	require.Len(t, rec.summaries, 1)
	assert.Equal(t, 1, rec.summaries[0].WriteFailures)
	assert.Equal(t, 3, rec.summaries[0].Online)
	assert.InDelta(t, 1.0, rec.summaries[0].TotalReward, 1e-9)
	require.Len(t, rec.payouts[0], 2)
	assert.Equal(t, "a", rec.payouts[0][0].AccountID)
	assert.Equal(t, "c", rec.payouts[0][1].AccountID)
}

func TestRunTick_FetchFailureEndsTick(t *testing.T) {
	st := store.NewMemoryStore(model.Account{ID: "a", LastHeartbeat: heartbeat(time.Second)})
	st.FetchErr = errors.New("503 from store")
	rec := &fakeRecorder{}
	s, _ := newTestScheduler(t, st, rec)

	report := s.RunTick(context.Background())
	require.Error(t, report.Err)
	assert.Contains(t, report.Err.Error(), "503 from store")
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, st.Updates())
	require.Len(t, rec.summaries, 1)
	assert.Contains(t, rec.summaries[0].FetchError, "503 from store")
}

func TestRunTick_UndecodableAccountStillRefers(t *testing.T) {
	st := store.NewMemoryStore(
		model.Account{ID: "boss", LastHeartbeat: heartbeat(time.Second)},
		model.Account{ID: "broken", ReferredBy: ref("boss"), LastHeartbeat: heartbeat(time.Second), DecodeErr: errors.New("bad balance")},
	)
	s, _ := newTestScheduler(t, st, recorder.NewNoopRecorder())

	report := s.RunTick(context.Background())
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, 1, report.Outcomes[0].Referrals)
	assert.InDelta(t, 0.515, balance(t, st, "boss"), 1e-9)
	assert.Equal(t, model.StatusSkipped, report.Outcomes[1].Status)
	assert.Error(t, report.Outcomes[1].Err)
	assert.Equal(t, 0, report.WriteFailures())
	assert.Len(t, st.Updates(), 1)
}

// spendingStore simulates a user spend landing between the snapshot and the payout.
type spendingStore struct {
	*store.MemoryStore
}

func (s spendingStore) FetchAll(ctx context.Context) ([]model.Account, error) {
	accounts, err := s.MemoryStore.FetchAll(ctx)
	s.Mutate("a", func(acc *model.Account) { acc.Balance -= 100 })
	return accounts, err
}

func TestRunTick_LastWriteWins(t *testing.T) {
	mem := store.NewMemoryStore(model.Account{ID: "a", Balance: 500, LastHeartbeat: heartbeat(time.Second)})
	s, _ := newTestScheduler(t, spendingStore{mem}, recorder.NewNoopRecorder())

	s.RunTick(context.Background())
	assert.InDelta(t, 500.5, balance(t, mem, "a"), 1e-9)
}

type panickingStore struct{ store.MemoryStore }

func (p *panickingStore) FetchAll(context.Context) ([]model.Account, error) {
	panic("driver bug")
}

func TestRunTick_RecoversFromPanic(t *testing.T) {
	rec := &fakeRecorder{}
	s, _ := newTestScheduler(t, &panickingStore{}, rec)

	var report *TickReport
	require.NotPanics(t, func() { report = s.RunTick(context.Background()) })
	assert.ErrorContains(t, report.Err, "driver bug")
	assert.Len(t, rec.summaries, 1)
}

type panicOnWriteStore struct {
	*store.MemoryStore
	id model.AccountID
}

func (p *panicOnWriteStore) UpdateBalance(ctx context.Context, id model.AccountID, balance float64) error {
	if id == p.id {
		panic("row lock poisoned")
	}
	return p.MemoryStore.UpdateBalance(ctx, id, balance)
}

func TestRunTick_AccountPanicIsIsolated(t *testing.T) {
	mem := store.NewMemoryStore(
		model.Account{ID: "a", LastHeartbeat: heartbeat(time.Second)},
		model.Account{ID: "b", LastHeartbeat: heartbeat(time.Second)},
		model.Account{ID: "c", LastHeartbeat: heartbeat(time.Second)},
	)
	rec := &fakeRecorder{}
	s, _ := newTestScheduler(t, &panicOnWriteStore{MemoryStore: mem, id: "b"}, rec)

	var report *TickReport
	require.NotPanics(t, func() { report = s.RunTick(context.Background()) })
	require.NoError(t, report.Err)
	require.Len(t, report.Outcomes, 3)
	assert.ErrorContains(t, report.Outcomes[1].Err, "row lock poisoned")
	assert.Equal(t, 2, report.Paid())
	assert.Equal(t, 1, report.WriteFailures())

	assert.InDelta(t, 0.5, balance(t, mem, "a"), 1e-9)
	assert.Zero(t, balance(t, mem, "b"))
	assert.InDelta(t, 0.5, balance(t, mem, "c"), 1e-9)
	require.Len(t, rec.payouts, 1)
	assert.Len(t, rec.payouts[0], 2)
}

func TestRunTick_TogglesDisableBuffs(t *testing.T) {
	st := store.NewMemoryStore(model.Account{
		ID: "a", LastHeartbeat: heartbeat(10 * time.Minute),
		RelayExpiry: inFuture(), BoosterExpiry: inFuture(),
	})
	pol := policy.Default()
	pol.RelayEnabled = false
	m := metrics.NewTickMetrics("test", prometheus.NewRegistry())
	s := NewScheduler(st, pol, recorder.NewNoopRecorder(), m, zaptest.NewLogger(t).Sugar(), WithClock(&fakeClock{now: start}))

	report := s.RunTick(context.Background())
	assert.Equal(t, model.StatusSkipped, report.Outcomes[0].Status)
	assert.Empty(t, st.Updates())
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	st := store.NewMemoryStore(model.Account{ID: "a", LastHeartbeat: heartbeat(0)})
	rec := &fakeRecorder{}
	s, clock := newTestScheduler(t, st, rec, WithInterval(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.onAfter = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, clock.waits)
	assert.Len(t, rec.summaries, 3)
	assert.InDelta(t, 1.5, balance(t, st, "a"), 1e-9)
}

func TestRun_KeepsGoingAfterFailedTicks(t *testing.T) {
	st := store.NewMemoryStore()
	st.FetchErr = errors.New("down")
	rec := &fakeRecorder{}
	s, clock := newTestScheduler(t, st, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.onAfter = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Len(t, rec.summaries, 2)
	assert.Equal(t, DefaultInterval, clock.waits[0])
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	st := store.NewMemoryStore()
	rec := &fakeRecorder{}
	s, _ := newTestScheduler(t, st, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Empty(t, rec.summaries)
}
