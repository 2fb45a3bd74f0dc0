package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"RimValidator/internal/model"
	"RimValidator/internal/recorder"
	"RimValidator/internal/store"
)

func TestReport_FromLedger(t *testing.T) {
	rec, err := recorder.NewSQLiteRecorder(filepath.Join(t.TempDir(), "ledger.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer rec.Close()

	st := store.NewMemoryStore(model.Account{ID: "a", LastHeartbeat: heartbeat(0)})
	n := &fakeNotifier{}
	s, _ := newTestScheduler(t, st, rec, WithNotifier(n))

	s.RunTick(context.Background())
	s.RunTick(context.Background())
	s.SendReport(context.Background())

	require.Len(t, n.sent, 1)
	assert.Contains(t, n.sent[0], "Ticks: 2 (failed: 0)")
	assert.Contains(t, n.sent[0], "Payouts: 2 to 1 accounts")
	assert.Contains(t, n.sent[0], "1. a +1.0000 (2 ticks)")
}

func TestSendReport_WithoutNotifierOnlyLogs(t *testing.T) {
	s, _ := newTestScheduler(t, store.NewMemoryStore(), recorder.NewNoopRecorder())
	assert.NotPanics(t, func() { s.SendReport(context.Background()) })
}

func TestSendReport_NotifierErrorIsContained(t *testing.T) {
	n := &fakeNotifier{err: errors.New("telegram down")}
	s, _ := newTestScheduler(t, store.NewMemoryStore(), recorder.NewNoopRecorder(), WithNotifier(n))
	s.SendReport(context.Background())
	assert.Len(t, n.sent, 1)
}

func TestHandleCommand(t *testing.T) {
	st := store.NewMemoryStore(model.Account{ID: "a", LastHeartbeat: heartbeat(0)})
	s, _ := newTestScheduler(t, st, recorder.NewNoopRecorder())
	ctx := context.Background()

	assert.Equal(t, "No tick has run yet.", s.HandleCommand(ctx, "/status"))

	s.RunTick(ctx)
	assert.Equal(t, "Last tick 2025-03-14 12:00:00: 1 accounts, 1 paid, +0.5000", s.HandleCommand(ctx, "/status"))
	assert.Contains(t, s.HandleCommand(ctx, "/report"), "No ticks recorded in this period.")
	assert.Contains(t, s.HandleCommand(ctx, "help"), "/status")

	st.FetchErr = errors.New("down")
	s.RunTick(ctx)
	assert.Contains(t, s.HandleCommand(ctx, "/status"), "failed: fetch accounts: down")
}

func TestRegisterReport(t *testing.T) {
	s, _ := newTestScheduler(t, store.NewMemoryStore(), recorder.NewNoopRecorder())
	ctx := context.Background()

	require.NoError(t, s.RegisterReport(ctx, ""))
	assert.Empty(t, s.Cron.Entries())

	require.NoError(t, s.RegisterReport(ctx, "0 0 0 * * *"))
	assert.Len(t, s.Cron.Entries(), 1)

	assert.Error(t, s.RegisterReport(ctx, "every now and then"))

	s.Start()
	s.Stop()
}

func TestCronLogger(t *testing.T) {
	l := cronLogger{zap.NewNop().Sugar()}
	assert.NotPanics(t, func() {
		l.Info("job ran", "entry", 1)
		l.Error(errors.New("boom"), "job failed", "entry", 1, "at", time.Now())
	})
}

func TestPrune_DropsRowsOutsideRetention(t *testing.T) {
	rec, err := recorder.NewSQLiteRecorder(filepath.Join(t.TempDir(), "ledger.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer rec.Close()

	st := store.NewMemoryStore(model.Account{ID: "a", LastHeartbeat: heartbeat(0)})
	s, clock := newTestScheduler(t, st, rec)
	s.RunTick(context.Background())

	clock.mu.Lock()
	clock.now = start.Add(80 * time.Hour)
	clock.mu.Unlock()

	s.Prune(100 * time.Hour)
	sum, err := rec.Summarize(start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Ticks, "tick is inside retention")

	s.Prune(72 * time.Hour)
	sum, err = rec.Summarize(start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sum.Ticks)
	assert.Zero(t, sum.Payouts)
}

func TestRegisterPrune(t *testing.T) {
	s, _ := newTestScheduler(t, store.NewMemoryStore(), recorder.NewNoopRecorder())

	require.NoError(t, s.RegisterPrune("", 72*time.Hour))
	require.NoError(t, s.RegisterPrune("0 0 * * * *", 0))
	assert.Empty(t, s.Cron.Entries())

	require.NoError(t, s.RegisterPrune("0 0 * * * *", 72*time.Hour))
	assert.Len(t, s.Cron.Entries(), 1)
	assert.Error(t, s.RegisterPrune("hourly-ish", time.Hour))
}

func TestHandleCommand_EscapesErrorText(t *testing.T) {
	st := store.NewMemoryStore()
	st.FetchErr = errors.New("status 502, body: <html><body>Bad Gateway</body></html>")
	s, _ := newTestScheduler(t, st, recorder.NewNoopRecorder())
	s.RunTick(context.Background())

	reply := s.HandleCommand(context.Background(), "/status")
	assert.Contains(t, reply, "&lt;html&gt;&lt;body&gt;Bad Gateway")
	assert.NotContains(t, reply, "<html>")
}
