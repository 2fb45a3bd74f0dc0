package scheduler

import (
	"context"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"

	"RimValidator/internal/notifier"
)

const (
	reportWindow  = 24 * time.Hour
	reportRetries = 3
)

// RegisterReport schedules the operator report. An empty schedule disables it.
func (s *Scheduler) RegisterReport(ctx context.Context, spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := s.Cron.AddFunc(spec, func() { s.SendReport(ctx) }); err != nil {
		return fmt.Errorf("register report task: %w", err)
	}
	return nil
}

// RegisterPrune schedules ledger pruning. Rows older than retention are deleted.
func (s *Scheduler) RegisterPrune(spec string, retention time.Duration) error {
	if spec == "" || retention <= 0 {
		return nil
	}
	if _, err := s.Cron.AddFunc(spec, func() { s.Prune(retention) }); err != nil {
		return fmt.Errorf("register prune task: %w", err)
	}
	return nil
}

// Prune deletes ledger rows older than retention.
func (s *Scheduler) Prune(retention time.Duration) {
	cutoff := s.clock.Now().Add(-retention)
	n, err := s.Recorder.Prune(cutoff)
	if err != nil {
		s.logger.Errorw("prune ledger failed", "cutoff", cutoff, "error", err)
		return
	}
	if n > 0 {
		s.logger.Infow("ledger pruned", "ticks", n, "cutoff", cutoff)
	}
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info("report scheduler started")
}

// Stop stops the cron scheduler and waits for a running report to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.logger.Info("report scheduler stopped")
}

// Report summarises the ledger over the last reporting window.
func (s *Scheduler) Report() (string, error) {
	until := s.clock.Now()
	sum, err := s.Recorder.Summarize(until.Add(-reportWindow), until)
	if err != nil {
		return "", fmt.Errorf("summarize ledger: %w", err)
	}
	return notifier.FormatPeriodReport(sum), nil
}

// SendReport builds the report and delivers it, or logs it without a notifier.
func (s *Scheduler) SendReport(ctx context.Context) {
	text, err := s.Report()
	if err != nil {
		s.logger.Errorw("report failed", "error", err)
		return
	}
	if s.Notifier == nil {
		s.logger.Infow("validator report", "report", text)
		return
	}
	if err := s.Notifier.SendWithRetry(ctx, text, reportRetries); err != nil {
		s.logger.Errorw("send report failed", "error", err)
	}
}

// HandleCommand answers an operator command.
func (s *Scheduler) HandleCommand(_ context.Context, command string) string {
	switch command {
	case "/report":
		text, err := s.Report()
		if err != nil {
			return "report failed: " + html.EscapeString(err.Error())
		}
		return text
	case "/status":
		return s.status()
	default:
		return "Available commands:\n• /status\n• /report"
	}
}

func (s *Scheduler) status() string {
	s.mu.Lock()
	last := s.lastTick
	s.mu.Unlock()
	if last == nil {
		return "No tick has run yet."
	}
	if last.Err != nil {
		return fmt.Sprintf("Last tick %s failed: %s", last.StartedAt.UTC().Format(time.DateTime),
			html.EscapeString(last.Err.Error()))
	}
	return fmt.Sprintf("Last tick %s: %d accounts, %d paid, +%.4f",
		last.StartedAt.UTC().Format(time.DateTime), last.Accounts, last.Paid(), last.TotalReward())
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
