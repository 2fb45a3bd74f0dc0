package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const topEarnersLimit = 5

// SQLiteRecorder persists the tick ledger to a SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.SugaredLogger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, logger *zap.SugaredLogger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so dashboards can read while the validator writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Infow("sqlite recorder opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at     INTEGER NOT NULL,
			finished_at    INTEGER NOT NULL,
			evaluated      INTEGER,
			online         INTEGER,
			relay          INTEGER,
			skipped        INTEGER,
			write_failures INTEGER,
			total_reward   REAL,
			fetch_error    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_started ON ticks(started_at)`,

		`CREATE TABLE IF NOT EXISTS payouts (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			tick_id     INTEGER NOT NULL REFERENCES ticks(id),
			timestamp   INTEGER NOT NULL,
			account_id  TEXT NOT NULL,
			status      TEXT,
			reward      REAL,
			new_balance REAL,
			booster     INTEGER,
			botnet      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payouts_ts ON payouts(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_payouts_account ON payouts(account_id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordTick(sum *TickSummary, payouts []Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO ticks
		(started_at, finished_at, evaluated, online, relay, skipped, write_failures, total_reward, fetch_error)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		sum.StartedAt.UnixMilli(), sum.FinishedAt.UnixMilli(),
		sum.Evaluated, sum.Online, sum.Relay, sum.Skipped, sum.WriteFailures,
		sum.TotalReward, sum.FetchError,
	)
	if err != nil {
		return fmt.Errorf("insert tick: %w", err)
	}
	tickID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("tick id: %w", err)
	}

	if len(payouts) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO payouts
			(tick_id, timestamp, account_id, status, reward, new_balance, booster, botnet)
			VALUES (?,?,?,?,?,?,?,?)`)
		if err != nil {
			return fmt.Errorf("prepare payout: %w", err)
		}
		defer stmt.Close()
		for _, p := range payouts {
			if _, err := stmt.Exec(tickID, sum.StartedAt.UnixMilli(), p.AccountID, p.Status,
				p.Reward, p.NewBalance, p.Booster, p.Botnet); err != nil {
				return fmt.Errorf("insert payout %s: %w", p.AccountID, err)
			}
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) Summarize(since, until time.Time) (*PeriodSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from, to := since.UnixMilli(), until.UnixMilli()
	sum := &PeriodSummary{Since: since, Until: until}

	err := r.db.QueryRow(`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN fetch_error != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(write_failures), 0),
			COALESCE(SUM(total_reward), 0)
		FROM ticks WHERE started_at >= ? AND started_at <= ?`, from, to,
	).Scan(&sum.Ticks, &sum.FailedTicks, &sum.WriteFailures, &sum.TotalReward)
	if err != nil {
		return nil, fmt.Errorf("summarize ticks: %w", err)
	}

	err = r.db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT account_id)
		FROM payouts WHERE timestamp >= ? AND timestamp <= ?`, from, to,
	).Scan(&sum.Payouts, &sum.DistinctAccounts)
	if err != nil {
		return nil, fmt.Errorf("summarize payouts: %w", err)
	}

	rows, err := r.db.Query(`SELECT account_id, SUM(reward) AS total, COUNT(*)
		FROM payouts WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY account_id ORDER BY total DESC, account_id LIMIT ?`, from, to, topEarnersLimit)
	if err != nil {
		return nil, fmt.Errorf("top earners: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e Earner
		if err := rows.Scan(&e.AccountID, &e.Reward, &e.Ticks); err != nil {
			return nil, fmt.Errorf("scan earner: %w", err)
		}
		sum.TopEarners = append(sum.TopEarners, e)
	}
	return sum, rows.Err()
}

func (r *SQLiteRecorder) Prune(before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := before.UnixMilli()
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// payouts reference ticks, so they go first
	if _, err := tx.Exec(`DELETE FROM payouts WHERE tick_id IN
		(SELECT id FROM ticks WHERE started_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("prune payouts: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM ticks WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune ticks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruned rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return n, nil
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info("closing sqlite recorder")
	return r.db.Close()
}
