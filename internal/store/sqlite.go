package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
	"option-planner/pkg/utils"
)

// SQLiteStore implements PlanStore using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry utils.RetryConfig
}

// NewSQLiteStore creates a new SQLite-based plan store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	retry := utils.DefaultRetryConfig()
	retry.Retryable = isBusy

	store := &SQLiteStore{
		db:    db,
		retry: retry,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Submitted plans; plan_json is the frozen snapshot
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		trigger_kind TEXT NOT NULL,
		run_at DATETIME NOT NULL,
		plan_json TEXT NOT NULL,
		resolved_json TEXT NOT NULL,
		submitted_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Ordered outcome history per plan
	CREATE TABLE IF NOT EXISTS trade_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plan_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		lots INTEGER NOT NULL,
		exit_reason TEXT NOT NULL,
		closed_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(plan_id, seq),
		FOREIGN KEY (plan_id) REFERENCES plans(id)
	);

	CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
	CREATE INDEX IF NOT EXISTS idx_plans_submitted ON plans(submitted_at);
	CREATE INDEX IF NOT EXISTS idx_outcomes_plan ON trade_outcomes(plan_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isBusy reports whether err is a transient lock conflict.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// SavePlan inserts a submitted plan. Plan ids are never reused.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *models.SubmittedPlan) error {
	planJSON, err := json.Marshal(plan.Plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	resolvedJSON, err := json.Marshal(plan.Resolved)
	if err != nil {
		return fmt.Errorf("failed to encode resolved plan: %w", err)
	}

	err = utils.Retry(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO plans (id, status, trigger_kind, run_at, plan_json, resolved_json, submitted_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, plan.ID, plan.Status, plan.Trigger.Kind, plan.Trigger.RunAt, string(planJSON), string(resolvedJSON), plan.SubmittedAt, plan.UpdatedAt)
		return err
	})
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrDatabaseError, "failed to save plan %s: %v", plan.ID, err)
	}
	return nil
}

const planColumns = "id, status, trigger_kind, run_at, plan_json, resolved_json, submitted_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*models.SubmittedPlan, error) {
	var (
		p                      models.SubmittedPlan
		planJSON, resolvedJSON string
	)
	if err := row.Scan(&p.ID, &p.Status, &p.Trigger.Kind, &p.Trigger.RunAt, &planJSON, &resolvedJSON, &p.SubmittedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(planJSON), &p.Plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(resolvedJSON), &p.Resolved); err != nil {
		return nil, fmt.Errorf("failed to decode resolved plan %s: %w", p.ID, err)
	}
	p.Trigger.RunAt = utils.InIST(p.Trigger.RunAt)
	p.SubmittedAt = utils.InIST(p.SubmittedAt)
	p.UpdatedAt = utils.InIST(p.UpdatedAt)
	return &p, nil
}

// GetPlan retrieves a submitted plan by id.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*models.SubmittedPlan, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+planColumns+" FROM plans WHERE id = ?", id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.Wrap(apperrors.ErrPlanNotFound, id)
	}
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrDatabaseError, "failed to get plan %s: %v", id, err)
	}
	return p, nil
}

// ListPlans retrieves submitted plans, newest first.
func (s *SQLiteStore) ListPlans(ctx context.Context, filter PlanFilter) ([]models.SubmittedPlan, error) {
	query := "SELECT " + planColumns + " FROM plans WHERE 1=1"
	args := []interface{}{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		query += " AND submitted_at >= ?"
		args = append(args, filter.Since)
	}

	query += " ORDER BY submitted_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []models.SubmittedPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, *p)
	}

	return plans, rows.Err()
}

// UpdatePlanStatus updates the status of a submitted plan.
func (s *SQLiteStore) UpdatePlanStatus(ctx context.Context, id string, status models.PlanStatus, at time.Time) error {
	var affected int64
	err := utils.Retry(ctx, s.retry, func() error {
		result, err := s.db.ExecContext(ctx, "UPDATE plans SET status = ?, updated_at = ? WHERE id = ?", status, at, id)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrDatabaseError, "failed to update plan %s: %v", id, err)
	}
	if affected == 0 {
		return apperrors.Wrap(apperrors.ErrPlanNotFound, id)
	}
	return nil
}

// AppendOutcome appends one outcome to a plan's history. The outcome's Seq
// must be the next position in the history.
func (s *SQLiteStore) AppendOutcome(ctx context.Context, planID string, outcome models.TradeOutcome) error {
	err := utils.Retry(ctx, s.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM plans WHERE id = ?", planID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return apperrors.Wrap(apperrors.ErrPlanNotFound, planID)
		}

		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM trade_outcomes WHERE plan_id = ?", planID).Scan(&count); err != nil {
			return err
		}
		if outcome.Seq != count+1 {
			return apperrors.Wrapf(apperrors.ErrDatabaseError, "outcome seq %d out of order (history has %d)", outcome.Seq, count)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trade_outcomes (plan_id, seq, lots, exit_reason, closed_at)
			VALUES (?, ?, ?, ?, ?)
		`, planID, outcome.Seq, outcome.Lots, outcome.Exit, outcome.ClosedAt); err != nil {
			return err
		}

		return tx.Commit()
	})
	switch {
	case err == nil:
		return nil
	case apperrors.Is(err, apperrors.ErrPlanNotFound), apperrors.Is(err, apperrors.ErrDatabaseError):
		return err
	case isConstraint(err):
		return apperrors.Wrapf(apperrors.ErrDatabaseError, "duplicate outcome seq %d for plan %s", outcome.Seq, planID)
	default:
		return apperrors.Wrapf(apperrors.ErrDatabaseError, "failed to append outcome: %v", err)
	}
}

// GetHistory retrieves the ordered outcome history of a plan.
func (s *SQLiteStore) GetHistory(ctx context.Context, planID string) (models.History, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, lots, exit_reason, closed_at
		FROM trade_outcomes
		WHERE plan_id = ?
		ORDER BY seq ASC
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := models.History{}
	for rows.Next() {
		var o models.TradeOutcome
		if err := rows.Scan(&o.Seq, &o.Lots, &o.Exit, &o.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.ClosedAt = utils.InIST(o.ClosedAt)
		history = append(history, o)
	}

	return history, rows.Err()
}
