package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Schema creates the tables used by the store.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    goal        TEXT NOT NULL,
    step_budget INTEGER NOT NULL,
    summary     TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
    id           TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    agent_id     TEXT NOT NULL,
    status       TEXT NOT NULL,
    abort_reason TEXT NOT NULL DEFAULT '',
    summary      TEXT NOT NULL DEFAULT '',
    rounds       INTEGER NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS history_entries (
    session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    round       INTEGER NOT NULL,
    action_kind TEXT NOT NULL,
    action      JSONB NOT NULL,
    observation JSONB NOT NULL,
    success     BOOLEAN NOT NULL,
    suppressed  BOOLEAN NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (session_id, round)
);`

const sqlInsertRun = `
        INSERT INTO runs (id, goal, step_budget, summary, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `

var (
	sessionColumns = []string{"id", "run_id", "agent_id", "status", "abort_reason", "summary", "rounds", "started_at", "finished_at"}
	historyColumns = []string{"session_id", "round", "action_kind", "action", "observation", "success", "suppressed", "recorded_at"}
)

// Store persists run results to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PersistRun writes a run, its sessions and every history entry in a single
// transaction.
func (s *Store) PersistRun(ctx context.Context, run schemas.RunResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertRun,
		run.RunID, run.Goal, run.StepBudget, run.Summary,
		run.StartedAt.UTC(), run.FinishedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(run.Sessions) > 0 {
		if err := s.persistSessions(ctx, tx, run.RunID, run.Sessions); err != nil {
			return err
		}
		if err := s.persistHistory(ctx, tx, run.Sessions); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Run persisted", zap.String("run_id", run.RunID), zap.Int("sessions", len(run.Sessions)))
	return nil
}

func (s *Store) persistSessions(ctx context.Context, tx pgx.Tx, runID string, sessions []schemas.SessionResult) error {
	rows := make([][]interface{}, len(sessions))
	for i, sr := range sessions {
		rows[i] = []interface{}{
			sr.SessionID, runID, sr.AgentID,
			string(sr.Status), sr.AbortReason, sr.Summary,
			len(sr.History),
			sr.StartedAt.UTC(), sr.FinishedAt.UTC(),
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"sessions"}, sessionColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy sessions: %w", err)
	}
	if int(n) != len(sessions) {
		return fmt.Errorf("mismatch in copied sessions count: expected %d, got %d", len(sessions), n)
	}
	return nil
}

func (s *Store) persistHistory(ctx context.Context, tx pgx.Tx, sessions []schemas.SessionResult) error {
	var rows [][]interface{}
	for _, sr := range sessions {
		for _, e := range sr.History {
			act, err := json.Marshal(e.Action)
			if err != nil {
				return fmt.Errorf("failed to encode action of round %d: %w", e.Round, err)
			}
			obs, err := json.Marshal(e.Observation)
			if err != nil {
				return fmt.Errorf("failed to encode observation of round %d: %w", e.Round, err)
			}
			rows = append(rows, []interface{}{
				sr.SessionID, e.Round, string(e.Action.Kind),
				act, obs,
				e.Observation.Success, e.Suppressed,
				e.Timestamp.UTC(),
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"history_entries"}, historyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy history entries: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("mismatch in copied history count: expected %d, got %d", len(rows), n)
	}
	return nil
}

// SessionsByRun returns the stored sessions of a run without their history,
// ordered by agent.
func (s *Store) SessionsByRun(ctx context.Context, runID string) ([]schemas.SessionResult, error) {
	query := `
        SELECT id, agent_id, status, abort_reason, summary, started_at, finished_at
        FROM sessions
        WHERE run_id = $1
        ORDER BY agent_id ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []schemas.SessionResult
	for rows.Next() {
		var sr schemas.SessionResult
		var status string
		if err := rows.Scan(&sr.SessionID, &sr.AgentID, &status, &sr.AbortReason, &sr.Summary, &sr.StartedAt, &sr.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sr.Status = schemas.SessionStatus(status)
		sessions = append(sessions, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return sessions, nil
}
