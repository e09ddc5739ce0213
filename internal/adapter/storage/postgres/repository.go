package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// querier is satisfied by *pgxpool.Pool
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var runColumns = []string{"run_id", "workflow_id", "status", "reason", "tasks", "failed_tasks", "started_at", "finished_at"}

type runRepository struct {
	db  querier
	qb  squirrel.StatementBuilderType
	log *zap.Logger
}

// NewRunRepository creates the append-only run history repository
func NewRunRepository(db querier, qb squirrel.StatementBuilderType, log *zap.Logger) port.RunRepository {
	return &runRepository{
		db:  db,
		qb:  qb,
		log: log,
	}
}

func (r *runRepository) insertRun(result domain.RunResult) (string, []any, error) {
	tasks, err := json.Marshal(result.Tasks)
	if err != nil {
		return "", nil, err
	}
	failed := result.FailedTasks
	if failed == nil {
		failed = []string{}
	}
	return r.qb.Insert("runs").
		Columns(runColumns...).
		Values(result.RunID, result.WorkflowID, string(result.Status), result.Reason, tasks, failed, result.StartedAt, result.FinishedAt).
		Suffix("ON CONFLICT (run_id) DO NOTHING").
		ToSql()
}

func (r *runRepository) SaveRun(ctx context.Context, result domain.RunResult) error {
	query, args, err := r.insertRun(result)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		r.log.Error("Failed to save run", zap.String("run_id", result.RunID), zap.Error(err))
		return err
	}
	return nil
}

func (r *runRepository) selectRuns() squirrel.SelectBuilder {
	return r.qb.Select(runColumns...).From("runs")
}

func (r *runRepository) GetRun(ctx context.Context, runID string) (*domain.RunResult, error) {
	query, args, err := r.selectRuns().Where(squirrel.Eq{"run_id": runID}).ToSql()
	if err != nil {
		return nil, err
	}
	result, err := scanRun(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *runRepository) listQuery(workflowID string, limit uint64) (string, []any, error) {
	q := r.selectRuns().OrderBy("started_at DESC")
	if workflowID != "" {
		q = q.Where(squirrel.Eq{"workflow_id": workflowID})
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q.ToSql()
}

// ListRuns returns the newest runs first, optionally filtered by workflow
func (r *runRepository) ListRuns(ctx context.Context, workflowID string, limit uint64) ([]domain.RunResult, error) {
	query, args, err := r.listQuery(workflowID, limit)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunResult
	for rows.Next() {
		result, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *result)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*domain.RunResult, error) {
	var (
		result domain.RunResult
		status string
		tasks  []byte
	)
	if err := row.Scan(&result.RunID, &result.WorkflowID, &status, &result.Reason, &tasks,
		&result.FailedTasks, &result.StartedAt, &result.FinishedAt); err != nil {
		return nil, err
	}
	result.Status = domain.RunStatus(status)
	if err := json.Unmarshal(tasks, &result.Tasks); err != nil {
		return nil, fmt.Errorf("decode tasks of run %s: %w", result.RunID, err)
	}
	return &result, nil
}
