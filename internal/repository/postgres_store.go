package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStore(pool), nil
}

// pgQuerier is satisfied by both the pool and an open transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxKey struct{}

func (s *PostgresStore) q(ctx context.Context) pgQuerier {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.db
}

// WithinTx runs fn inside a read-committed transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, pgTxKey{}, tx))
	})
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// Migrate applies embedded migrations at most once per file.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, m := range migrations {
		err := s.WithinTx(ctx, func(ctx context.Context) error {
			var found int
			err := s.q(ctx).QueryRow(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = $1", m.Name).Scan(&found)
			if err == nil {
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("check migration %s: %w", m.Name, err)
			}
			if _, err := s.q(ctx).Exec(ctx, m.Up); err != nil {
				return fmt.Errorf("exec migration %s: %w", m.Name, err)
			}
			if _, err := s.q(ctx).Exec(ctx, "INSERT INTO "+migrationTable+" (name) VALUES ($1)", m.Name); err != nil {
				return fmt.Errorf("record migration %s: %w", m.Name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func pgNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nonNilContext(c models.Context) models.Context {
	if c == nil {
		return models.Context{}
	}
	return c
}

// --- workflows ---

const pgWorkflowColumns = `id, tenant_id, key, name, description, version, is_active, created_at, updated_at`

func scanPGWorkflow(row rowScanner) (*models.Workflow, error) {
	var w models.Workflow
	if err := row.Scan(&w.ID, &w.TenantID, &w.Key, &w.Name, &w.Description, &w.Version, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// FindActiveWorkflow returns the newest active workflow in the exact tenant scope.
func (s *PostgresStore) FindActiveWorkflow(ctx context.Context, tenantID *string, key string) (*models.Workflow, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+pgWorkflowColumns+` FROM workflows
		WHERE key = $1 AND is_active AND tenant_id IS NOT DISTINCT FROM $2
		ORDER BY version DESC LIMIT 1`, key, tenantID)
	w, err := scanPGWorkflow(row)
	if err != nil {
		return nil, fmt.Errorf("find workflow %s: %w", key, pgNotFound(err))
	}
	return w, nil
}

// GetWorkflow retrieves a workflow by its ID.
func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+pgWorkflowColumns+` FROM workflows WHERE id = $1`, id)
	w, err := scanPGWorkflow(row)
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, pgNotFound(err))
	}
	return w, nil
}

// GetWorkflowSteps returns the workflow's steps ordered by order_index.
func (s *PostgresStore) GetWorkflowSteps(ctx context.Context, workflowID string) ([]models.WorkflowStep, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT id, workflow_id, key, name, step_type, order_index, config, created_at
		FROM workflow_steps WHERE workflow_id = $1 ORDER BY order_index, key`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	defer rows.Close()

	var steps []models.WorkflowStep
	for rows.Next() {
		var step models.WorkflowStep
		var stepType string
		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.Key, &step.Name, &stepType, &step.OrderIndex, &step.Config, &step.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow step: %w", err)
		}
		step.StepType = models.StepType(stepType)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// GetWorkflowEdges returns every edge of the workflow.
func (s *PostgresStore) GetWorkflowEdges(ctx context.Context, workflowID string) ([]models.WorkflowStepEdge, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT id, workflow_id, from_step_id, to_step_id
		FROM workflow_step_edges WHERE workflow_id = $1 ORDER BY id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow edges: %w", err)
	}
	defer rows.Close()

	var edges []models.WorkflowStepEdge
	for rows.Next() {
		var edge models.WorkflowStepEdge
		if err := rows.Scan(&edge.ID, &edge.WorkflowID, &edge.FromStepID, &edge.ToStepID); err != nil {
			return nil, fmt.Errorf("scan workflow edge: %w", err)
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// ListWorkflows returns the tenant's workflows and the global ones.
func (s *PostgresStore) ListWorkflows(ctx context.Context, tenantID string, filter WorkflowFilter) ([]models.Workflow, error) {
	query := `SELECT ` + pgWorkflowColumns + ` FROM workflows WHERE (tenant_id = $1 OR tenant_id IS NULL)`
	args := []any{tenantID}
	switch filter.Status {
	case "active":
		query += ` AND is_active`
	case "inactive":
		query += ` AND NOT is_active`
	}
	query += ` ORDER BY key, tenant_id NULLS LAST, version DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []models.Workflow
	for rows.Next() {
		w, err := scanPGWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, *w)
	}
	return workflows, rows.Err()
}

// LatestWorkflowVersion returns the highest stored version, 0 when the key is new.
func (s *PostgresStore) LatestWorkflowVersion(ctx context.Context, tenantID *string, key string) (int, error) {
	var version int
	err := s.q(ctx).QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM workflows
		WHERE key = $1 AND tenant_id IS NOT DISTINCT FROM $2`, key, tenantID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("latest workflow version: %w", err)
	}
	return version, nil
}

// DeactivateWorkflows marks all versions of a key inactive within a tenant scope.
func (s *PostgresStore) DeactivateWorkflows(ctx context.Context, tenantID *string, key string) error {
	_, err := s.q(ctx).Exec(ctx, `UPDATE workflows SET is_active = FALSE, updated_at = now()
		WHERE key = $1 AND tenant_id IS NOT DISTINCT FROM $2 AND is_active`, key, tenantID)
	if err != nil {
		return fmt.Errorf("deactivate workflows: %w", err)
	}
	return nil
}

// CreateWorkflow inserts a workflow with its steps and edges in one transaction.
func (s *PostgresStore) CreateWorkflow(ctx context.Context, workflow *models.Workflow, steps []models.WorkflowStep, edges []models.WorkflowStepEdge) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		if workflow.ID == "" {
			workflow.ID = uuid.New().String()
		}
		_, err := s.q(ctx).Exec(ctx, `INSERT INTO workflows (`+pgWorkflowColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			workflow.ID, workflow.TenantID, workflow.Key, workflow.Name, workflow.Description,
			workflow.Version, workflow.IsActive, workflow.CreatedAt, workflow.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}
		for i := range steps {
			step := &steps[i]
			step.WorkflowID = workflow.ID
			_, err := s.q(ctx).Exec(ctx, `INSERT INTO workflow_steps
				(id, workflow_id, key, name, step_type, order_index, config, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				step.ID, step.WorkflowID, step.Key, step.Name, string(step.StepType), step.OrderIndex,
				nonNilContext(step.Config), step.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert workflow step %s: %w", step.Key, err)
			}
		}
		for i := range edges {
			edge := &edges[i]
			edge.WorkflowID = workflow.ID
			_, err := s.q(ctx).Exec(ctx, `INSERT INTO workflow_step_edges (id, workflow_id, from_step_id, to_step_id)
				VALUES ($1, $2, $3, $4)`, edge.ID, edge.WorkflowID, edge.FromStepID, edge.ToStepID)
			if err != nil {
				return fmt.Errorf("insert workflow edge: %w", err)
			}
		}
		return nil
	})
}

// --- runs ---

const pgRunColumns = `id, tenant_id, workflow_id, status, context, triggered_by_user_id, error_message,
	created_at, updated_at, started_at, completed_at`

func scanPGRun(row rowScanner) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	var status string
	if err := row.Scan(&run.ID, &run.TenantID, &run.WorkflowID, &status, &run.Context, &run.TriggeredByUserID,
		&run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt, &run.StartedAt, &run.CompletedAt); err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	return &run, nil
}

// CreateRun inserts a workflow run.
func (s *PostgresStore) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO workflow_runs (`+pgRunColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.TenantID, run.WorkflowID, string(run.Status), nonNilContext(run.Context), run.TriggeredByUserID,
		run.ErrorMessage, run.CreatedAt, run.UpdatedAt, run.StartedAt, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by its ID.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.WorkflowRun, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+pgRunColumns+` FROM workflow_runs WHERE id = $1`, id)
	run, err := scanPGRun(row)
	if err != nil {
		return nil, fmt.Errorf("get workflow run %s: %w", id, pgNotFound(err))
	}
	return run, nil
}

// ListRuns returns a tenant's runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, tenantID string, filter RunFilter) ([]models.WorkflowRun, error) {
	query := `SELECT ` + pgRunColumns + ` FROM workflow_runs WHERE tenant_id = $1`
	args := []any{tenantID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []models.WorkflowRun
	for rows.Next() {
		run, err := scanPGRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// UpdateRun writes the run's mutable fields if its stored status equals expected.
func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.WorkflowRun, expected models.RunStatus) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE workflow_runs
		SET status = $2, error_message = $3, updated_at = $4, started_at = $5, completed_at = $6
		WHERE id = $1 AND status = $7`,
		run.ID, string(run.Status), run.ErrorMessage, run.UpdatedAt, run.StartedAt, run.CompletedAt, string(expected))
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, "workflow_runs", run.ID)
	}
	return nil
}

func (s *PostgresStore) missingOrConflict(ctx context.Context, table, id string) error {
	var found int
	err := s.q(ctx).QueryRow(ctx, "SELECT 1 FROM "+table+" WHERE id = $1", id).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s: %w", table, id, ErrConflict)
}

// ListActiveTenants returns tenants that own pending or running runs.
func (s *PostgresStore) ListActiveTenants(ctx context.Context) ([]string, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT DISTINCT tenant_id FROM workflow_runs
		WHERE status IN ('pending', 'running') ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

// --- run steps ---

var runStepColumnList = []string{"id", "run_id", "step_id", "status", "agent_task_id", "input_context",
	"output_context", "error_message", "created_at", "updated_at", "started_at", "completed_at"}

func runStepColumns(prefix string) string {
	cols := make([]string, len(runStepColumnList))
	for i, col := range runStepColumnList {
		cols[i] = prefix + col
	}
	return strings.Join(cols, ", ")
}

func scanPGRunStep(row rowScanner) (*models.WorkflowRunStep, error) {
	var step models.WorkflowRunStep
	var status string
	if err := row.Scan(&step.ID, &step.RunID, &step.StepID, &status, &step.AgentTaskID, &step.InputContext,
		&step.OutputContext, &step.ErrorMessage, &step.CreatedAt, &step.UpdatedAt, &step.StartedAt, &step.CompletedAt); err != nil {
		return nil, err
	}
	step.Status = models.StepStatus(status)
	return &step, nil
}

func (s *PostgresStore) queryRunSteps(ctx context.Context, query string, args ...any) ([]models.WorkflowRunStep, error) {
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow run steps: %w", err)
	}
	defer rows.Close()

	var steps []models.WorkflowRunStep
	for rows.Next() {
		step, err := scanPGRunStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run step: %w", err)
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// CreateRunSteps inserts run-steps.
func (s *PostgresStore) CreateRunSteps(ctx context.Context, steps []models.WorkflowRunStep) error {
	batch := &pgx.Batch{}
	for _, step := range steps {
		batch.Queue(`INSERT INTO workflow_run_steps (`+runStepColumns("")+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			step.ID, step.RunID, step.StepID, string(step.Status), step.AgentTaskID, nonNilContext(step.InputContext),
			step.OutputContext, step.ErrorMessage, step.CreatedAt, step.UpdatedAt, step.StartedAt, step.CompletedAt)
	}
	return s.sendBatch(ctx, batch, len(steps))
}

func (s *PostgresStore) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	var results pgx.BatchResults
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		results = tx.SendBatch(ctx, batch)
	} else {
		results = s.db.SendBatch(ctx, batch)
	}
	defer results.Close()
	for i := 0; i < n; i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert workflow run step: %w", err)
		}
	}
	return nil
}

// ListRunSteps returns a run's steps in template order.
func (s *PostgresStore) ListRunSteps(ctx context.Context, runID string) ([]models.WorkflowRunStep, error) {
	return s.queryRunSteps(ctx, `SELECT `+runStepColumns("rs.")+` FROM workflow_run_steps rs
		JOIN workflow_steps st ON st.id = rs.step_id
		WHERE rs.run_id = $1 ORDER BY st.order_index, st.key`, runID)
}

// GetRunStep retrieves a run-step by its ID.
func (s *PostgresStore) GetRunStep(ctx context.Context, id string) (*models.WorkflowRunStep, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+runStepColumns("")+` FROM workflow_run_steps WHERE id = $1`, id)
	step, err := scanPGRunStep(row)
	if err != nil {
		return nil, fmt.Errorf("get workflow run step %s: %w", id, pgNotFound(err))
	}
	return step, nil
}

// FindRunStepByTask returns the run-step linked to an agent task.
func (s *PostgresStore) FindRunStepByTask(ctx context.Context, taskID string) (*models.WorkflowRunStep, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+runStepColumns("")+` FROM workflow_run_steps
		WHERE agent_task_id = $1 ORDER BY created_at LIMIT 1`, taskID)
	step, err := scanPGRunStep(row)
	if err != nil {
		return nil, fmt.Errorf("find run step for task %s: %w", taskID, pgNotFound(err))
	}
	return step, nil
}

// ListWaitingRunSteps returns run-steps waiting on an agent task for a tenant.
func (s *PostgresStore) ListWaitingRunSteps(ctx context.Context, tenantID string) ([]models.WorkflowRunStep, error) {
	return s.queryRunSteps(ctx, `SELECT `+runStepColumns("rs.")+` FROM workflow_run_steps rs
		JOIN workflow_runs r ON r.id = rs.run_id
		WHERE r.tenant_id = $1 AND rs.status = $2 AND rs.agent_task_id IS NOT NULL
		ORDER BY rs.started_at, rs.id`, tenantID, string(models.StepStatusWaitingForTask))
}

// UpdateRunStep writes the run-step's mutable fields if its stored status equals expected.
func (s *PostgresStore) UpdateRunStep(ctx context.Context, step *models.WorkflowRunStep, expected models.StepStatus) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE workflow_run_steps
		SET status = $2, agent_task_id = $3, output_context = $4, error_message = $5,
			updated_at = $6, started_at = $7, completed_at = $8
		WHERE id = $1 AND status = $9`,
		step.ID, string(step.Status), step.AgentTaskID, step.OutputContext, step.ErrorMessage,
		step.UpdatedAt, step.StartedAt, step.CompletedAt, string(expected))
	if err != nil {
		return fmt.Errorf("update workflow run step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, "workflow_run_steps", step.ID)
	}
	return nil
}

// --- agent tasks ---

const taskColumns = `id, tenant_id, agent_id, task_type, payload, status, result, error_message, created_at, updated_at`

func scanPGTask(row rowScanner) (*models.AgentTask, error) {
	var task models.AgentTask
	var status string
	if err := row.Scan(&task.ID, &task.TenantID, &task.AgentID, &task.TaskType, &task.Payload, &status,
		&task.Result, &task.ErrorMessage, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)
	return &task, nil
}

// CreateTask inserts an agent task, assigning an ID and timestamps when missing.
func (s *PostgresStore) CreateTask(ctx context.Context, task *models.AgentTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO agent_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID, task.TenantID, task.AgentID, task.TaskType, nonNilContext(task.Payload), string(task.Status),
		task.Result, task.ErrorMessage, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert agent task: %w", err)
	}
	return nil
}

// GetTask retrieves an agent task by its ID.
func (s *PostgresStore) GetTask(ctx context.Context, id string) (*models.AgentTask, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+taskColumns+` FROM agent_tasks WHERE id = $1`, id)
	task, err := scanPGTask(row)
	if err != nil {
		return nil, fmt.Errorf("get agent task %s: %w", id, pgNotFound(err))
	}
	return task, nil
}

// UpdateTask writes an agent task's status, result and error.
func (s *PostgresStore) UpdateTask(ctx context.Context, task *models.AgentTask) error {
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = time.Now().UTC()
	}
	tag, err := s.q(ctx).Exec(ctx, `UPDATE agent_tasks
		SET status = $2, result = $3, error_message = $4, updated_at = $5 WHERE id = $1`,
		task.ID, string(task.Status), task.Result, task.ErrorMessage, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update agent task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent task %s: %w", task.ID, ErrNotFound)
	}
	return nil
}

var _ Repository = (*PostgresStore)(nil)
