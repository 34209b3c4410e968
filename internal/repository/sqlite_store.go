package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

// SQLiteStore persists workflow state in SQLite. It backs local CLI use and tests.
type SQLiteStore struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

func toNullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func fromNullString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func encodeContext(c models.Context) (string, error) {
	data, err := json.Marshal(nonNilContext(c))
	if err != nil {
		return "", fmt.Errorf("encode context: %w", err)
	}
	return string(data), nil
}

func encodeNullContext(c models.Context) (sql.NullString, error) {
	if c == nil {
		return sql.NullString{}, nil
	}
	s, err := encodeContext(c)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func decodeContext(value sql.NullString) (models.Context, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	var c models.Context
	if err := json.Unmarshal([]byte(value.String), &c); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return c, nil
}

// OpenSQLite opens a SQLite store at path. ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	var dsn string
	memory := path == ":memory:"
	if memory {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		dsn = filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if memory {
		// Every connection to :memory: is a distinct database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTxKey struct{}

func (s *SQLiteStore) q(ctx context.Context) sqliteQuerier {
	if tx, ok := ctx.Value(sqliteTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.sqlDB
}

// WithinTx runs fn inside a transaction, joining an outer one when present.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(sqliteTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, sqliteTxKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Migrate applies embedded migrations at most once per file.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, m := range migrations {
		err := s.WithinTx(ctx, func(ctx context.Context) error {
			var found int
			err := s.q(ctx).QueryRowContext(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = ?", m.Name).Scan(&found)
			if err == nil {
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("check migration %s: %w", m.Name, err)
			}
			if _, err := s.q(ctx).ExecContext(ctx, m.Up); err != nil {
				return fmt.Errorf("exec migration %s: %w", m.Name, err)
			}
			if _, err := s.q(ctx).ExecContext(ctx, "INSERT INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
				m.Name, toMillis(time.Now())); err != nil {
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

func sqliteNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLiteStore) missingOrConflict(ctx context.Context, table, id string) error {
	var found int
	err := s.q(ctx).QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s: %w", table, id, ErrConflict)
}

// --- workflows ---

const sqliteWorkflowColumns = `id, tenant_id, key, name, description, version, is_active, created_at, updated_at`

func scanSQLiteWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		w                    models.Workflow
		tenantID             sql.NullString
		isActive             int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&w.ID, &tenantID, &w.Key, &w.Name, &w.Description, &w.Version, &isActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	w.TenantID = fromNullString(tenantID)
	w.IsActive = isActive != 0
	w.CreatedAt = fromMillis(createdAt)
	w.UpdatedAt = fromMillis(updatedAt)
	return &w, nil
}

// FindActiveWorkflow returns the newest active workflow in the exact tenant scope.
func (s *SQLiteStore) FindActiveWorkflow(ctx context.Context, tenantID *string, key string) (*models.Workflow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+sqliteWorkflowColumns+` FROM workflows
		WHERE key = ? AND is_active = 1 AND tenant_id IS ?
		ORDER BY version DESC LIMIT 1`, key, toNullString(tenantID))
	w, err := scanSQLiteWorkflow(row)
	if err != nil {
		return nil, fmt.Errorf("find workflow %s: %w", key, sqliteNotFound(err))
	}
	return w, nil
}

// GetWorkflow retrieves a workflow by its ID.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+sqliteWorkflowColumns+` FROM workflows WHERE id = ?`, id)
	w, err := scanSQLiteWorkflow(row)
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, sqliteNotFound(err))
	}
	return w, nil
}

// GetWorkflowSteps returns the workflow's steps ordered by order_index.
func (s *SQLiteStore) GetWorkflowSteps(ctx context.Context, workflowID string) ([]models.WorkflowStep, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id, workflow_id, key, name, step_type, order_index, config, created_at
		FROM workflow_steps WHERE workflow_id = ? ORDER BY order_index, key`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	defer rows.Close()

	var steps []models.WorkflowStep
	for rows.Next() {
		var (
			step      models.WorkflowStep
			stepType  string
			config    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.Key, &step.Name, &stepType, &step.OrderIndex, &config, &createdAt); err != nil {
			return nil, fmt.Errorf("scan workflow step: %w", err)
		}
		step.StepType = models.StepType(stepType)
		step.CreatedAt = fromMillis(createdAt)
		if step.Config, err = decodeContext(config); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// GetWorkflowEdges returns every edge of the workflow.
func (s *SQLiteStore) GetWorkflowEdges(ctx context.Context, workflowID string) ([]models.WorkflowStepEdge, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id, workflow_id, from_step_id, to_step_id
		FROM workflow_step_edges WHERE workflow_id = ? ORDER BY id`, workflowID)
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
func (s *SQLiteStore) ListWorkflows(ctx context.Context, tenantID string, filter WorkflowFilter) ([]models.Workflow, error) {
	query := `SELECT ` + sqliteWorkflowColumns + ` FROM workflows WHERE (tenant_id = ? OR tenant_id IS NULL)`
	args := []any{tenantID}
	switch filter.Status {
	case "active":
		query += ` AND is_active = 1`
	case "inactive":
		query += ` AND is_active = 0`
	}
	query += ` ORDER BY key, tenant_id IS NULL, version DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []models.Workflow
	for rows.Next() {
		w, err := scanSQLiteWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, *w)
	}
	return workflows, rows.Err()
}

// LatestWorkflowVersion returns the highest stored version, 0 when the key is new.
func (s *SQLiteStore) LatestWorkflowVersion(ctx context.Context, tenantID *string, key string) (int, error) {
	var version int
	err := s.q(ctx).QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM workflows
		WHERE key = ? AND tenant_id IS ?`, key, toNullString(tenantID)).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("latest workflow version: %w", err)
	}
	return version, nil
}

// DeactivateWorkflows marks all versions of a key inactive within a tenant scope.
func (s *SQLiteStore) DeactivateWorkflows(ctx context.Context, tenantID *string, key string) error {
	_, err := s.q(ctx).ExecContext(ctx, `UPDATE workflows SET is_active = 0, updated_at = ?
		WHERE key = ? AND tenant_id IS ? AND is_active = 1`, toMillis(time.Now()), key, toNullString(tenantID))
	if err != nil {
		return fmt.Errorf("deactivate workflows: %w", err)
	}
	return nil
}

// CreateWorkflow inserts a workflow with its steps and edges in one transaction.
func (s *SQLiteStore) CreateWorkflow(ctx context.Context, workflow *models.Workflow, steps []models.WorkflowStep, edges []models.WorkflowStepEdge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.WithinTx(ctx, func(ctx context.Context) error {
		if workflow.ID == "" {
			workflow.ID = uuid.New().String()
		}
		isActive := 0
		if workflow.IsActive {
			isActive = 1
		}
		_, err := s.q(ctx).ExecContext(ctx, `INSERT INTO workflows (`+sqliteWorkflowColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			workflow.ID, toNullString(workflow.TenantID), workflow.Key, workflow.Name, workflow.Description,
			workflow.Version, isActive, toMillis(workflow.CreatedAt), toMillis(workflow.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}
		for i := range steps {
			step := &steps[i]
			step.WorkflowID = workflow.ID
			config, err := encodeContext(step.Config)
			if err != nil {
				return err
			}
			_, err = s.q(ctx).ExecContext(ctx, `INSERT INTO workflow_steps
				(id, workflow_id, key, name, step_type, order_index, config, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				step.ID, step.WorkflowID, step.Key, step.Name, string(step.StepType), step.OrderIndex,
				config, toMillis(step.CreatedAt))
			if err != nil {
				return fmt.Errorf("insert workflow step %s: %w", step.Key, err)
			}
		}
		for i := range edges {
			edge := &edges[i]
			edge.WorkflowID = workflow.ID
			_, err := s.q(ctx).ExecContext(ctx, `INSERT INTO workflow_step_edges (id, workflow_id, from_step_id, to_step_id)
				VALUES (?, ?, ?, ?)`, edge.ID, edge.WorkflowID, edge.FromStepID, edge.ToStepID)
			if err != nil {
				return fmt.Errorf("insert workflow edge: %w", err)
			}
		}
		return nil
	})
}

// --- runs ---

const sqliteRunColumns = `id, tenant_id, workflow_id, status, context, triggered_by_user_id, error_message,
	created_at, updated_at, started_at, completed_at`

func scanSQLiteRun(row rowScanner) (*models.WorkflowRun, error) {
	var (
		run                    models.WorkflowRun
		status                 string
		runContext             sql.NullString
		triggeredBy, errMsg    sql.NullString
		createdAt, updatedAt   int64
		startedAt, completedAt sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.TenantID, &run.WorkflowID, &status, &runContext, &triggeredBy, &errMsg,
		&createdAt, &updatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	var err error
	if run.Context, err = decodeContext(runContext); err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.TriggeredByUserID = fromNullString(triggeredBy)
	run.ErrorMessage = fromNullString(errMsg)
	run.CreatedAt = fromMillis(createdAt)
	run.UpdatedAt = fromMillis(updatedAt)
	run.StartedAt = fromNullMillis(startedAt)
	run.CompletedAt = fromNullMillis(completedAt)
	return &run, nil
}

// CreateRun inserts a workflow run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	runContext, err := encodeContext(run.Context)
	if err != nil {
		return err
	}
	_, err = s.q(ctx).ExecContext(ctx, `INSERT INTO workflow_runs (`+sqliteRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TenantID, run.WorkflowID, string(run.Status), runContext,
		toNullString(run.TriggeredByUserID), toNullString(run.ErrorMessage),
		toMillis(run.CreatedAt), toMillis(run.UpdatedAt), toNullMillis(run.StartedAt), toNullMillis(run.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by its ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.WorkflowRun, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM workflow_runs WHERE id = ?`, id)
	run, err := scanSQLiteRun(row)
	if err != nil {
		return nil, fmt.Errorf("get workflow run %s: %w", id, sqliteNotFound(err))
	}
	return run, nil
}

// ListRuns returns a tenant's runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, tenantID string, filter RunFilter) ([]models.WorkflowRun, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM workflow_runs WHERE tenant_id = ?`
	args := []any{tenantID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []models.WorkflowRun
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// UpdateRun writes the run's mutable fields if its stored status equals expected.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.WorkflowRun, expected models.RunStatus) error {
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE workflow_runs
		SET status = ?, error_message = ?, updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(run.Status), toNullString(run.ErrorMessage), toMillis(run.UpdatedAt),
		toNullMillis(run.StartedAt), toNullMillis(run.CompletedAt), run.ID, string(expected))
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}
	if affected == 0 {
		return s.missingOrConflict(ctx, "workflow_runs", run.ID)
	}
	return nil
}

// ListActiveTenants returns tenants that own pending or running runs.
func (s *SQLiteStore) ListActiveTenants(ctx context.Context) ([]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT DISTINCT tenant_id FROM workflow_runs
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

func scanSQLiteRunStep(row rowScanner) (*models.WorkflowRunStep, error) {
	var (
		step                   models.WorkflowRunStep
		status                 string
		taskID, errMsg         sql.NullString
		input, output          sql.NullString
		createdAt, updatedAt   int64
		startedAt, completedAt sql.NullInt64
	)
	if err := row.Scan(&step.ID, &step.RunID, &step.StepID, &status, &taskID, &input, &output, &errMsg,
		&createdAt, &updatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	var err error
	if step.InputContext, err = decodeContext(input); err != nil {
		return nil, err
	}
	if step.OutputContext, err = decodeContext(output); err != nil {
		return nil, err
	}
	step.Status = models.StepStatus(status)
	step.AgentTaskID = fromNullString(taskID)
	step.ErrorMessage = fromNullString(errMsg)
	step.CreatedAt = fromMillis(createdAt)
	step.UpdatedAt = fromMillis(updatedAt)
	step.StartedAt = fromNullMillis(startedAt)
	step.CompletedAt = fromNullMillis(completedAt)
	return &step, nil
}

func (s *SQLiteStore) queryRunSteps(ctx context.Context, query string, args ...any) ([]models.WorkflowRunStep, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow run steps: %w", err)
	}
	defer rows.Close()

	var steps []models.WorkflowRunStep
	for rows.Next() {
		step, err := scanSQLiteRunStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run step: %w", err)
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// CreateRunSteps inserts run-steps.
func (s *SQLiteStore) CreateRunSteps(ctx context.Context, steps []models.WorkflowRunStep) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		for _, step := range steps {
			input, err := encodeContext(step.InputContext)
			if err != nil {
				return err
			}
			output, err := encodeNullContext(step.OutputContext)
			if err != nil {
				return err
			}
			_, err = s.q(ctx).ExecContext(ctx, `INSERT INTO workflow_run_steps (`+runStepColumns("")+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				step.ID, step.RunID, step.StepID, string(step.Status), toNullString(step.AgentTaskID), input, output,
				toNullString(step.ErrorMessage), toMillis(step.CreatedAt), toMillis(step.UpdatedAt),
				toNullMillis(step.StartedAt), toNullMillis(step.CompletedAt))
			if err != nil {
				return fmt.Errorf("insert workflow run step: %w", err)
			}
		}
		return nil
	})
}

// ListRunSteps returns a run's steps in template order.
func (s *SQLiteStore) ListRunSteps(ctx context.Context, runID string) ([]models.WorkflowRunStep, error) {
	return s.queryRunSteps(ctx, `SELECT `+runStepColumns("rs.")+` FROM workflow_run_steps rs
		JOIN workflow_steps st ON st.id = rs.step_id
		WHERE rs.run_id = ? ORDER BY st.order_index, st.key`, runID)
}

// GetRunStep retrieves a run-step by its ID.
func (s *SQLiteStore) GetRunStep(ctx context.Context, id string) (*models.WorkflowRunStep, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+runStepColumns("")+` FROM workflow_run_steps WHERE id = ?`, id)
	step, err := scanSQLiteRunStep(row)
	if err != nil {
		return nil, fmt.Errorf("get workflow run step %s: %w", id, sqliteNotFound(err))
	}
	return step, nil
}

// FindRunStepByTask returns the run-step linked to an agent task.
func (s *SQLiteStore) FindRunStepByTask(ctx context.Context, taskID string) (*models.WorkflowRunStep, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+runStepColumns("")+` FROM workflow_run_steps
		WHERE agent_task_id = ? ORDER BY created_at LIMIT 1`, taskID)
	step, err := scanSQLiteRunStep(row)
	if err != nil {
		return nil, fmt.Errorf("find run step for task %s: %w", taskID, sqliteNotFound(err))
	}
	return step, nil
}

// ListWaitingRunSteps returns run-steps waiting on an agent task for a tenant.
func (s *SQLiteStore) ListWaitingRunSteps(ctx context.Context, tenantID string) ([]models.WorkflowRunStep, error) {
	return s.queryRunSteps(ctx, `SELECT `+runStepColumns("rs.")+` FROM workflow_run_steps rs
		JOIN workflow_runs r ON r.id = rs.run_id
		WHERE r.tenant_id = ? AND rs.status = ? AND rs.agent_task_id IS NOT NULL
		ORDER BY rs.started_at, rs.id`, tenantID, string(models.StepStatusWaitingForTask))
}

// UpdateRunStep writes the run-step's mutable fields if its stored status equals expected.
func (s *SQLiteStore) UpdateRunStep(ctx context.Context, step *models.WorkflowRunStep, expected models.StepStatus) error {
	output, err := encodeNullContext(step.OutputContext)
	if err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE workflow_run_steps
		SET status = ?, agent_task_id = ?, output_context = ?, error_message = ?,
			updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(step.Status), toNullString(step.AgentTaskID), output, toNullString(step.ErrorMessage),
		toMillis(step.UpdatedAt), toNullMillis(step.StartedAt), toNullMillis(step.CompletedAt),
		step.ID, string(expected))
	if err != nil {
		return fmt.Errorf("update workflow run step: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workflow run step: %w", err)
	}
	if affected == 0 {
		return s.missingOrConflict(ctx, "workflow_run_steps", step.ID)
	}
	return nil
}

// --- agent tasks ---

func scanSQLiteTask(row rowScanner) (*models.AgentTask, error) {
	var (
		task                 models.AgentTask
		status               string
		payload, result      sql.NullString
		errMsg               sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&task.ID, &task.TenantID, &task.AgentID, &task.TaskType, &payload, &status,
		&result, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if task.Payload, err = decodeContext(payload); err != nil {
		return nil, err
	}
	if task.Result, err = decodeContext(result); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)
	task.ErrorMessage = fromNullString(errMsg)
	task.CreatedAt = fromMillis(createdAt)
	task.UpdatedAt = fromMillis(updatedAt)
	return &task, nil
}

// CreateTask inserts an agent task, assigning an ID and timestamps when missing.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.AgentTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
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
	payload, err := encodeContext(task.Payload)
	if err != nil {
		return err
	}
	result, err := encodeNullContext(task.Result)
	if err != nil {
		return err
	}
	_, err = s.q(ctx).ExecContext(ctx, `INSERT INTO agent_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.TenantID, task.AgentID, task.TaskType, payload, string(task.Status),
		result, toNullString(task.ErrorMessage), toMillis(task.CreatedAt), toMillis(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert agent task: %w", err)
	}
	return nil
}

// GetTask retrieves an agent task by its ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.AgentTask, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM agent_tasks WHERE id = ?`, id)
	task, err := scanSQLiteTask(row)
	if err != nil {
		return nil, fmt.Errorf("get agent task %s: %w", id, sqliteNotFound(err))
	}
	return task, nil
}

// UpdateTask writes an agent task's status, result and error.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *models.AgentTask) error {
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = time.Now().UTC()
	}
	result, err := encodeNullContext(task.Result)
	if err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE agent_tasks
		SET status = ?, result = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(task.Status), result, toNullString(task.ErrorMessage), toMillis(task.UpdatedAt), task.ID)
	if err != nil {
		return fmt.Errorf("update agent task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent task: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("agent task %s: %w", task.ID, ErrNotFound)
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
