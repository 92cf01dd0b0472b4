package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/golemhq/golem/pkg/models"
)

// SQLiteStore persists tasks in a local SQLite database. The plan,
// context, and artifacts are stored as JSON columns; events get their
// own table keyed by (task_id, seq).
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	goal TEXT NOT NULL,
	context TEXT,
	status TEXT NOT NULL,
	plan TEXT,
	artifacts TEXT,
	error TEXT,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE TABLE IF NOT EXISTS task_events (
	task_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	type TEXT NOT NULL,
	data TEXT,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (task_id, seq)
);
`

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema. WAL mode keeps readers unblocked during writes;
// a single write connection avoids lock contention.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateTask stores a new task record.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task == nil {
		return nil
	}
	contextJSON, err := marshalJSON(task.Context)
	if err != nil {
		return err
	}
	planJSON, err := marshalJSON(task.Plan)
	if err != nil {
		return err
	}
	artifactsJSON, err := marshalJSON(task.Artifacts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, goal, context, status, plan, artifacts, error, created_at, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`,
		task.ID,
		task.Goal,
		contextJSON,
		string(task.Status),
		planJSON,
		artifactsJSON,
		nullableString(task.Error),
		task.CreatedAt,
		nullTimePtr(task.StartedAt),
		nullTimePtr(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask returns the full task record including its event log.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, goal, context, status, plan, artifacts, error, created_at, started_at, completed_at
		FROM tasks WHERE id = ?
	`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	events, err := s.ListEvents(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	task.Events = events
	return task, nil
}

// ListTasks returns tasks in creation order with empty event logs.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter ListFilter) ([]*models.Task, error) {
	query := `
		SELECT id, goal, context, status, plan, artifacts, error, created_at, started_at, completed_at
		FROM tasks`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskStatus transitions a task between statuses with CAS
// semantics.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, from, to models.TaskStatus) error {
	if !from.CanTransitionTo(to) {
		return ErrConflict
	}
	now := time.Now().UTC()
	var (
		res sql.Result
		err error
	)
	switch {
	case to == models.TaskStatusRunning:
		res, err = s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			string(to), now, id, string(from))
	case to.IsTerminal():
		res, err = s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
			string(to), now, id, string(from))
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ? WHERE id = ? AND status = ?`,
			string(to), id, string(from))
	}
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		return ErrConflict
	}
	return nil
}

// SetTaskError records the terminal error string for the task.
func (s *SQLiteStore) SetTaskError(ctx context.Context, id string, message string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET error = ? WHERE id = ?`, message, id)
	if err != nil {
		return fmt.Errorf("set task error: %w", err)
	}
	return requireAffected(res)
}

// UpdatePlan replaces the task's plan.
func (s *SQLiteStore) UpdatePlan(ctx context.Context, id string, plan []*models.Step) error {
	planJSON, err := marshalJSON(plan)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET plan = ? WHERE id = ?`, planJSON, id)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return requireAffected(res)
}

// UpdateStep replaces one step of the plan, matched by step ID.
func (s *SQLiteStore) UpdateStep(ctx context.Context, id string, step *models.Step) error {
	if step == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	defer tx.Rollback()

	var planJSON sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT plan FROM tasks WHERE id = ?`, id).Scan(&planJSON)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}

	var plan []*models.Step
	if planJSON.Valid && planJSON.String != "" {
		if err := json.Unmarshal([]byte(planJSON.String), &plan); err != nil {
			return fmt.Errorf("update step: unmarshal plan: %w", err)
		}
	}
	found := false
	for i, existing := range plan {
		if existing.ID == step.ID {
			plan[i] = step
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}

	updated, err := marshalJSON(plan)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET plan = ? WHERE id = ?`, updated, id); err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	return tx.Commit()
}

// AddArtifact appends an artifact to the task.
func (s *SQLiteStore) AddArtifact(ctx context.Context, id string, artifact models.Artifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add artifact: %w", err)
	}
	defer tx.Rollback()

	var artifactsJSON sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT artifacts FROM tasks WHERE id = ?`, id).Scan(&artifactsJSON)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("add artifact: %w", err)
	}

	var artifacts []models.Artifact
	if artifactsJSON.Valid && artifactsJSON.String != "" {
		if err := json.Unmarshal([]byte(artifactsJSON.String), &artifacts); err != nil {
			return fmt.Errorf("add artifact: unmarshal: %w", err)
		}
	}
	artifacts = append(artifacts, artifact)

	updated, err := marshalJSON(artifacts)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET artifacts = ? WHERE id = ?`, updated, id); err != nil {
		return fmt.Errorf("add artifact: %w", err)
	}
	return tx.Commit()
}

// AppendEvent assigns the next sequence number and appends the event
// inside one transaction.
func (s *SQLiteStore) AppendEvent(ctx context.Context, taskID string, event models.Event) (models.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Event{}, fmt.Errorf("append event: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&status)
	if err == sql.ErrNoRows {
		return models.Event{}, ErrNotFound
	}
	if err != nil {
		return models.Event{}, fmt.Errorf("append event: %w", err)
	}
	if status == string(models.TaskStatusSucceeded) || status == string(models.TaskStatusFailed) {
		return models.Event{}, ErrTerminal
	}

	var maxSeq int64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM task_events WHERE task_id = ?`, taskID).Scan(&maxSeq)
	if err != nil {
		return models.Event{}, fmt.Errorf("append event: %w", err)
	}
	event.Seq = maxSeq + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	dataJSON, err := marshalJSON(event.Data)
	if err != nil {
		return models.Event{}, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_events (task_id, seq, type, data, created_at)
		VALUES (?,?,?,?,?)
	`, taskID, event.Seq, string(event.Type), dataJSON, event.Timestamp)
	if err != nil {
		return models.Event{}, fmt.Errorf("append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Event{}, fmt.Errorf("append event: %w", err)
	}
	return event, nil
}

// ListEvents returns the task's events after the given sequence number.
func (s *SQLiteStore) ListEvents(ctx context.Context, taskID string, afterSeq int64) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, data, created_at
		FROM task_events WHERE task_id = ? AND seq > ?
		ORDER BY seq ASC
	`, taskID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var (
			ev       models.Event
			evType   string
			dataJSON sql.NullString
		)
		if err := rows.Scan(&ev.Seq, &evType, &dataJSON, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = models.EventType(evType)
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &ev.Data); err != nil {
				return nil, fmt.Errorf("unmarshal event data: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

type taskScanner interface {
	Scan(dest ...any) error
}

func scanTask(scanner taskScanner) (*models.Task, error) {
	var (
		task          models.Task
		contextJSON   sql.NullString
		status        string
		planJSON      sql.NullString
		artifactsJSON sql.NullString
		errorMessage  sql.NullString
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)
	if err := scanner.Scan(
		&task.ID,
		&task.Goal,
		&contextJSON,
		&status,
		&planJSON,
		&artifactsJSON,
		&errorMessage,
		&task.CreatedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &task.Context); err != nil {
			return nil, fmt.Errorf("unmarshal task context: %w", err)
		}
	}
	if planJSON.Valid && planJSON.String != "" {
		if err := json.Unmarshal([]byte(planJSON.String), &task.Plan); err != nil {
			return nil, fmt.Errorf("unmarshal task plan: %w", err)
		}
	}
	if artifactsJSON.Valid && artifactsJSON.String != "" {
		if err := json.Unmarshal([]byte(artifactsJSON.String), &task.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshal task artifacts: %w", err)
		}
	}
	if errorMessage.Valid {
		task.Error = errorMessage.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	return &task, nil
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal: %w", err)
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTimePtr(value *time.Time) sql.NullTime {
	if value == nil || value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
