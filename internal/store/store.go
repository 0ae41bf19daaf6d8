package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/counselgraph/counselgraph/internal/capability"
	"github.com/counselgraph/counselgraph/internal/orchestrator"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

// Matter is one client matter research happens against.
type Matter struct {
	ID            string
	Name          string
	ClientRef     string
	PracticeArea  string
	DocumentTypes []string
	StandingQuery string
	ScheduleCron  string
	CreatedAt     time.Time
}

// PlanRecord is the persisted form of an orchestration plan.
type PlanRecord struct {
	ID            string
	MatterID      string
	UserQuery     string
	Status        string
	PlanJSON      []byte
	TotalDuration int
	CreatedAt     time.Time
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// Matter operations

func (s *Store) CreateMatter(ctx context.Context, m Matter) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO matters (id, name, client_ref, practice_area, document_types, standing_query, schedule_cron, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`,
		m.ID, m.Name, m.ClientRef, m.PracticeArea, pq.Array(m.DocumentTypes), m.StandingQuery, m.ScheduleCron)
	if err != nil {
		return "", fmt.Errorf("create matter: %w", err)
	}
	return m.ID, nil
}

func (s *Store) GetMatter(ctx context.Context, id string) (Matter, bool, error) {
	var m Matter
	err := s.DB.QueryRowContext(ctx, `
SELECT id, name, client_ref, practice_area, document_types, standing_query, schedule_cron, created_at
FROM matters WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.ClientRef, &m.PracticeArea, pq.Array(&m.DocumentTypes), &m.StandingQuery, &m.ScheduleCron, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return Matter{}, false, nil
	}
	if err != nil {
		return Matter{}, false, fmt.Errorf("get matter: %w", err)
	}
	return m, true, nil
}

func (s *Store) ListMatters(ctx context.Context) ([]Matter, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, name, client_ref, practice_area, document_types, standing_query, schedule_cron, created_at
FROM matters ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list matters: %w", err)
	}
	defer rows.Close()
	var out []Matter
	for rows.Next() {
		var m Matter
		if err := rows.Scan(&m.ID, &m.Name, &m.ClientRef, &m.PracticeArea, pq.Array(&m.DocumentTypes), &m.StandingQuery, &m.ScheduleCron, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MatterContext flattens a matter's record into the key/value facts the
// orchestration engine hands to every capability. Empty fields are
// omitted. An unknown matter yields an empty map, not an error.
func (s *Store) MatterContext(ctx context.Context, matterID string) (map[string]string, error) {
	m, ok, err := s.GetMatter(ctx, matterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]string{}, nil
	}
	facts := make(map[string]string)
	put := func(k, v string) {
		if v != "" {
			facts[k] = v
		}
	}
	put("matter", m.Name)
	put("client_ref", m.ClientRef)
	put("practice_area", m.PracticeArea)
	put("document_types", strings.Join(m.DocumentTypes, ", "))
	put("standing_query", m.StandingQuery)
	return facts, nil
}

// LatestPlanTime returns when the most recent plan for a matter was
// created, or nil if none exists.
func (s *Store) LatestPlanTime(ctx context.Context, matterID string) (*time.Time, error) {
	var t time.Time
	err := s.DB.QueryRowContext(ctx, `
SELECT created_at FROM plans WHERE matter_id = $1 ORDER BY created_at DESC LIMIT 1`, matterID).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest plan time: %w", err)
	}
	return &t, nil
}

// Plan operations

func (s *Store) SavePlan(ctx context.Context, plan orchestrator.OrchestrationPlan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO plans (id, matter_id, user_query, status, plan_json, total_duration_seconds, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, plan_json = EXCLUDED.plan_json`,
		plan.ID, plan.MatterID, plan.UserQuery, string(plan.Status), planJSON, plan.TotalEstimatedDuration)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (PlanRecord, bool, error) {
	var rec PlanRecord
	err := s.DB.QueryRowContext(ctx, `
SELECT id, matter_id, user_query, status, plan_json, total_duration_seconds, created_at
FROM plans WHERE id = $1`, id).
		Scan(&rec.ID, &rec.MatterID, &rec.UserQuery, &rec.Status, &rec.PlanJSON, &rec.TotalDuration, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return PlanRecord{}, false, nil
	}
	if err != nil {
		return PlanRecord{}, false, fmt.Errorf("get plan: %w", err)
	}
	return rec, true, nil
}

// ListPlansByMatter returns a matter's run history, newest first.
func (s *Store) ListPlansByMatter(ctx context.Context, matterID string) ([]PlanRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, matter_id, user_query, status, plan_json, total_duration_seconds, created_at
FROM plans WHERE matter_id = $1 ORDER BY created_at DESC`, matterID)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()
	var out []PlanRecord
	for rows.Next() {
		var rec PlanRecord
		if err := rows.Scan(&rec.ID, &rec.MatterID, &rec.UserQuery, &rec.Status, &rec.PlanJSON, &rec.TotalDuration, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePlanStatus(ctx context.Context, id string, status orchestrator.PlanStatus) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE plans SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	return nil
}

// Task operations, satisfying the engine's persistence collaborator.

func (s *Store) CreateTask(ctx context.Context, task orchestrator.Task) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO tasks (id, plan_id, capability, status, created_at)
VALUES ($1,$2,$3,$4,NOW())`,
		task.ID, task.PlanID, string(task.Capability), string(task.Status))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status orchestrator.TaskStatus, output *capability.Result, errMsg string) error {
	var outputJSON []byte
	if output != nil {
		var err error
		outputJSON, err = json.Marshal(output)
		if err != nil {
			return fmt.Errorf("marshal task output: %w", err)
		}
	}
	_, err := s.DB.ExecContext(ctx, `
UPDATE tasks SET status = $2, output = COALESCE($3, output), error = NULLIF($4,''), updated_at = NOW()
WHERE id = $1`,
		id, string(status), outputJSON, errMsg)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (orchestrator.Task, error) {
	var (
		task       orchestrator.Task
		capKind    string
		status     string
		outputJSON []byte
		errMsg     sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, plan_id, capability, status, output, error FROM tasks WHERE id = $1`, id).
		Scan(&task.ID, &task.PlanID, &capKind, &status, &outputJSON, &errMsg)
	if err != nil {
		return orchestrator.Task{}, fmt.Errorf("get task: %w", err)
	}
	task.Capability = capability.Kind(capKind)
	task.Status = orchestrator.TaskStatus(status)
	task.Error = errMsg.String
	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &task.Output); err != nil {
			return orchestrator.Task{}, fmt.Errorf("unmarshal task output: %w", err)
		}
	}
	return task, nil
}
