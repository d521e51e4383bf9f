package swarmregistry

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/hive/internal/orcherr"
	"github.com/mtzanidakis/hive/internal/schedule"
)

// CreateTask inserts a new scheduled task, computing its first next_run_at
// from the provided schedule string (spec.md §4.3's Scheduler module).
// sched is normalized before it is stored, so a task.add caller may pass a
// plain cron string ("0 9 * * *") instead of hand-building the {kind,
// cron_expr} JSON envelope every other schedule.Schedule consumer expects.
func (r *Registry) CreateTask(agentID, name, prompt, sched string) (string, error) {
	normalized, err := schedule.NormalizeSchedule(sched)
	if err != nil {
		return "", orcherr.Wrap(orcherr.ErrValidation, "invalid schedule %q", sched)
	}
	id := uuid.NewString()
	next := schedule.CalculateNextRun(normalized)

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.Exec(`
		INSERT INTO scheduled_tasks (id, agent_id, name, schedule, prompt, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?)`,
		id, agentID, name, normalized, prompt, nullableTime(next))
	if err != nil {
		return "", orcherr.Wrap(orcherr.ErrIO, "create task %s", name)
	}
	return id, nil
}

// DueTasks satisfies internal/schedule.TaskSource: every active task whose
// next_run_at has passed.
func (r *Registry) DueTasks(now time.Time) ([]schedule.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`
		SELECT id, agent_id, name, prompt, schedule
		FROM scheduled_tasks
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.ErrIO, "query due tasks")
	}
	defer rows.Close()

	var out []schedule.Task
	for rows.Next() {
		var t schedule.Task
		if err := rows.Scan(&t.ID, &t.AgentID, &t.Name, &t.Prompt, &t.Schedule); err != nil {
			return nil, orcherr.Wrap(orcherr.ErrIO, "scan due task")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordRun satisfies internal/schedule.TaskSource: records the outcome of
// one execution and advances next_run_at.
func (r *Registry) RecordRun(taskID, status, errMsg string, nextRun *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		UPDATE scheduled_tasks
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`,
		status, errMsg, nullableTime(nextRun), taskID)
	if err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "record run for task %s", taskID)
	}
	return nil
}

// MarkCompleted satisfies internal/schedule.TaskSource: a one-off task
// with no further next_run_at is retired rather than polled forever.
func (r *Registry) MarkCompleted(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`UPDATE scheduled_tasks SET status = 'completed' WHERE id = ?`, taskID)
	if err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "mark task %s completed", taskID)
	}
	return nil
}

// DeleteTask removes a scheduled task entirely.
func (r *Registry) DeleteTask(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(`DELETE FROM scheduled_tasks WHERE id = ?`, taskID)
	if err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "delete task %s", taskID)
	}
	return nil
}

// TaskInfo is the full row returned by ListTasks. The Gateway exposes no
// task operations, so nothing outside this package reads it yet.
type TaskInfo struct {
	ID           string
	AgentID      string
	Name         string
	Prompt       string
	Schedule     string
	ScheduleText string // human-readable form of Schedule, e.g. "Every hour"
	Status       string
	NextRunAt    *time.Time
	LastRunAt    *time.Time
	LastStatus   string
	LastError    string
}

func (r *Registry) ListTasks() ([]TaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`
		SELECT id, agent_id, name, prompt, schedule, status, next_run_at, last_run_at, last_status, last_error
		FROM scheduled_tasks ORDER BY name`)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.ErrIO, "list tasks")
	}
	defer rows.Close()

	var out []TaskInfo
	for rows.Next() {
		var t TaskInfo
		var nextRun, lastRun sql.NullTime
		var lastStatus, lastError sql.NullString
		if err := rows.Scan(&t.ID, &t.AgentID, &t.Name, &t.Prompt, &t.Schedule, &t.Status, &nextRun, &lastRun, &lastStatus, &lastError); err != nil {
			return nil, orcherr.Wrap(orcherr.ErrIO, "scan task row")
		}
		if nextRun.Valid {
			t.NextRunAt = &nextRun.Time
		}
		if lastRun.Valid {
			t.LastRunAt = &lastRun.Time
		}
		t.LastStatus = lastStatus.String
		t.LastError = lastError.String
		t.ScheduleText = schedule.FormatSchedule(t.Schedule)
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
