package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtzanidakis/hive/internal/mail"
)

// Task is one scheduled mail definition: on each due tick, Prompt is
// synthesized into a metadata.type=="cron" mail.Mail sent to AgentID
// (SPEC_FULL.md §2's ambient scheduler, adapted from the teacher's
// store.ScheduledTask executing agent prompts directly).
type Task struct {
	ID       string
	Name     string
	AgentID  string
	Prompt   string
	Schedule string // JSON schedule string, see Schedule/ParseSchedule
}

// TaskSource is the persistence side the Scheduler polls and reports back
// to. Satisfied by internal/swarmregistry.Registry.
type TaskSource interface {
	DueTasks(now time.Time) ([]Task, error)
	RecordRun(taskID, status, errMsg string, nextRun *time.Time) error
	MarkCompleted(taskID string) error
}

// Router is the single hand-off point for a synthesized cron mail.
// Satisfied by *internal/mailrouter.Router.
type Router interface {
	Route(m *mail.Mail) error
}

// Scheduler polls TaskSource on a ticker and routes each due task's
// synthesized mail through Router, carried over from the teacher's
// scheduler.Scheduler poll-then-execute loop with UpdateConfig's
// reload-channel discipline kept for runtime poll-interval changes.
type Scheduler struct {
	source       TaskSource
	router       Router
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(source TaskSource, router Router, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Scheduler{
		source:       source,
		router:       router,
		pollInterval: pollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig changes the poll interval at runtime and wakes the run loop
// to reset its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.pollInterval = pollInterval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler poll interval reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Scheduler) poll() {
	tasks, err := s.source.DueTasks(time.Now())
	if err != nil {
		slog.Error("failed to get due tasks", "error", err)
		return
	}
	for _, task := range tasks {
		s.execute(task)
	}
}

func (s *Scheduler) execute(task Task) {
	slog.Info("executing scheduled task", "id", task.ID, "name", task.Name, "agent", task.AgentID)

	m := mail.New("system", task.AgentID, "Scheduled: "+task.Name, task.Prompt, mail.TypeCron)

	var status, errMsg string
	if err := s.router.Route(m); err != nil {
		status, errMsg = "error", err.Error()
		slog.Error("scheduled task routing failed", "id", task.ID, "error", err)
	} else {
		status = "success"
	}

	nextRun := CalculateNextRun(task.Schedule)
	if err := s.source.RecordRun(task.ID, status, errMsg, nextRun); err != nil {
		slog.Error("failed to record task run", "id", task.ID, "error", err)
	}

	if nextRun == nil {
		slog.Info("no next run, marking one-off task completed", "id", task.ID, "name", task.Name)
		if err := s.source.MarkCompleted(task.ID); err != nil {
			slog.Error("failed to mark task completed", "id", task.ID, "error", err)
		}
	}
}
