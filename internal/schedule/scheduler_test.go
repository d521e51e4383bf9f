package schedule

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/hive/internal/mail"
)

type fakeSource struct {
	mu        sync.Mutex
	due       []Task
	completed []string
	runs      []string
}

func (f *fakeSource) DueTasks(now time.Time) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	due := f.due
	f.due = nil
	return due, nil
}

func (f *fakeSource) RecordRun(taskID, status, errMsg string, nextRun *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, status)
	return nil
}

func (f *fakeSource) MarkCompleted(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, taskID)
	return nil
}

type recordingRouter struct {
	mu     sync.Mutex
	routed []*mail.Mail
}

func (r *recordingRouter) Route(m *mail.Mail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed = append(r.routed, m)
	return nil
}

func TestScheduler_PollRoutesDueTasks(t *testing.T) {
	source := &fakeSource{due: []Task{{ID: "t1", Name: "digest", AgentID: "bee-a", Prompt: "summarize", Schedule: `{"kind":"once","at_ms":1}`}}}
	router := &recordingRouter{}
	s := New(source, router, time.Hour)

	s.poll()

	router.mu.Lock()
	defer router.mu.Unlock()
	if len(router.routed) != 1 {
		t.Fatalf("expected 1 routed mail, got %d", len(router.routed))
	}
	if router.routed[0].To != "bee-a" {
		t.Fatalf("expected routed mail to bee-a, got %s", router.routed[0].To)
	}
	if router.routed[0].Metadata.Type != mail.TypeCron {
		t.Fatalf("expected metadata.type cron, got %s", router.routed[0].Metadata.Type)
	}
}

func TestScheduler_OneOffTaskMarkedCompletedWhenNoNextRun(t *testing.T) {
	past := time.Now().Add(-time.Hour).UnixMilli()
	source := &fakeSource{due: []Task{{ID: "t1", AgentID: "bee-a", Prompt: "x", Schedule: fmt.Sprintf(`{"kind":"once","at_ms":%d}`, past)}}}
	router := &recordingRouter{}
	s := New(source, router, time.Hour)

	s.poll()

	if len(source.completed) != 1 || source.completed[0] != "t1" {
		t.Fatalf("expected task t1 marked completed, got %v", source.completed)
	}
}

func TestScheduler_RecurringTaskNotMarkedCompleted(t *testing.T) {
	source := &fakeSource{due: []Task{{ID: "t1", AgentID: "bee-a", Prompt: "x", Schedule: `{"kind":"interval","interval_ms":60000}`}}}
	router := &recordingRouter{}
	s := New(source, router, time.Hour)

	s.poll()

	if len(source.completed) != 0 {
		t.Fatalf("expected no completion for recurring task, got %v", source.completed)
	}
}
