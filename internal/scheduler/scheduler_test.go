package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wonny/cepfolio/pkg/logger"
)

type stubJob struct {
	name     string
	schedule string
	failures int
	runs     int
}

func (j *stubJob) Name() string     { return j.name }
func (j *stubJob) Schedule() string { return j.schedule }

func (j *stubJob) Run(ctx context.Context) error {
	j.runs++
	if j.runs <= j.failures {
		return errors.New("transient failure")
	}
	return nil
}

func newTestScheduler() *Scheduler {
	s := New(logger.NewNop())
	s.retryDelay = time.Millisecond
	return s
}

func TestAddJobRejectsDuplicates(t *testing.T) {
	s := newTestScheduler()
	job := &stubJob{name: "refresh", schedule: "@daily"}

	if err := s.AddJob(job); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if err := s.AddJob(job); err == nil {
		t.Fatal("expected duplicate job error")
	}
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := newTestScheduler()
	if err := s.AddJob(&stubJob{name: "bad", schedule: "not a cron expr"}); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestRunJobUnknown(t *testing.T) {
	s := newTestScheduler()
	if err := s.RunJob("missing"); err == nil {
		t.Fatal("expected unknown job error")
	}
}

func TestRunJobRetriesAndRecordsHistory(t *testing.T) {
	s := newTestScheduler()
	job := &stubJob{name: "refresh", schedule: "@daily", failures: 2}
	if err := s.AddJob(job); err != nil {
		t.Fatal(err)
	}

	s.runJob(job)

	if job.runs != 3 {
		t.Errorf("expected 3 attempts, got %d", job.runs)
	}
	history, err := s.History("refresh")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 result, got %d", len(history))
	}
	if !history[0].Success {
		t.Errorf("expected success after retries, got %+v", history[0])
	}
}

func TestRunJobRecordsFailure(t *testing.T) {
	s := newTestScheduler()
	job := &stubJob{name: "refresh", schedule: "@daily", failures: 10}
	if err := s.AddJob(job); err != nil {
		t.Fatal(err)
	}

	s.runJob(job)

	history, _ := s.History("refresh")
	if len(history) != 1 || history[0].Success {
		t.Fatalf("expected one failed result, got %+v", history)
	}
	if history[0].Error == "" {
		t.Error("expected error message in failed result")
	}
}

func TestJobsListsRegisteredNames(t *testing.T) {
	s := newTestScheduler()
	_ = s.AddJob(&stubJob{name: "a", schedule: "@daily"})
	_ = s.AddJob(&stubJob{name: "b", schedule: "@hourly"})

	names := s.Jobs()
	if len(names) != 2 {
		t.Errorf("expected 2 jobs, got %v", names)
	}
}
