package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/digistore1/digistore-backend/pkg/logger"
)

type fakeLock struct {
	held     map[string]bool
	released []string
}

func newFakeLock(held ...string) *fakeLock {
	l := &fakeLock{held: map[string]bool{}}
	for _, job := range held {
		l.held[job] = true
	}
	return l
}

func (f *fakeLock) Acquire(_ context.Context, job string) (bool, error) {
	if f.held[job] {
		return false, nil
	}
	f.held[job] = true
	return true, nil
}

func (f *fakeLock) Release(_ context.Context, job string) error {
	delete(f.held, job)
	f.released = append(f.released, job)
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func TestRunDueRunsEveryJobEvenOnFailure(t *testing.T) {
	success := &testJob{name: "checkout-reconcile"}
	failure := &testJob{name: "gift-card-expiry", err: errors.New("boom")}
	lock := newFakeLock()
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(success, failure),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	service.runDue(context.Background())

	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected both jobs to run once, got %d and %d", success.runs, failure.runs)
	}
	if len(lock.released) != 2 {
		t.Fatalf("expected both job locks released, got %v", lock.released)
	}
}

func TestRunDueSkipsJobHeldElsewhere(t *testing.T) {
	reconcile := &testJob{name: "checkout-reconcile"}
	expiry := &testJob{name: "gift-card-expiry"}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(reconcile, expiry),
		Lock:     newFakeLock("gift-card-expiry"),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	service.runDue(context.Background())

	if reconcile.runs != 1 {
		t.Fatalf("expected reconcile to run, ran %d", reconcile.runs)
	}
	if expiry.runs != 0 {
		t.Fatalf("expected expiry skipped while another instance holds it")
	}
}

func TestRunDueWaitsForCadence(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	job := &testJob{name: "outbox-retention"}
	registry := NewRegistry()
	registry.Register(job, 24*time.Hour)
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: registry,
		Lock:     newFakeLock(),
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	service.runDue(context.Background())
	now = now.Add(time.Hour)
	service.runDue(context.Background())
	if job.runs != 1 {
		t.Fatalf("expected one run within the cadence, got %d", job.runs)
	}
	now = now.Add(23 * time.Hour)
	service.runDue(context.Background())
	if job.runs != 2 {
		t.Fatalf("expected second run after a day, got %d", job.runs)
	}
}

func TestNewServiceRequiresLoggerAndLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Lock: newFakeLock()}); err == nil {
		t.Fatalf("expected logger error")
	}
	if _, err := NewService(ServiceParams{Logger: logger.Nop()}); err == nil {
		t.Fatalf("expected lock error")
	}
}
