package cron

import (
	"context"
	"testing"
	"time"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	reconcile := &stubJob{name: "checkout-reconcile"}
	expiry := &stubJob{name: "gift-card-expiry"}
	registry.Register(reconcile, 5*time.Minute)
	registry.Register(expiry, time.Hour)
	registry.Register(nil, time.Hour)

	jobs := registry.Jobs()
	if len(jobs) != 2 || jobs[0] != reconcile || jobs[1] != expiry {
		t.Fatalf("unexpected jobs %v", jobs)
	}
}

func TestRegistryDueHonoursCadence(t *testing.T) {
	registry := NewRegistry()
	reconcile := &stubJob{name: "checkout-reconcile"}
	expiry := &stubJob{name: "gift-card-expiry"}
	registry.Register(reconcile, 5*time.Minute)
	registry.Register(expiry, time.Hour)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if due := registry.Due(start); len(due) != 2 {
		t.Fatalf("expected never-run jobs due, got %d", len(due))
	}
	registry.MarkRun(reconcile, start)
	registry.MarkRun(expiry, start)

	if due := registry.Due(start.Add(time.Minute)); len(due) != 0 {
		t.Fatalf("expected nothing due after a minute, got %d", len(due))
	}
	due := registry.Due(start.Add(5 * time.Minute))
	if len(due) != 1 || due[0] != reconcile {
		t.Fatalf("expected only reconcile due, got %v", due)
	}
	if due := registry.Due(start.Add(time.Hour)); len(due) != 2 {
		t.Fatalf("expected both due after an hour, got %d", len(due))
	}
}
