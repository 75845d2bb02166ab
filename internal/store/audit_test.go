package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kabelnet/ispbot/internal/models"
)

func TestAuditRepo(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	events := []models.EventRecord{
		{ID: "ev-1", UserID: "6281234567890", Kind: models.EventFlowStarted, FlowID: "wifi_name", At: base},
		{ID: "ev-2", UserID: "6281234567890", Kind: models.EventValidationFailed, FlowID: "wifi_name",
			Step: "wifi_name.await_name", Detail: map[string]string{"reason": "too long"}, At: base.Add(time.Minute)},
		{ID: "ev-3", UserID: "6281311112222", Kind: models.EventCancelled, At: base.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		if err := s.InsertAuditEvent(ctx, ev); err != nil {
			t.Fatalf("InsertAuditEvent(%s) failed: %v", ev.ID, err)
		}
	}

	all, err := s.ListAuditEvents(ctx, AuditFilter{})
	if err != nil {
		t.Fatalf("ListAuditEvents failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "ev-3" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	byUser, _ := s.ListAuditEvents(ctx, AuditFilter{UserID: "6281234567890"})
	if len(byUser) != 2 {
		t.Errorf("user filter returned %d events", len(byUser))
	}
	byKind, _ := s.ListAuditEvents(ctx, AuditFilter{Kind: models.EventValidationFailed})
	if len(byKind) != 1 || byKind[0].Detail["reason"] != "too long" || byKind[0].Step != "wifi_name.await_name" {
		t.Errorf("kind filter returned %+v", byKind)
	}
	since, _ := s.ListAuditEvents(ctx, AuditFilter{Since: base.Add(90 * time.Second)})
	if len(since) != 1 || since[0].ID != "ev-3" {
		t.Errorf("since filter returned %+v", since)
	}
	limited, _ := s.ListAuditEvents(ctx, AuditFilter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limit returned %d events", len(limited))
	}

	n, err := s.PruneAuditEvents(ctx, base.Add(30*time.Second))
	if err != nil || n != 1 {
		t.Errorf("PruneAuditEvents = %d, %v; want 1", n, err)
	}
}

func TestAuditLogger_DrainsOnShutdown(t *testing.T) {
	s := newTestSQLiteStore(t)
	logger := NewAuditLogger(s, 64)

	for i := 0; i < 10; i++ {
		logger.LogEvent(models.EventRecord{
			ID:     fmt.Sprintf("ev-%02d", i),
			UserID: "6281234567890",
			Kind:   models.EventStepAdvanced,
			At:     time.Now(),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- logger.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AuditLogger.Run did not stop")
	}

	got, err := s.ListAuditEvents(context.Background(), AuditFilter{})
	if err != nil {
		t.Fatalf("ListAuditEvents failed: %v", err)
	}
	if len(got) != 10 {
		t.Errorf("persisted %d events, want 10", len(got))
	}

	// After shutdown events are ignored rather than queued.
	logger.LogEvent(models.EventRecord{ID: "late", Kind: models.EventBusy})
	if logger.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", logger.Dropped())
	}
}

func TestAuditLogger_DropsWhenFull(t *testing.T) {
	s := newTestSQLiteStore(t)
	logger := NewAuditLogger(s, 2)
	for i := 0; i < 5; i++ {
		logger.LogEvent(models.EventRecord{ID: fmt.Sprintf("ev-%d", i), Kind: models.EventBusy})
	}
	if logger.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", logger.Dropped())
	}
}
