package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kabelnet/ispbot/internal/models"
)

// DefaultAuditBuffer is the number of events AuditLogger holds before dropping.
const DefaultAuditBuffer = 1024

// AuditLogger writes conversation events to an AuditRepo in the background.
// LogEvent never blocks; events are dropped when the buffer is full.
type AuditLogger struct {
	repo    AuditRepo
	events  chan models.EventRecord
	dropped atomic.Int64
	once    sync.Once
	done    chan struct{}
}

// NewAuditLogger creates an AuditLogger. Call Run to start writing.
func NewAuditLogger(repo AuditRepo, buffer int) *AuditLogger {
	if buffer <= 0 {
		buffer = DefaultAuditBuffer
	}
	return &AuditLogger{
		repo:   repo,
		events: make(chan models.EventRecord, buffer),
		done:   make(chan struct{}),
	}
}

// LogEvent queues an event for persistence.
func (l *AuditLogger) LogEvent(ev models.EventRecord) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.events <- ev:
	default:
		n := l.dropped.Add(1)
		slog.Warn("AuditLogger.LogEvent: buffer full, dropping event", "kind", ev.Kind, "user_id", ev.UserID, "dropped_total", n)
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (l *AuditLogger) Dropped() int64 { return l.dropped.Load() }

// Run writes queued events until ctx is cancelled, then drains what is left.
func (l *AuditLogger) Run(ctx context.Context) error {
	slog.Info("AuditLogger.Run: starting", "buffer", cap(l.events))
	for {
		select {
		case ev := <-l.events:
			l.write(ctx, ev)
		case <-ctx.Done():
			l.once.Do(func() { close(l.done) })
			l.drain()
			slog.Info("AuditLogger.Run: stopped", "dropped", l.dropped.Load())
			return nil
		}
	}
}

func (l *AuditLogger) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-l.events:
			l.write(ctx, ev)
		default:
			return
		}
	}
}

func (l *AuditLogger) write(ctx context.Context, ev models.EventRecord) {
	if err := l.repo.InsertAuditEvent(ctx, ev); err != nil {
		slog.Error("AuditLogger: insert failed", "id", ev.ID, "kind", ev.Kind, "error", err)
	}
}
