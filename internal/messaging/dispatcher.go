package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kabelnet/ispbot/internal/models"
	"github.com/kabelnet/ispbot/internal/store"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent bounds how many inbound messages are handled at once.
const DefaultMaxConcurrent = 32

// MessageHandler turns one inbound message into a reply.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg models.InboundMessage) models.Reply
}

// DispatcherOpts holds optional Dispatcher collaborators.
type DispatcherOpts struct {
	Dedup         store.DedupRepo
	Outbox        store.OutboxRepo
	MaxConcurrent int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*DispatcherOpts)

// WithDedup drops inbound messages whose transport ID was already seen.
func WithDedup(repo store.DedupRepo) DispatcherOption {
	return func(o *DispatcherOpts) { o.Dedup = repo }
}

// WithOutbox queues replies that fail to send for later retry.
func WithOutbox(repo store.OutboxRepo) DispatcherOption {
	return func(o *DispatcherOpts) { o.Outbox = repo }
}

// WithMaxConcurrent sets the number of messages handled in parallel.
func WithMaxConcurrent(n int64) DispatcherOption {
	return func(o *DispatcherOpts) {
		if n > 0 {
			o.MaxConcurrent = n
		}
	}
}

// Dispatcher reads inbound messages from a Service, hands them to the
// engine and delivers the replies. Messages from one sender are handled one
// at a time in arrival order; different senders run in parallel.
type Dispatcher struct {
	svc     Service
	handler MessageHandler
	dedup   store.DedupRepo
	outbox  store.OutboxRepo
	sem     *semaphore.Weighted
	wg      sync.WaitGroup

	mu    sync.Mutex
	boxes map[string]*mailbox
}

// mailbox holds the queued messages of one sender. It exists only while a
// worker is draining it.
type mailbox struct {
	pending []models.InboundMessage
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(svc Service, handler MessageHandler, opts ...DispatcherOption) *Dispatcher {
	cfg := DispatcherOpts{MaxConcurrent: DefaultMaxConcurrent}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		svc:     svc,
		handler: handler,
		dedup:   cfg.Dedup,
		outbox:  cfg.Outbox,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		boxes:   make(map[string]*mailbox),
	}
}

// Run processes inbound messages until ctx is cancelled or the service closes
// its channel, then waits for in-flight messages.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Dispatcher.Run: starting")
	defer d.wg.Wait()

	go d.drainReceipts(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher.Run: stopping")
			return nil
		case msg, ok := <-d.svc.Responses():
			if !ok {
				slog.Info("Dispatcher.Run: inbound channel closed")
				return nil
			}
			// The token is held while the message waits in its mailbox, so
			// queued plus in-flight messages never exceed MaxConcurrent.
			if err := d.sem.Acquire(ctx, 1); err != nil {
				slog.Warn("Dispatcher.Run: dropping message during shutdown", "from", msg.From)
				return nil
			}
			d.enqueue(ctx, d.senderKey(msg.From), msg)
		}
	}
}

func (d *Dispatcher) senderKey(from string) string {
	if key, err := d.svc.ValidateAndCanonicalizeRecipient(from); err == nil {
		return key
	}
	return from
}

// enqueue appends msg to the sender's mailbox and starts a worker when the
// mailbox was idle.
func (d *Dispatcher) enqueue(ctx context.Context, key string, msg models.InboundMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if box, active := d.boxes[key]; active {
		box.pending = append(box.pending, msg)
		return
	}
	box := &mailbox{pending: []models.InboundMessage{msg}}
	d.boxes[key] = box
	d.wg.Add(1)
	go d.drain(ctx, key, box)
}

func (d *Dispatcher) drain(ctx context.Context, key string, box *mailbox) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(box.pending) == 0 {
			delete(d.boxes, key)
			d.mu.Unlock()
			return
		}
		msg := box.pending[0]
		box.pending = box.pending[1:]
		d.mu.Unlock()

		if err := d.Process(ctx, msg); err != nil {
			slog.Error("Dispatcher.drain: failed to process message", "error", err, "from", msg.From)
		}
		d.sem.Release(1)
	}
}

// Pending reports how many senders have messages queued or in flight.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.boxes)
}

func (d *Dispatcher) drainReceipts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-d.svc.Receipts():
			if !ok {
				return
			}
			slog.Debug("Dispatcher: receipt", "to", r.To, "status", r.Status)
		}
	}
}

// Process handles a single inbound message end to end.
func (d *Dispatcher) Process(ctx context.Context, msg models.InboundMessage) error {
	from, err := d.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	msg.From = from
	if strings.TrimSpace(msg.Body) == "" {
		slog.Debug("Dispatcher.Process: ignoring empty message", "from", from)
		return nil
	}

	if d.dedup != nil && msg.MessageID != "" {
		fresh, err := d.dedup.RecordInbound(msg.MessageID, from)
		if err != nil {
			// Fail open and process the message anyway.
			slog.Error("Dispatcher.Process: dedup check failed", "error", err, "message_id", msg.MessageID)
		} else if !fresh {
			slog.Info("Dispatcher.Process: duplicate message dropped", "from", from, "message_id", msg.MessageID)
			return nil
		}
	}

	reply := d.handler.HandleMessage(ctx, msg)
	if reply.Text != "" {
		to := reply.To
		if to == "" {
			to = from
		}
		if err := d.deliver(ctx, to, reply.Text, msg.MessageID); err != nil {
			return err
		}
	}

	if d.dedup != nil && msg.MessageID != "" {
		if err := d.dedup.MarkProcessed(msg.MessageID); err != nil {
			slog.Error("Dispatcher.Process: mark processed failed", "error", err, "message_id", msg.MessageID)
		}
	}
	return nil
}

// deliver sends a reply, queueing it in the outbox when the transport fails.
func (d *Dispatcher) deliver(ctx context.Context, to, body, messageID string) error {
	sendErr := d.svc.SendMessage(ctx, to, body)
	if sendErr == nil {
		return nil
	}
	if d.outbox == nil {
		return fmt.Errorf("send reply to %s: %w", to, sendErr)
	}

	var dedupeKey string
	if messageID != "" {
		dedupeKey = "reply:" + messageID
	}
	id, err := d.outbox.EnqueueOutboxMessage(to, body, dedupeKey)
	if err != nil {
		return fmt.Errorf("send reply to %s failed (%v) and could not be queued: %w", to, sendErr, err)
	}
	slog.Warn("Dispatcher.deliver: reply queued for retry", "to", to, "outbox_id", id, "error", sendErr)
	return nil
}

// OutboxSendFunc returns the send callback for store.OutboxSender.
func (d *Dispatcher) OutboxSendFunc() store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		return d.svc.SendMessage(ctx, msg.Recipient, msg.Body)
	}
}
