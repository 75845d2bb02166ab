package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kabelnet/ispbot/internal/models"
	"github.com/kabelnet/ispbot/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// eventSource is the part of whatsapp.Client the service subscribes to.
type eventSource interface {
	AddEventHandler(handler func(evt any)) uint32
	RemoveEventHandler(id uint32)
}

// WhatsAppService implements Service on top of the whatsmeow client.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	source    eventSource
	receipts  chan models.Receipt
	responses chan models.InboundMessage
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewWhatsAppService creates a WhatsAppService. Event handling is only wired
// when client is a real *whatsapp.Client.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
	if src, ok := client.(eventSource); ok {
		s.source = src
	} else {
		slog.Debug("WhatsAppService created without event source (likely mock)")
	}
	return s
}

// ValidateAndCanonicalizeRecipient returns the canonical phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalRecipient("WhatsAppService", recipient)
}

// Start subscribes to whatsmeow events until ctx is cancelled.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	id := s.source.AddEventHandler(s.handleEvent)
	slog.Debug("WhatsAppService.Start: event handler registered", "handler_id", id)
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.source.RemoveEventHandler(id)
		slog.Debug("WhatsAppService: event handler removed")
	}()
	return nil
}

// Stop closes the channels. Calling it twice is a no-op.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.receipts)
	close(s.responses)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonicalTo)
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of inbound messages.
func (s *WhatsAppService) Responses() <-chan models.InboundMessage {
	return s.responses
}

func (s *WhatsAppService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *WhatsAppService) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		if msg, ok := inboundFromEvent(v); ok {
			s.emitResponse(msg)
		}
	case *events.Receipt:
		if r, ok := receiptFromEvent(v); ok {
			s.emitReceipt(r)
		}
	case *events.Connected:
		slog.Info("WhatsAppService: connected")
	case *events.Disconnected:
		slog.Warn("WhatsAppService: disconnected")
	}
}

// inboundFromEvent extracts a customer text message. Group chats, our own
// messages and non-text content are skipped.
func inboundFromEvent(evt *events.Message) (models.InboundMessage, bool) {
	if evt == nil || evt.Message == nil {
		return models.InboundMessage{}, false
	}
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.InboundMessage{}, false
	}

	var text string
	switch {
	case evt.Message.GetConversation() != "":
		text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.User)
		return models.InboundMessage{}, false
	}

	return models.InboundMessage{
		MessageID:   evt.Info.ID,
		From:        evt.Info.Sender.User,
		Body:        text,
		DisplayName: evt.Info.PushName,
		Time:        evt.Info.Timestamp.Unix(),
	}, true
}

func receiptFromEvent(evt *events.Receipt) (models.Receipt, bool) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return models.Receipt{}, false
	}
	return models.Receipt{To: evt.MessageSource.Sender.User, Status: status, Time: evt.Timestamp.Unix()}, true
}

func (s *WhatsAppService) emitResponse(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "from", msg.From)
		return
	}
	select {
	case s.responses <- msg:
		slog.Debug("WhatsAppService inbound message forwarded", "from", msg.From, "message_id", msg.MessageID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}

func (s *WhatsAppService) emitReceipt(r models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- r:
	default:
		slog.Debug("WhatsAppService receipts channel full, dropping receipt", "to", r.To, "status", r.Status)
	}
}
