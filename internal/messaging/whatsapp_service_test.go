package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kabelnet/ispbot/internal/models"
	"github.com/kabelnet/ispbot/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Ensure both transports implement Service.
func TestServicesImplementService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
}

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	ctx := context.Background()

	if err := svc.SendMessage(ctx, "+62 812-3456-7890", "halo"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	sent := mockClient.Messages()
	if len(sent) != 1 || sent[0].To != "6281234567890" {
		t.Fatalf("recipient not canonicalized: %+v", sent)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "6281234567890" || receipt.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt: %+v", receipt)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendMessage_Errors(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)

	if err := svc.SendMessage(context.Background(), "abc", "halo"); err == nil {
		t.Error("expected error for invalid recipient")
	}
	mockClient.Err = errors.New("not connected")
	if err := svc.SendMessage(context.Background(), "6281234567890", "halo"); err == nil {
		t.Error("expected client error")
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Receipts(); ok {
		t.Error("expected receipts channel closed")
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
	if err := svc.SendMessage(context.Background(), "6281234567890", "halo"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

type fakeEventSource struct {
	*whatsapp.MockClient
	handler func(any)
	removed chan uint32
}

func (f *fakeEventSource) AddEventHandler(h func(evt any)) uint32 {
	f.handler = h
	return 7
}

func (f *fakeEventSource) RemoveEventHandler(id uint32) { f.removed <- id }

func textEvent(sender, id, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   types.NewJID(sender, types.DefaultUserServer),
				Sender: types.NewJID(sender, types.DefaultUserServer),
			},
			ID:        id,
			PushName:  "Budi",
			Timestamp: time.Unix(1_760_000_000, 0),
		},
		Message: &waE2E.Message{Conversation: &text},
	}
}

func TestWhatsAppService_EventsFlowToResponses(t *testing.T) {
	src := &fakeEventSource{MockClient: whatsapp.NewMockClient(), removed: make(chan uint32, 1)}
	svc := NewWhatsAppService(src)
	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if src.handler == nil {
		t.Fatal("event handler not registered")
	}

	src.handler(textEvent("6281234567890", "MSG1", "menu"))
	select {
	case msg := <-svc.Responses():
		if msg.From != "6281234567890" || msg.Body != "menu" || msg.MessageID != "MSG1" || msg.DisplayName != "Budi" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message not forwarded")
	}

	cancel()
	select {
	case id := <-src.removed:
		if id != 7 {
			t.Errorf("removed handler %d, want 7", id)
		}
	case <-time.After(time.Second):
		t.Fatal("event handler not removed on cancel")
	}
}

func TestInboundFromEvent(t *testing.T) {
	plain := textEvent("6281234567890", "A1", "cek tagihan")
	if msg, ok := inboundFromEvent(plain); !ok || msg.Body != "cek tagihan" || msg.Time != 1_760_000_000 {
		t.Errorf("plain text = %+v, %v", msg, ok)
	}

	extendedText := "ganti password wifi"
	extended := textEvent("6281234567890", "A2", "")
	extended.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: &extendedText}}
	if msg, ok := inboundFromEvent(extended); !ok || msg.Body != extendedText {
		t.Errorf("extended text = %+v, %v", msg, ok)
	}

	fromMe := textEvent("6281234567890", "A3", "halo")
	fromMe.Info.IsFromMe = true
	if _, ok := inboundFromEvent(fromMe); ok {
		t.Error("own message accepted")
	}

	group := textEvent("6281234567890", "A4", "halo")
	group.Info.IsGroup = true
	if _, ok := inboundFromEvent(group); ok {
		t.Error("group message accepted")
	}

	media := textEvent("6281234567890", "A5", "")
	media.Message = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}
	if _, ok := inboundFromEvent(media); ok {
		t.Error("non-text message accepted")
	}

	if _, ok := inboundFromEvent(nil); ok {
		t.Error("nil event accepted")
	}
}

func TestReceiptFromEvent(t *testing.T) {
	src := types.MessageSource{Sender: types.NewJID("6281234567890", types.DefaultUserServer)}
	read := &events.Receipt{MessageSource: src, Type: events.ReceiptTypeRead, Timestamp: time.Now()}
	if r, ok := receiptFromEvent(read); !ok || r.Status != models.MessageStatusRead || r.To != "6281234567890" {
		t.Errorf("read receipt = %+v, %v", r, ok)
	}
	delivered := &events.Receipt{MessageSource: src, Type: events.ReceiptTypeDelivered, Timestamp: time.Now()}
	if r, ok := receiptFromEvent(delivered); !ok || r.Status != models.MessageStatusDelivered {
		t.Errorf("delivered receipt = %+v, %v", r, ok)
	}
	self := &events.Receipt{MessageSource: src, Type: events.ReceiptTypeReadSelf}
	if _, ok := receiptFromEvent(self); ok {
		t.Error("self read receipt accepted")
	}
}
