package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kabelnet/ispbot/internal/intent"
	"github.com/kabelnet/ispbot/internal/models"
	"github.com/stretchr/testify/require"
)

const (
	userSingle   = "6281100000001"
	userMulti    = "6281100000002"
	userNoDevice = "6281100000003"
	userUnknown  = "6289999999999"
	userBroken   = "6280000000000"
)

type fakeProfiles struct {
	profiles map[string]*models.Profile
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: map[string]*models.Profile{
		userSingle: {
			CustomerID: "CUST-001",
			Name:       "Budi",
			Package:    "Home 20 Mbps",
			MonthlyFee: 200_000,
			Balance:    50_000,
			DueDay:     10,
			Devices:    []models.Device{{ID: "dev-1", Label: "Rumah"}},
			OpenTickets: []models.TicketRef{
				{ID: "TK-100", Category: "internet", Summary: "Internet lambat"},
			},
		},
		userMulti: {
			CustomerID: "CUST-002",
			Name:       "Sari",
			Package:    "Home 50 Mbps",
			MonthlyFee: 350_000,
			Balance:    500_000,
			Devices: []models.Device{
				{ID: "dev-2", Label: "Lantai 1"},
				{ID: "dev-3", Label: "Lantai 2"},
			},
			OpenTickets: []models.TicketRef{
				{ID: "TK-101", Category: "billing", Summary: "Tagihan ganda"},
				{ID: "TK-102", Category: "device", Summary: "Lampu LOS merah"},
			},
		},
		userNoDevice: {CustomerID: "CUST-003", Name: "Andi"},
	}}
}

func (f *fakeProfiles) LookupUserProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if userID == userBroken {
		return nil, errors.New("database unavailable")
	}
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

type deviceCall struct {
	DeviceID string
	Action   string
	Params   map[string]string
}

type fakeDevices struct {
	mu     sync.Mutex
	calls  []deviceCall
	result models.ActionResult
	err    error
	panics bool

	// When set, each call signals started and waits for release.
	started chan struct{}
	release chan struct{}
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{result: models.ActionResult{
		Success: true,
		Data:    map[string]string{"ticket_id": "TK-200", "reference": "TOP-ABC123"},
	}}
}

func (f *fakeDevices) PerformDeviceAction(ctx context.Context, deviceID, action string, params map[string]string) (models.ActionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, deviceCall{DeviceID: deviceID, Action: action, Params: params})
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		<-release
	}
	if f.panics {
		panic("acs client exploded")
	}
	return f.result, f.err
}

func (f *fakeDevices) Calls() []deviceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deviceCall(nil), f.calls...)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []models.Reply
}

func (f *fakeSender) SendMessage(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, models.Reply{To: to, Text: body})
	return nil
}

func (f *fakeSender) Sent() []models.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Reply(nil), f.sent...)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []models.EventRecord
}

func (f *fakeEvents) LogEvent(ev models.EventRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeEvents) Kinds() []models.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.EventKind, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Kind
	}
	return out
}

type fakeResponder struct {
	answer string
	err    error
}

func (f fakeResponder) Respond(ctx context.Context, userID, text string) (string, error) {
	return f.answer, f.err
}

type recordingResponder struct {
	mu  sync.Mutex
	got []string
}

func (r *recordingResponder) Respond(ctx context.Context, userID, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, text)
	return "jawaban otomatis", nil
}

func (r *recordingResponder) Got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

type harness struct {
	engine   *Engine
	profiles *fakeProfiles
	devices  *fakeDevices
	sender   *fakeSender
	events   *fakeEvents
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	reg, err := NewDefaultRegistry()
	require.NoError(t, err)
	return newHarnessWithRegistry(t, reg, opts...)
}

func newHarnessWithRegistry(t *testing.T, reg *Registry, opts ...Option) *harness {
	t.Helper()
	m, err := intent.NewDefaultMatcher()
	require.NoError(t, err)

	h := &harness{
		profiles: newFakeProfiles(),
		devices:  newFakeDevices(),
		sender:   &fakeSender{},
		events:   &fakeEvents{},
	}
	all := append([]Option{WithSender(h.sender), WithEventLogger(h.events)}, opts...)
	h.engine, err = NewEngine(reg, m, h.profiles, h.devices, all...)
	require.NoError(t, err)
	return h
}

func (h *harness) send(user, text string) string {
	return h.engine.HandleMessage(context.Background(), models.InboundMessage{
		MessageID: "msg-" + text,
		From:      user,
		Body:      text,
		Time:      time.Now().Unix(),
	}).Text
}

func (h *harness) session(user string) (models.Session, bool) {
	return h.engine.Sessions().Get(user)
}

// enter drives user into step by sending the given messages and asserts that
// the session landed there.
func (h *harness) enter(t *testing.T, user string, step models.StepID, msgs ...string) {
	t.Helper()
	for _, m := range msgs {
		h.send(user, m)
	}
	s, ok := h.session(user)
	require.True(t, ok, "expected an active session at %s", step)
	require.Equal(t, step, s.Step)
}

// pathTo lists the messages that bring userMulti to each non-generated step.
var pathTo = map[models.StepID][]string{
	stepWiFiNameSelect:     {"ganti nama wifi"},
	stepWiFiNameAwait:      {"ganti nama wifi", "1"},
	stepWiFiPasswordSelect: {"ganti password wifi"},
	stepWiFiPasswordAwait:  {"ganti password wifi", "2"},
	stepRebootSelect:       {"restart router"},
	stepRebootConfirm:      {"restart router", "1"},
	stepTicketCategory:     {"lapor"},
	stepTicketDescription:  {"lapor", "1"},
	stepTopUpAmount:        {"topup"},
	stepCancelTicket:       {"batalkan tiket"},
}
