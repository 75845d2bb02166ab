package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kabelnet/ispbot/internal/flow"
	"github.com/kabelnet/ispbot/internal/messaging"
	"github.com/kabelnet/ispbot/internal/metrics"
	"github.com/kabelnet/ispbot/internal/models"
	"github.com/kabelnet/ispbot/internal/store"
	"github.com/kabelnet/ispbot/internal/testutil"
	"github.com/kabelnet/ispbot/internal/twiliowhatsapp"
)

const testPhone = "6281234567890"

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *testutil.StubDevices) {
	t.Helper()
	devices := testutil.NewStubDevices()
	engine := testutil.NewTestEngine(t, testutil.NewStubProfiles(testutil.CustomerProfile(testPhone)), devices)
	return NewServer(engine, opts...), devices
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func simulate(t *testing.T, s *Server, text string) map[string]interface{} {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/messages",
		SimulateRequest{UserID: "+62 812-3456-7890", Text: text})
	rr := serve(s, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "simulate "+text)
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing result in %v", resp)
	}
	return result
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	if !strings.Contains(rr.Body.String(), `"status":"healthy"`) {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}

	degraded, _ := newTestServer(t, WithHealthCheck(failingPinger{}))
	rr = serve(degraded, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "degraded health")
	if !strings.Contains(rr.Body.String(), "degraded") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestMessageHandler_DrivesEngine(t *testing.T) {
	s, devices := newTestServer(t)

	result := simulate(t, s, "ganti nama wifi")
	if result["to"] != testPhone {
		t.Errorf("reply addressed to %v", result["to"])
	}
	sess, ok := result["session"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected an active session, got %v", result)
	}
	if sess["step"] != "wifi_name.await_name" {
		t.Errorf("step = %v", sess["step"])
	}

	result = simulate(t, s, "RumahKu")
	if _, ok := result["session"]; ok {
		t.Errorf("session should be cleared after the action: %v", result)
	}
	calls := devices.Calls()
	if len(calls) != 1 || calls[0].Action != models.ActionSetSSID || calls[0].Params["ssid"] != "RumahKu" {
		t.Errorf("unexpected device calls: %+v", calls)
	}
}

func TestMessageHandler_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"user_id":`},
		{"missing user", `{"text":"menu"}`},
		{"blank text", `{"user_id":"081234567890","text":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(tt.body))
			rr := serve(s, req)
			testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, "error")
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+testPhone, nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "no session yet")

	simulate(t, s, "topup")

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list sessions")
	var list struct {
		Result []models.Session `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &list)
	if len(list.Result) != 1 || list.Result[0].FlowID != models.FlowTopUp {
		t.Fatalf("unexpected sessions: %+v", list.Result)
	}

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions/0812-3456-7890", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get by local number")

	rr = serve(s, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+testPhone, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "delete session")

	rr = serve(s, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+testPhone, nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "delete twice")

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions/not-a-phone", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid user id")
}

func TestRespond(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/flows", nil)

	rr := httptest.NewRecorder()
	respondOK(rr, req, map[string]int{"n": 1})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "ok envelope")
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		t.Errorf("Content-Type = %q", rr.Header().Get("Content-Type"))
	}
	testutil.AssertJSONResponse(t, rr, "ok")

	rr = httptest.NewRecorder()
	respondOK(rr, req, map[string]interface{}{"bad": make(chan int)})
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unencodable result")
	resp := testutil.AssertJSONResponse(t, rr, "error")
	if resp["message"] != "internal server error" {
		t.Errorf("unexpected fallback body: %v", resp)
	}

	rr = httptest.NewRecorder()
	respondError(rr, req, http.StatusNotFound, "no active session")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "error envelope")
	if resp := testutil.AssertJSONResponse(t, rr, "error"); resp["message"] != "no active session" {
		t.Errorf("unexpected error body: %v", resp)
	}
}

func TestRedactHidesParkedParams(t *testing.T) {
	sess := models.Session{
		UserID:  testPhone,
		Context: map[models.DataKey]string{models.DataKeyPendingParams: `{"password":"rahasia123"}`},
	}
	out := redact(sess)
	if out.Context[models.DataKeyPendingParams] != "[redacted]" {
		t.Errorf("params not redacted: %v", out.Context)
	}
	if sess.Context[models.DataKeyPendingParams] == "[redacted]" {
		t.Error("redact must not modify the original session")
	}
}

func TestFlowsHandler(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/flows", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "flows")

	var resp struct {
		Result []FlowInfo `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if len(resp.Result) != len(flow.DefaultFlows()) {
		t.Fatalf("expected %d flows, got %d", len(flow.DefaultFlows()), len(resp.Result))
	}
	for _, f := range resp.Result {
		if f.ID == models.FlowRebootDevice && !f.Confirm {
			t.Error("reboot flow should require confirmation")
		}
		if len(f.Steps) == 0 {
			t.Errorf("flow %s lists no steps", f.ID)
		}
	}
}

func TestAuditHandler(t *testing.T) {
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "audit.db")))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	for i, kind := range []models.EventKind{models.EventFlowStarted, models.EventCancelled} {
		ev := models.EventRecord{
			ID:     "ev-" + string(kind),
			UserID: testPhone,
			Kind:   kind,
			FlowID: models.FlowTopUp,
			At:     time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := st.InsertAuditEvent(ctx, ev); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	s, _ := newTestServer(t, WithAuditRepo(st))

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/audit?user_id=0812-3456-7890", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "audit by user")
	var resp struct {
		Result []models.EventRecord `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if len(resp.Result) != 2 || resp.Result[0].Kind != models.EventCancelled {
		t.Fatalf("expected newest first, got %+v", resp.Result)
	}

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/api/audit?kind=flow_started&limit=5", nil))
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if len(resp.Result) != 1 {
		t.Errorf("kind filter returned %d events", len(resp.Result))
	}

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/api/audit?limit=zero", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad limit")

	unconfigured, _ := newTestServer(t)
	rr = serve(unconfigured, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotImplemented, rr.Code, "audit without repo")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)
	engine := testutil.NewTestEngine(t,
		testutil.NewStubProfiles(testutil.CustomerProfile(testPhone)),
		testutil.NewStubDevices(),
		flow.WithMetrics(recorder))
	s := NewServer(engine, WithGatherer(reg))

	simulate(t, s, "menu")

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
	if !strings.Contains(rr.Body.String(), "ispbot_messages_total") {
		t.Errorf("metrics output missing engine counters:\n%s", rr.Body.String())
	}
}

func TestTwilioWebhookRoute(t *testing.T) {
	plain, _ := newTestServer(t)
	rr := serve(plain, httptest.NewRequest(http.MethodPost, "/webhooks/twilio", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "webhook not mounted")

	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	s, _ := newTestServer(t, WithTwilioWebhook(svc.TwilioWebhookHandler))

	form := url.Values{
		"From":        {"whatsapp:+6281234567890"},
		"Body":        {"menu"},
		"MessageSid":  {"SM123"},
		"ProfileName": {"Budi"},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = serve(s, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "twilio webhook")

	select {
	case msg := <-svc.Responses():
		if msg.MessageID != "SM123" || msg.Body != "menu" {
			t.Errorf("unexpected inbound message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("webhook did not emit the inbound message")
	}
}
