// Package testutil provides shared fixtures for tests that drive the
// conversation engine from outside the flow package.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/kabelnet/ispbot/internal/flow"
	"github.com/kabelnet/ispbot/internal/intent"
	"github.com/kabelnet/ispbot/internal/models"
)

// TB is the subset of testing.TB the assertion helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// StubProfiles is an in-memory ProfileLookup keyed by canonical phone.
type StubProfiles struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile
	Err      error
}

// NewStubProfiles returns a directory holding the given profiles.
func NewStubProfiles(profiles ...*models.Profile) *StubProfiles {
	s := &StubProfiles{profiles: make(map[string]*models.Profile)}
	for _, p := range profiles {
		s.profiles[p.Phone] = p
	}
	return s
}

func (s *StubProfiles) LookupUserProfile(ctx context.Context, userID string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// DeviceCall records one PerformDeviceAction invocation.
type DeviceCall struct {
	DeviceID string
	Action   string
	Params   map[string]string
}

// StubDevices records device actions and answers with Result.
type StubDevices struct {
	mu     sync.Mutex
	calls  []DeviceCall
	Result models.ActionResult
	Err    error
}

// NewStubDevices returns a StubDevices whose actions succeed.
func NewStubDevices() *StubDevices {
	return &StubDevices{Result: models.ActionResult{Success: true}}
}

func (s *StubDevices) PerformDeviceAction(ctx context.Context, deviceID, action string, params map[string]string) (models.ActionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, DeviceCall{DeviceID: deviceID, Action: action, Params: params})
	return s.Result, s.Err
}

// Calls returns a copy of the recorded invocations.
func (s *StubDevices) Calls() []DeviceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeviceCall(nil), s.calls...)
}

// CustomerProfile returns a registered customer with one router.
func CustomerProfile(phone string) *models.Profile {
	return &models.Profile{
		CustomerID: "CUST-" + phone,
		Name:       "Budi Santoso",
		Phone:      phone,
		Package:    "Home 30 Mbps",
		MonthlyFee: 250000,
		Balance:    100000,
		DueDay:     10,
		Devices:    []models.Device{{ID: "DEV-" + phone, Label: "Router Ruang Tamu"}},
	}
}

// NewTestEngine assembles an engine with the default flows and keyword table.
func NewTestEngine(t TB, profiles flow.ProfileLookup, devices flow.DeviceActor, opts ...flow.Option) *flow.Engine {
	t.Helper()
	reg, err := flow.NewDefaultRegistry()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	matcher, err := intent.NewDefaultMatcher()
	if err != nil {
		t.Fatalf("failed to load keyword table: %v", err)
	}
	engine, err := flow.NewEngine(reg, matcher, profiles, devices, opts...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the response envelope and validates the status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Errorf("response missing or invalid 'status' field")
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
