package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TR-069 parameter paths written by the WiFi flows.
const (
	ParamSSID          = "InternetGatewayDevice.LANDevice.1.WLANConfiguration.1.SSID"
	ParamKeyPassphrase = "InternetGatewayDevice.LANDevice.1.WLANConfiguration.1.KeyPassphrase"
)

// DefaultACSTimeout bounds a single request to the ACS, including the
// connection request to the CPE.
const DefaultACSTimeout = 30 * time.Second

// ErrACSRejected is returned when the ACS answers with a non-success status.
var ErrACSRejected = errors.New("acs rejected task")

// ParameterValue is one TR-069 parameter assignment.
type ParameterValue struct {
	Path  string
	Value string
	Type  string
}

// TaskResult reports how the ACS handled a task.
type TaskResult struct {
	// Queued is true when the device was unreachable and the task will run on
	// its next inform.
	Queued bool
}

// DeviceClient performs TR-069 tasks on customer premises equipment.
type DeviceClient interface {
	SetParameterValues(ctx context.Context, deviceID string, values []ParameterValue) (TaskResult, error)
	Reboot(ctx context.Context, deviceID string) (TaskResult, error)
}

// ACSError carries the status and body of a rejected ACS request.
type ACSError struct {
	StatusCode int
	Body       string
}

func (e *ACSError) Error() string {
	return fmt.Sprintf("acs returned status %d: %s", e.StatusCode, e.Body)
}

func (e *ACSError) Unwrap() error { return ErrACSRejected }

// ACSClient talks to a GenieACS-compatible northbound interface.
type ACSClient struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration
	client   *http.Client
}

// ACSOption configures an ACSClient.
type ACSOption func(*ACSClient)

// WithBasicAuth sets NBI credentials.
func WithBasicAuth(username, password string) ACSOption {
	return func(c *ACSClient) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient replaces the HTTP client used for NBI requests.
func WithHTTPClient(hc *http.Client) ACSOption {
	return func(c *ACSClient) { c.client = hc }
}

// WithTaskTimeout sets how long the ACS waits for the CPE to complete a task
// before queueing it.
func WithTaskTimeout(d time.Duration) ACSOption {
	return func(c *ACSClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewACSClient creates a client for the NBI at baseURL.
func NewACSClient(baseURL string, opts ...ACSOption) *ACSClient {
	c := &ACSClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: DefaultACSTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: c.timeout + 5*time.Second}
	}
	return c
}

type acsTask struct {
	Name            string     `json:"name"`
	ParameterValues [][]string `json:"parameterValues,omitempty"`
}

// SetParameterValues writes values on the device.
func (c *ACSClient) SetParameterValues(ctx context.Context, deviceID string, values []ParameterValue) (TaskResult, error) {
	if len(values) == 0 {
		return TaskResult{}, fmt.Errorf("no parameter values for device %s", deviceID)
	}
	task := acsTask{Name: "setParameterValues"}
	for _, v := range values {
		typ := v.Type
		if typ == "" {
			typ = "xsd:string"
		}
		task.ParameterValues = append(task.ParameterValues, []string{v.Path, v.Value, typ})
	}
	return c.postTask(ctx, deviceID, task)
}

// Reboot asks the device to restart.
func (c *ACSClient) Reboot(ctx context.Context, deviceID string) (TaskResult, error) {
	return c.postTask(ctx, deviceID, acsTask{Name: "reboot"})
}

func (c *ACSClient) postTask(ctx context.Context, deviceID string, task acsTask) (TaskResult, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return TaskResult{}, fmt.Errorf("failed to marshal acs task: %w", err)
	}
	endpoint := fmt.Sprintf("%s/devices/%s/tasks?timeout=%d&connection_request",
		c.baseURL, url.PathEscape(deviceID), c.timeout.Milliseconds())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return TaskResult{}, fmt.Errorf("failed to create acs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	slog.Debug("ACSClient.postTask", "device_id", deviceID, "task", task.Name)
	resp, err := c.client.Do(req)
	if err != nil {
		return TaskResult{}, fmt.Errorf("acs request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return TaskResult{}, nil
	case http.StatusAccepted:
		slog.Info("ACSClient.postTask: task queued", "device_id", deviceID, "task", task.Name)
		return TaskResult{Queued: true}, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return TaskResult{}, &ACSError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
}
