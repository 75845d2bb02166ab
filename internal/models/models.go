// Package models defines the core data structures for ispbot.
//
// It includes inbound/outbound message types, audit events and the JSON envelope
// used by the admin API. These are shared across modules.
package models

import "time"

// MessageStatus represents the delivery status of an outgoing message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Receipt is a delivery/read event reported by the transport.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// InboundMessage is a text message received from a customer.
type InboundMessage struct {
	MessageID   string `json:"message_id,omitempty"`
	From        string `json:"from"`
	Body        string `json:"body"`
	DisplayName string `json:"display_name,omitempty"`
	Time        int64  `json:"time"`
}

// Reply is the engine's answer to one inbound message.
type Reply struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// EventKind classifies an audit event.
type EventKind string

const (
	EventFlowStarted      EventKind = "flow_started"
	EventFlowReplaced     EventKind = "flow_replaced"
	EventStepAdvanced     EventKind = "step_advanced"
	EventValidationFailed EventKind = "validation_failed"
	EventActionStarted    EventKind = "action_started"
	EventActionSucceeded  EventKind = "action_succeeded"
	EventActionFailed     EventKind = "action_failed"
	EventCancelled        EventKind = "cancelled"
	EventExpired          EventKind = "expired"
	EventUnknownStep      EventKind = "unknown_step"
	EventIntent           EventKind = "intent"
	EventBusy             EventKind = "busy"
	EventFlowCompleted    EventKind = "flow_completed"
)

// EventRecord is one entry for the audit sink.
type EventRecord struct {
	ID     string            `json:"id"`
	UserID string            `json:"user_id"`
	Kind   EventKind         `json:"kind"`
	FlowID FlowID            `json:"flow_id,omitempty"`
	Step   StepID            `json:"step,omitempty"`
	Detail map[string]string `json:"detail,omitempty"`
	At     time.Time         `json:"at"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope returned by every admin endpoint.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
