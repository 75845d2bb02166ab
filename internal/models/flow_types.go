// Package models defines flow type definitions shared by the engine and its collaborators.
package models

// FlowID names a multi-step conversational procedure.
type FlowID string

// StepID names one position within a flow. Step IDs are unique across all flows.
type StepID string

// DataKey is a key into a session's working context.
type DataKey string

// IntentID names a global keyword/command recognised outside of protected steps.
type IntentID string

// Flow identifiers.
const (
	FlowChangeWiFiName     FlowID = "change_wifi_name"
	FlowChangeWiFiPassword FlowID = "change_wifi_password"
	FlowRebootDevice       FlowID = "reboot_device"
	FlowCreateTicket       FlowID = "create_ticket"
	FlowCancelTicket       FlowID = "cancel_ticket"
	FlowTopUp              FlowID = "topup"
)

// Context keys written by step handlers.
const (
	DataKeyCustomerID  DataKey = "customer_id"
	DataKeyDeviceID    DataKey = "device_id"
	DataKeyDeviceLabel DataKey = "device_label"
	DataKeyCategory    DataKey = "category"
	DataKeyTicketID    DataKey = "ticket_id"
	DataKeyAmount      DataKey = "amount"

	// Pending action parked by a confirmation step.
	DataKeyPendingAction DataKey = "pending_action"
	DataKeyPendingDevice DataKey = "pending_device"
	DataKeyPendingParams DataKey = "pending_params"
)

// Action names understood by the device action port.
const (
	ActionSetSSID         = "set_ssid"
	ActionSetWiFiPassword = "set_wifi_password"
	ActionReboot          = "reboot"
	ActionCreateTicket    = "create_ticket"
	ActionCancelTicket    = "cancel_ticket"
	ActionTopUpRequest    = "topup_request"
)
