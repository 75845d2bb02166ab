package models

import "time"

// Device is a customer premises device (router/ONT) managed through the ACS.
type Device struct {
	ID     string `json:"id" yaml:"id"`
	Label  string `json:"label" yaml:"label"`
	Serial string `json:"serial,omitempty" yaml:"serial"`
}

// TicketRef is a short view of a support ticket used for listings and selection.
type TicketRef struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the account record resolved from a messaging identity.
type Profile struct {
	CustomerID  string      `json:"customer_id" yaml:"customer_id"`
	Name        string      `json:"name" yaml:"name"`
	Phone       string      `json:"phone" yaml:"phone"`
	Package     string      `json:"package" yaml:"package"`
	MonthlyFee  int64       `json:"monthly_fee" yaml:"monthly_fee"`
	Balance     int64       `json:"balance" yaml:"balance"`
	DueDay      int         `json:"due_day" yaml:"due_day"`
	Devices     []Device    `json:"devices" yaml:"devices"`
	OpenTickets []TicketRef `json:"open_tickets" yaml:"-"`
}

// TicketStatus is the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketStatusOpen      TicketStatus = "open"
	TicketStatusCancelled TicketStatus = "cancelled"
	TicketStatusResolved  TicketStatus = "resolved"
)

// Ticket is a support ticket raised by a customer.
type Ticket struct {
	ID          string       `json:"id"`
	CustomerID  string       `json:"customer_id"`
	Category    string       `json:"category"`
	Description string       `json:"description"`
	Status      TicketStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TopUpRequest is a pending balance top-up awaiting payment.
type TopUpRequest struct {
	Reference  string    `json:"reference"`
	CustomerID string    `json:"customer_id"`
	Amount     int64     `json:"amount"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// ActionResult is the outcome reported by the device action port.
// Data carries optional structured output such as a created ticket ID.
type ActionResult struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}
