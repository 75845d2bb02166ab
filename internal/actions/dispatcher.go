// Package actions implements the device action port: TR-069 tasks through an
// ACS for router changes, and ticket and top-up records on the store.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/kabelnet/ispbot/internal/models"
	"github.com/kabelnet/ispbot/internal/store"
)

// ErrUnknownAction is returned for action names the dispatcher does not handle.
var ErrUnknownAction = errors.New("unknown action")

// Messages returned to the flows in ActionResult.Message.
const (
	msgDeviceUnavailable = "Layanan pengaturan perangkat sedang tidak tersedia. Silakan coba lagi nanti atau hubungi CS kami."
	msgDeviceQueued      = "Perangkat sedang offline. Perubahan akan diterapkan otomatis saat perangkat kembali online."
	msgDeviceRejected    = "Perangkat menolak perintah. Silakan coba lagi beberapa saat lagi."
	msgTicketCreated     = "Tim kami akan menghubungi Anda maksimal 1x24 jam."
	msgTicketNotFound    = "Tiket tidak ditemukan atau sudah ditutup."
	msgTopUpFailed       = "Permintaan top up tidak dapat diproses."

	DefaultPaymentInstructions = "Silakan transfer sesuai nominal dan sertakan nomor referensi pada berita transfer. Saldo akan bertambah setelah pembayaran terverifikasi."
)

// Opts holds configuration for a Dispatcher.
type Opts struct {
	Devices             DeviceClient
	PaymentInstructions string
}

// Option configures a Dispatcher.
type Option func(*Opts)

// WithDeviceClient sets the ACS client for router actions.
func WithDeviceClient(c DeviceClient) Option {
	return func(o *Opts) { o.Devices = c }
}

// WithPaymentInstructions overrides the text attached to top-up requests.
func WithPaymentInstructions(s string) Option {
	return func(o *Opts) { o.PaymentInstructions = s }
}

// Dispatcher routes action names to their implementation.
type Dispatcher struct {
	devices             DeviceClient
	tickets             store.TicketRepo
	topups              store.TopUpRepo
	paymentInstructions string
}

// NewDispatcher creates a Dispatcher. Without a device client router actions
// report the service as unavailable.
func NewDispatcher(tickets store.TicketRepo, topups store.TopUpRepo, opts ...Option) *Dispatcher {
	cfg := Opts{PaymentInstructions: DefaultPaymentInstructions}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		devices:             cfg.Devices,
		tickets:             tickets,
		topups:              topups,
		paymentInstructions: cfg.PaymentInstructions,
	}
}

// PerformDeviceAction executes the named action.
func (d *Dispatcher) PerformDeviceAction(ctx context.Context, deviceID, action string, params map[string]string) (models.ActionResult, error) {
	slog.Debug("Dispatcher.PerformDeviceAction", "action", action, "device_id", deviceID)
	switch action {
	case models.ActionSetSSID:
		return d.setParameter(ctx, deviceID, ParamSSID, params["ssid"])
	case models.ActionSetWiFiPassword:
		return d.setParameter(ctx, deviceID, ParamKeyPassphrase, params["password"])
	case models.ActionReboot:
		if d.devices == nil {
			return failure(msgDeviceUnavailable), nil
		}
		res, err := d.devices.Reboot(ctx, deviceID)
		return deviceResult(res, err)
	case models.ActionCreateTicket:
		return d.createTicket(ctx, params)
	case models.ActionCancelTicket:
		return d.cancelTicket(ctx, params)
	case models.ActionTopUpRequest:
		return d.requestTopUp(ctx, params)
	default:
		return models.ActionResult{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
}

func (d *Dispatcher) setParameter(ctx context.Context, deviceID, path, value string) (models.ActionResult, error) {
	if d.devices == nil {
		return failure(msgDeviceUnavailable), nil
	}
	if deviceID == "" || value == "" {
		return models.ActionResult{}, fmt.Errorf("set %s: device and value are required", path)
	}
	res, err := d.devices.SetParameterValues(ctx, deviceID, []ParameterValue{{Path: path, Value: value}})
	return deviceResult(res, err)
}

func deviceResult(res TaskResult, err error) (models.ActionResult, error) {
	var acsErr *ACSError
	switch {
	case errors.As(err, &acsErr):
		slog.Warn("Dispatcher: acs rejected task", "status", acsErr.StatusCode, "body", acsErr.Body)
		return failure(msgDeviceRejected), nil
	case err != nil:
		return models.ActionResult{}, err
	case res.Queued:
		return models.ActionResult{Success: true, Message: msgDeviceQueued}, nil
	default:
		return models.ActionResult{Success: true}, nil
	}
}

func (d *Dispatcher) createTicket(ctx context.Context, params map[string]string) (models.ActionResult, error) {
	t, err := d.tickets.CreateTicket(ctx, models.Ticket{
		CustomerID:  params["customer_id"],
		Category:    params["category"],
		Description: params["description"],
	})
	if err != nil {
		return models.ActionResult{}, fmt.Errorf("create ticket: %w", err)
	}
	slog.Info("Dispatcher.createTicket: ticket created", "ticket_id", t.ID, "customer_id", t.CustomerID, "category", t.Category)
	return models.ActionResult{
		Success: true,
		Message: msgTicketCreated,
		Data:    map[string]string{"ticket_id": t.ID},
	}, nil
}

func (d *Dispatcher) cancelTicket(ctx context.Context, params map[string]string) (models.ActionResult, error) {
	err := d.tickets.CancelTicket(ctx, params["customer_id"], params["ticket_id"])
	if errors.Is(err, store.ErrNotFound) {
		return failure(msgTicketNotFound), nil
	}
	if err != nil {
		return models.ActionResult{}, fmt.Errorf("cancel ticket: %w", err)
	}
	slog.Info("Dispatcher.cancelTicket: ticket cancelled", "ticket_id", params["ticket_id"], "customer_id", params["customer_id"])
	return models.ActionResult{Success: true, Data: map[string]string{"ticket_id": params["ticket_id"]}}, nil
}

func (d *Dispatcher) requestTopUp(ctx context.Context, params map[string]string) (models.ActionResult, error) {
	amount, err := strconv.ParseInt(params["amount"], 10, 64)
	if err != nil || amount <= 0 {
		slog.Warn("Dispatcher.requestTopUp: invalid amount", "amount", params["amount"])
		return failure(msgTopUpFailed), nil
	}
	r, err := d.topups.CreateTopUpRequest(ctx, models.TopUpRequest{CustomerID: params["customer_id"], Amount: amount})
	if err != nil {
		return models.ActionResult{}, fmt.Errorf("create top-up request: %w", err)
	}
	slog.Info("Dispatcher.requestTopUp: request created", "reference", r.Reference, "customer_id", r.CustomerID, "amount", r.Amount)
	return models.ActionResult{
		Success: true,
		Message: d.paymentInstructions,
		Data:    map[string]string{"reference": r.Reference},
	}, nil
}

func failure(msg string) models.ActionResult {
	return models.ActionResult{Success: false, Message: msg}
}
