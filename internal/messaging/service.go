// Package messaging connects WhatsApp transports to the conversation engine.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kabelnet/ispbot/internal/models"
	"github.com/kabelnet/ispbot/internal/util"
)

const (
	// DefaultChannelBufferSize is the buffer of the receipt and inbound channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long a transport waits on a full channel.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient turns a transport address into the
	// canonical phone number used as the session key.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the channels.
	Stop() error

	// Receipts returns a channel of delivery receipts.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of inbound customer messages.
	Responses() <-chan models.InboundMessage
}

func canonicalRecipient(service, recipient string) (string, error) {
	canonical, err := util.CanonicalPhone(recipient)
	if err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}
	if canonical != recipient {
		slog.Debug(service+" canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
