package flow

import (
	"context"

	"github.com/kabelnet/ispbot/internal/models"
)

// ProfileLookup resolves a messaging identity to a customer record.
// It returns (nil, nil) when the identity is not a known customer.
type ProfileLookup interface {
	LookupUserProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// DeviceActor performs an external side effect. The engine treats the action as
// opaque and only branches on ActionResult.Success. A returned error means the
// action could not be attempted at all and is reported to the user as a failure.
type DeviceActor interface {
	PerformDeviceAction(ctx context.Context, deviceID, action string, params map[string]string) (models.ActionResult, error)
}

// Sender emits an intermediate message before a flow's final reply.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// EventLogger is a fire-and-forget audit sink. Implementations must not block.
type EventLogger interface {
	LogEvent(ev models.EventRecord)
}

// Responder answers free text that matched no intent outside of any flow.
type Responder interface {
	Respond(ctx context.Context, userID, text string) (string, error)
}
