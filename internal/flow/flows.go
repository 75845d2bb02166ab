package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kabelnet/ispbot/internal/models"
)

// DefaultFlows returns the ISP helpdesk flows.
func DefaultFlows() []Flow {
	return []Flow{
		wifiNameFlow(),
		wifiPasswordFlow(),
		rebootFlow(),
		createTicketFlow(),
		cancelTicketFlow(),
		topUpFlow(),
	}
}

// NewDefaultRegistry registers DefaultFlows and validates the result.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, f := range DefaultFlows() {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("NewDefaultRegistry: flows registered", "flows", len(r.Flows()), "steps", len(r.StepIDs()))
	return r, nil
}

// onDevice produces the outcome once a device is known.
type onDevice func(d models.Device) Outcome

func withDevice(out Outcome, d models.Device) Outcome {
	patch := map[models.DataKey]string{
		models.DataKeyDeviceID:    d.ID,
		models.DataKeyDeviceLabel: deviceLabels([]models.Device{d})[0],
	}
	for k, v := range out.Patch {
		patch[k] = v
	}
	out.Patch = patch
	return out
}

// deviceEntry starts a device flow: it skips selection when the customer owns
// exactly one device.
func deviceEntry(selectStep models.StepID, next onDevice) HandlerFunc {
	return func(ctx context.Context, in StepInput) (Outcome, error) {
		devices := in.Profile.Devices
		switch len(devices) {
		case 0:
			return Outcome{Reply: replyNoDevice}, nil
		case 1:
			return withDevice(next(devices[0]), devices[0]), nil
		default:
			return Outcome{
				Next:  selectStep,
				Reply: "Pilih perangkat dengan membalas angkanya:\n" + numbered(deviceLabels(devices)),
			}, nil
		}
	}
}

// selectDevice handles a device list reply.
func selectDevice(next onDevice) HandlerFunc {
	return func(ctx context.Context, in StepInput) (Outcome, error) {
		devices := in.Profile.Devices
		if len(devices) == 0 {
			return Outcome{Reply: replyNoDevice}, nil
		}
		keys := make([]string, len(devices))
		for i, d := range devices {
			keys[i] = d.Label
		}
		i, ok := choose(in, keys)
		if !ok {
			return Outcome{}, invalid("Pilihan tidak dikenali. Balas dengan angka 1 sampai %d.", len(devices))
		}
		return withDevice(next(devices[i]), devices[i]), nil
	}
}

func failedReply(req ActionRequest, s models.Session, res models.ActionResult) string {
	return replyActionFailed(res.Message)
}

func deviceName(s models.Session) string {
	if l := s.Get(models.DataKeyDeviceLabel); l != "" {
		return l
	}
	return "perangkat Anda"
}

// withNote appends the action's own message, e.g. a queued-until-online notice.
func withNote(text string, res models.ActionResult) string {
	return joinReplies(text, res.Message)
}

func rupiah(n int64) string {
	return fmt.Sprintf("Rp%s", formatRupiah(n))
}
