package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kabelnet/ispbot/internal/models"
)

var (
	confirmYes = map[string]bool{"ya": true, "y": true, "yes": true, "ok": true, "oke": true, "lanjut": true, "iya": true}
	confirmNo  = map[string]bool{"tidak": true, "n": true, "no": true, "jangan": true, "enggak": true, "nggak": true}
)

// confirmStep is the generic confirmation step shared by every flow with Confirm set.
// The pending action is read back from the session context.
func confirmStep(id models.StepID) Step {
	return Step{
		ID:        id,
		Protected: true,
		Validate: func(in StepInput) error {
			if confirmYes[in.Normalized] || confirmNo[in.Normalized] {
				return nil
			}
			return invalid("Balas *ya* untuk melanjutkan atau *tidak* untuk membatalkan.")
		},
		Handle: func(ctx context.Context, in StepInput) (Outcome, error) {
			if confirmNo[in.Normalized] {
				return Outcome{Cancel: true}, nil
			}
			req, err := unparkAction(in.Session)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{
				Action: &req,
				Patch: map[models.DataKey]string{
					models.DataKeyPendingAction: "",
					models.DataKeyPendingDevice: "",
					models.DataKeyPendingParams: "",
				},
			}, nil
		},
	}
}

// parkAction stores an action request in the session context until it is confirmed.
func parkAction(req ActionRequest) (map[models.DataKey]string, error) {
	params, err := json.Marshal(req.Params)
	if err != nil {
		return nil, fmt.Errorf("encode pending params: %w", err)
	}
	return map[models.DataKey]string{
		models.DataKeyPendingAction: req.Name,
		models.DataKeyPendingDevice: req.DeviceID,
		models.DataKeyPendingParams: string(params),
	}, nil
}

func unparkAction(s models.Session) (ActionRequest, error) {
	req := ActionRequest{
		Name:     s.Get(models.DataKeyPendingAction),
		DeviceID: s.Get(models.DataKeyPendingDevice),
	}
	if req.Name == "" {
		return req, fmt.Errorf("%w: no pending action in session", ErrUnknownStep)
	}
	if raw := s.Get(models.DataKeyPendingParams); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &req.Params); err != nil {
			return req, fmt.Errorf("decode pending params: %w", err)
		}
	}
	return req, nil
}
