// Package flow implements the conversation engine: the flow registry, the input
// arbitrator, universal cancellation, and execution of flow actions.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kabelnet/ispbot/internal/models"
)

var (
	// ErrUnknownStep is returned when a session or outcome names a step absent from the registry.
	ErrUnknownStep = errors.New("unknown step")
	// ErrFlowNotFound is returned when no flow is registered under an ID.
	ErrFlowNotFound = errors.New("flow not found")
	// ErrDuplicateStep is returned when two steps share an ID.
	ErrDuplicateStep = errors.New("duplicate step")
	// ErrDuplicateFlow is returned when a flow ID is registered twice.
	ErrDuplicateFlow = errors.New("duplicate flow")
)

// ValidationError rejects step input. Message is shown to the user as-is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StepInput is what a step handler sees for one inbound message.
type StepInput struct {
	UserID     string
	Raw        string // trimmed original text, casing preserved
	Normalized string
	Session    models.Session
	Profile    *models.Profile
}

// ActionRequest describes one call to the device action port.
type ActionRequest struct {
	DeviceID string
	Name     string
	Params   map[string]string
}

// Outcome is a step's decision after accepting input.
//
// With Action set the flow ends in an external call (after confirmation when the
// flow requires it). Otherwise a non-empty Next advances the session and an empty
// Next completes the flow with Reply. Cancel clears the session like the
// universal cancellation phrases.
type Outcome struct {
	Next   models.StepID
	Reply  string
	Patch  map[models.DataKey]string
	Action *ActionRequest
	Cancel bool
}

// HandlerFunc processes input accepted by a step's validator.
type HandlerFunc func(ctx context.Context, in StepInput) (Outcome, error)

// Step is one position within a flow.
type Step struct {
	ID models.StepID
	// Protected steps take any text as data; only cancellation phrases intercept them.
	Protected bool
	// Next lists every step this handler may return.
	Next     []models.StepID
	Validate func(in StepInput) error
	Handle   HandlerFunc
}

// Flow is an immutable multi-step conversational procedure.
type Flow struct {
	ID          models.FlowID
	Title       string
	IdleTimeout time.Duration
	// Confirm parks any action in ConfirmStep until the user agrees.
	Confirm     bool
	ConfirmStep models.StepID
	EntrySteps  []models.StepID
	Start       HandlerFunc
	Steps       []Step

	ConfirmPrompt func(req ActionRequest, s models.Session) string
	Pending       func(req ActionRequest, s models.Session) string
	Succeeded     func(req ActionRequest, s models.Session, res models.ActionResult) string
	Failed        func(req ActionRequest, s models.Session, res models.ActionResult) string
}

type stepEntry struct {
	flow *Flow
	step *Step
}

// Registry maps every step ID to its handler.
type Registry struct {
	flows map[models.FlowID]*Flow
	steps map[models.StepID]stepEntry
	order []models.FlowID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		flows: make(map[models.FlowID]*Flow),
		steps: make(map[models.StepID]stepEntry),
	}
}

// Register adds a flow and its steps. Confirmation flows get their confirm step
// generated here so no flow has to implement it.
func (r *Registry) Register(f Flow) error {
	if f.ID == "" {
		return errors.New("flow has no id")
	}
	if _, dup := r.flows[f.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateFlow, f.ID)
	}
	if f.Start == nil {
		return fmt.Errorf("flow %s has no start handler", f.ID)
	}
	f.Steps = slices.Clone(f.Steps)
	if f.Confirm {
		if f.ConfirmStep == "" {
			return fmt.Errorf("flow %s requires confirmation but has no confirm step", f.ID)
		}
		f.Steps = append(f.Steps, confirmStep(f.ConfirmStep))
	}

	fl := &f
	for i := range fl.Steps {
		st := &fl.Steps[i]
		if st.ID == "" || st.Handle == nil {
			return fmt.Errorf("flow %s has a step without id or handler", f.ID)
		}
		if prev, dup := r.steps[st.ID]; dup {
			return fmt.Errorf("%w: %s in %s and %s", ErrDuplicateStep, st.ID, prev.flow.ID, f.ID)
		}
	}
	for i := range fl.Steps {
		r.steps[fl.Steps[i].ID] = stepEntry{flow: fl, step: &fl.Steps[i]}
	}
	r.flows[f.ID] = fl
	r.order = append(r.order, f.ID)
	slog.Debug("Registry.Register: flow registered", "flow", f.ID, "steps", len(fl.Steps), "confirm", f.Confirm)
	return nil
}

// Flow returns a registered flow.
func (r *Registry) Flow(id models.FlowID) (*Flow, bool) {
	f, ok := r.flows[id]
	return f, ok
}

// Step returns a registered step and its flow.
func (r *Registry) Step(id models.StepID) (*Flow, *Step, bool) {
	e, ok := r.steps[id]
	if !ok {
		return nil, nil, false
	}
	return e.flow, e.step, true
}

// Flows returns all flows in registration order.
func (r *Registry) Flows() []*Flow {
	out := make([]*Flow, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.flows[id])
	}
	return out
}

// StepIDs returns every registered step ID.
func (r *Registry) StepIDs() []models.StepID {
	out := make([]models.StepID, 0, len(r.steps))
	for id := range r.steps {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// CanTransition reports whether flowID may move from step from to step to.
// An empty from means the flow's entry.
func (r *Registry) CanTransition(flowID models.FlowID, from, to models.StepID) bool {
	f, ok := r.flows[flowID]
	if !ok {
		return false
	}
	if e, ok := r.steps[to]; !ok || e.flow.ID != flowID {
		return false
	}
	if f.Confirm && to == f.ConfirmStep {
		return true
	}
	if from == "" {
		return slices.Contains(f.EntrySteps, to)
	}
	e, ok := r.steps[from]
	if !ok || e.flow.ID != flowID {
		return false
	}
	return slices.Contains(e.step.Next, to)
}

// Validate checks that every declared transition targets a registered step of
// the same flow.
func (r *Registry) Validate() error {
	var errs []error
	for _, f := range r.Flows() {
		for _, to := range f.EntrySteps {
			if e, ok := r.steps[to]; !ok || e.flow.ID != f.ID {
				errs = append(errs, fmt.Errorf("%w: flow %s entry -> %s", ErrUnknownStep, f.ID, to))
			}
		}
		for _, st := range f.Steps {
			for _, to := range st.Next {
				if e, ok := r.steps[to]; !ok || e.flow.ID != f.ID {
					errs = append(errs, fmt.Errorf("%w: flow %s %s -> %s", ErrUnknownStep, f.ID, st.ID, to))
				}
			}
		}
	}
	return errors.Join(errs...)
}
