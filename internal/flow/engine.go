package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kabelnet/ispbot/internal/intent"
	"github.com/kabelnet/ispbot/internal/metrics"
	"github.com/kabelnet/ispbot/internal/models"
	"github.com/kabelnet/ispbot/internal/session"
)

// Engine timing defaults.
const (
	DefaultActionTimeout   = 45 * time.Second
	DefaultFallbackTimeout = 20 * time.Second
)

// Opts holds optional engine collaborators.
type Opts struct {
	Sessions        session.Store
	Sender          Sender
	Events          EventLogger
	Fallback        Responder
	Metrics         *metrics.Recorder
	Clock           func() time.Time
	ActionTimeout   time.Duration
	FallbackTimeout time.Duration
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithSessionStore replaces the default in-memory session store.
func WithSessionStore(st session.Store) Option {
	return func(o *Opts) { o.Sessions = st }
}

// WithSender sets the port used for interim "please wait" messages.
func WithSender(s Sender) Option {
	return func(o *Opts) { o.Sender = s }
}

// WithEventLogger sets the audit sink.
func WithEventLogger(l EventLogger) Option {
	return func(o *Opts) { o.Events = l }
}

// WithFallback sets the responder for unmatched text outside of flows.
func WithFallback(r Responder) Option {
	return func(o *Opts) { o.Fallback = r }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithClock overrides time.Now for idle timeout checks. The default session
// store stamps sessions with the same clock.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// WithActionTimeout bounds each device action call.
func WithActionTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ActionTimeout = d }
}

// WithFallbackTimeout bounds each fallback responder call.
func WithFallbackTimeout(d time.Duration) Option {
	return func(o *Opts) { o.FallbackTimeout = d }
}

// Engine is the single inbound entry point of the conversation core. It owns the
// session store and serializes all session access per user.
type Engine struct {
	registry *Registry
	matcher  *intent.Matcher
	profiles ProfileLookup
	devices  DeviceActor
	sessions session.Store
	locks    *session.Locker

	sender          Sender
	events          EventLogger
	fallback        Responder
	metrics         *metrics.Recorder
	now             func() time.Time
	actionTimeout   time.Duration
	fallbackTimeout time.Duration
}

// NewEngine validates the registry and assembles an Engine.
func NewEngine(reg *Registry, matcher *intent.Matcher, profiles ProfileLookup, devices DeviceActor, opts ...Option) (*Engine, error) {
	if reg == nil || matcher == nil || profiles == nil || devices == nil {
		return nil, errors.New("engine requires a registry, matcher, profile lookup and device actor")
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow registry: %w", err)
	}
	for _, in := range matcher.Intents() {
		if in.StartsFlow() {
			if _, ok := reg.Flow(in.Flow); !ok {
				return nil, fmt.Errorf("intent %s: %w: %s", in.ID, ErrFlowNotFound, in.Flow)
			}
		}
	}

	cfg := Opts{
		ActionTimeout:   DefaultActionTimeout,
		FallbackTimeout: DefaultFallbackTimeout,
		Clock:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewMemoryStore(session.WithClock(cfg.Clock))
	}

	slog.Debug("NewEngine: engine assembled",
		"flows", len(reg.Flows()), "steps", len(reg.StepIDs()),
		"sender_set", cfg.Sender != nil, "events_set", cfg.Events != nil,
		"fallback_set", cfg.Fallback != nil, "action_timeout", cfg.ActionTimeout)

	return &Engine{
		registry:        reg,
		matcher:         matcher,
		profiles:        profiles,
		devices:         devices,
		sessions:        cfg.Sessions,
		locks:           session.NewLocker(),
		sender:          cfg.Sender,
		events:          cfg.Events,
		fallback:        cfg.Fallback,
		metrics:         cfg.Metrics,
		now:             cfg.Clock,
		actionTimeout:   cfg.ActionTimeout,
		fallbackTimeout: cfg.FallbackTimeout,
	}, nil
}

// Registry returns the engine's flow registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Sessions returns the engine's session store.
func (e *Engine) Sessions() session.Store { return e.sessions }

// ResetSession clears a user's session under that user's lock.
func (e *Engine) ResetSession(userID string) bool {
	e.locks.Lock(userID)
	defer e.locks.Unlock(userID)
	_, had := e.sessions.Get(userID)
	e.sessions.Delete(userID)
	if had {
		slog.Info("Engine.ResetSession: session cleared by operator", "user_id", userID)
		e.logEvent(userID, models.EventCancelled, "", "", map[string]string{"by": "operator"})
	}
	e.refreshGauge()
	return had
}

// turn carries one inbound message through the engine.
type turn struct {
	userID      string
	raw         string
	normalized  string
	displayName string
	locked      bool
}

// HandleMessage processes one inbound message and returns the reply. It never
// panics and never returns an empty reply.
func (e *Engine) HandleMessage(ctx context.Context, msg models.InboundMessage) (reply models.Reply) {
	started := time.Now()
	t := &turn{
		userID:      msg.From,
		raw:         strings.TrimSpace(msg.Body),
		normalized:  intent.Normalize(msg.Body),
		displayName: msg.DisplayName,
	}
	reply.To = msg.From

	e.locks.Lock(t.userID)
	t.locked = true
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine.HandleMessage: recovered from panic", "user_id", t.userID, "panic", r)
			if !t.locked {
				e.locks.Lock(t.userID)
				t.locked = true
			}
			e.sessions.Delete(t.userID)
			reply.Text = replyStartOver
		}
		if t.locked {
			e.locks.Unlock(t.userID)
		}
		e.refreshGauge()
		e.metrics.HandleDuration(time.Since(started))
	}()

	slog.Debug("Engine.HandleMessage: inbound", "user_id", t.userID, "length", len(t.raw))
	reply.Text = e.handle(ctx, t)
	return reply
}

func (e *Engine) handle(ctx context.Context, t *turn) string {
	sess, has := e.sessions.Get(t.userID)

	// The message was meant for the expired step, so it is not routed further.
	if has && e.expired(sess) {
		title := string(sess.FlowID)
		if f, ok := e.registry.Flow(sess.FlowID); ok {
			title = f.Title
		}
		e.sessions.Delete(t.userID)
		e.metrics.Message(RouteExpired.String())
		slog.Info("Engine.handle: session expired", "user_id", t.userID, "flow", sess.FlowID, "step", sess.Step)
		e.logEvent(t.userID, models.EventExpired, sess.FlowID, sess.Step, nil)
		return joinReplies(replyExpired(title), hintMenu)
	}

	route, in := e.arbitrate(sess, has, t.normalized)
	e.metrics.Message(route.String())
	slog.Debug("Engine.handle: routed", "user_id", t.userID, "route", route, "flow", sess.FlowID, "step", sess.Step)

	var text string
	switch route {
	case RouteCancel:
		text = e.cancel(t, sess)
	case RouteNothingToCancel:
		text = replyNothingToCancel
	case RouteBusy:
		e.logEvent(t.userID, models.EventBusy, sess.FlowID, sess.Step, nil)
		text = replyBusy
	case RouteUnknownStep:
		e.sessions.Delete(t.userID)
		slog.Error("Engine.handle: session references unregistered step", "user_id", t.userID,
			"flow", sess.FlowID, "step", sess.Step, "error", ErrUnknownStep)
		e.logEvent(t.userID, models.EventUnknownStep, sess.FlowID, sess.Step, nil)
		text = replyStartOver
	case RouteStep:
		text = e.runStep(ctx, t, sess)
	case RouteIntent:
		text = e.runIntent(ctx, t, sess, has, in)
	default:
		text = e.runFallback(ctx, t)
	}
	return text
}

// expired reports whether a session outlived its flow's idle timeout. Sessions
// awaiting an action never expire.
func (e *Engine) expired(s models.Session) bool {
	if s.Executing {
		return false
	}
	f, ok := e.registry.Flow(s.FlowID)
	if !ok || f.IdleTimeout <= 0 {
		return false
	}
	return e.now().Sub(s.UpdatedAt) > f.IdleTimeout
}

func (e *Engine) cancel(t *turn, s models.Session) string {
	e.sessions.Delete(t.userID)
	e.metrics.Cancellation(string(s.FlowID))
	e.logEvent(t.userID, models.EventCancelled, s.FlowID, s.Step, map[string]string{
		"executing": fmt.Sprint(s.Executing),
	})
	slog.Info("Engine.cancel: session cancelled", "user_id", t.userID, "flow", s.FlowID, "step", s.Step, "executing", s.Executing)
	if s.Executing {
		return replyCancelledInFlight
	}
	return replyCancelled
}

func (e *Engine) runStep(ctx context.Context, t *turn, s models.Session) string {
	f, st, _ := e.registry.Step(s.Step)

	profile, err := e.loadProfile(ctx, t)
	if err != nil {
		if errors.Is(err, errNotCustomer) {
			e.sessions.Delete(t.userID)
		}
		return profileErrorReply(err)
	}

	in := StepInput{
		UserID:     t.userID,
		Raw:        t.raw,
		Normalized: t.normalized,
		Session:    s.Clone(),
		Profile:    profile,
	}
	if st.Validate != nil {
		if err := st.Validate(in); err != nil {
			return e.reject(t, s, err)
		}
	}
	out, err := st.Handle(ctx, in)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return e.reject(t, s, ve)
		}
		e.sessions.Delete(t.userID)
		slog.Error("Engine.runStep: step handler failed", "user_id", t.userID, "flow", f.ID, "step", st.ID, "error", err)
		return replyStartOver
	}
	return e.apply(ctx, t, f, s, st.ID, out)
}

// reject keeps the session at its step and only bumps the retry counter.
func (e *Engine) reject(t *turn, s models.Session, err error) string {
	s.Retries++
	e.sessions.Set(t.userID, s)
	e.metrics.ValidationFailure(string(s.Step))
	e.logEvent(t.userID, models.EventValidationFailed, s.FlowID, s.Step, map[string]string{
		"retries": fmt.Sprint(s.Retries),
	})
	slog.Warn("Engine.reject: input rejected", "user_id", t.userID, "step", s.Step, "retries", s.Retries)

	msg := replyStartOver
	var ve *ValidationError
	if errors.As(err, &ve) {
		msg = ve.Message
	}
	if s.Retries >= retryHintAfter {
		msg = joinReplies(msg, hintCancel)
	}
	return msg
}

// apply moves the session according to a step outcome. from is empty when the
// outcome came from the flow's Start handler.
func (e *Engine) apply(ctx context.Context, t *turn, f *Flow, s models.Session, from models.StepID, out Outcome) string {
	if out.Cancel {
		s.Step = from
		return e.cancel(t, s)
	}

	if out.Action != nil {
		s.Merge(out.Patch)
		if f.Confirm && from != f.ConfirmStep {
			return e.park(t, f, s, from, *out.Action)
		}
		return e.execute(ctx, t, f, s, *out.Action)
	}

	if out.Next == "" {
		e.sessions.Delete(t.userID)
		e.logEvent(t.userID, models.EventFlowCompleted, f.ID, from, nil)
		slog.Info("Engine.apply: flow completed without action", "user_id", t.userID, "flow", f.ID, "step", from)
		return out.Reply
	}

	if !e.registry.CanTransition(f.ID, from, out.Next) {
		e.sessions.Delete(t.userID)
		slog.Error("Engine.apply: undeclared transition", "user_id", t.userID, "flow", f.ID,
			"from", from, "to", out.Next, "error", ErrUnknownStep)
		e.logEvent(t.userID, models.EventUnknownStep, f.ID, out.Next, map[string]string{"from": string(from)})
		return replyStartOver
	}

	s.FlowID = f.ID
	s.Step = out.Next
	s.Retries = 0
	s.Merge(out.Patch)
	e.sessions.Set(t.userID, s)

	kind := models.EventStepAdvanced
	if from == "" {
		kind = models.EventFlowStarted
	}
	e.logEvent(t.userID, kind, f.ID, out.Next, map[string]string{"from": string(from)})
	slog.Debug("Engine.apply: session advanced", "user_id", t.userID, "flow", f.ID, "from", from, "to", out.Next)
	return out.Reply
}

// park stores an action in the session and moves to the flow's confirm step.
func (e *Engine) park(t *turn, f *Flow, s models.Session, from models.StepID, req ActionRequest) string {
	patch, err := parkAction(req)
	if err != nil {
		e.sessions.Delete(t.userID)
		slog.Error("Engine.park: cannot park action", "user_id", t.userID, "flow", f.ID, "error", err)
		return replyStartOver
	}
	s.FlowID = f.ID
	s.Step = f.ConfirmStep
	s.Retries = 0
	s.Merge(patch)
	e.sessions.Set(t.userID, s)
	e.logEvent(t.userID, models.EventStepAdvanced, f.ID, f.ConfirmStep, map[string]string{
		"from":   string(from),
		"action": req.Name,
	})

	if f.ConfirmPrompt != nil {
		return f.ConfirmPrompt(req, s)
	}
	return "Lanjutkan? Balas *ya* atau *tidak*."
}

// execute invokes the device action port exactly once. The session is marked as
// executing so duplicates are rejected, and the user's lock is released while the
// call is in flight so cancellation stays responsive.
func (e *Engine) execute(ctx context.Context, t *turn, f *Flow, s models.Session, req ActionRequest) string {
	token := uuid.NewString()
	s.FlowID = f.ID
	s.Executing = true
	s.ExecToken = token
	e.sessions.Set(t.userID, s)
	e.logEvent(t.userID, models.EventActionStarted, f.ID, s.Step, map[string]string{
		"action": req.Name,
		"device": req.DeviceID,
	})
	slog.Info("Engine.execute: invoking action", "user_id", t.userID, "flow", f.ID, "action", req.Name, "device", req.DeviceID)

	e.locks.Unlock(t.userID)
	t.locked = false

	if f.Pending != nil && e.sender != nil {
		if msg := f.Pending(req, s); msg != "" {
			if err := e.sender.SendMessage(ctx, t.userID, msg); err != nil {
				slog.Warn("Engine.execute: interim message not sent", "user_id", t.userID, "error", err)
			}
		}
	}

	callStart := time.Now()
	res, err := e.callDevice(ctx, req)
	if err != nil {
		slog.Error("Engine.execute: action could not be attempted", "user_id", t.userID, "action", req.Name, "error", err)
		res = models.ActionResult{Success: false, Message: replyActionUnavailable}
	}
	e.metrics.Capability(req.Name, res.Success, time.Since(callStart))

	e.locks.Lock(t.userID)
	t.locked = true

	if cur, ok := e.sessions.Get(t.userID); ok && cur.ExecToken == token {
		e.sessions.Delete(t.userID)
	} else {
		slog.Info("Engine.execute: session changed while action was in flight", "user_id", t.userID, "flow", f.ID)
	}

	detail := map[string]string{"action": req.Name, "message": res.Message}
	if res.Success {
		e.logEvent(t.userID, models.EventActionSucceeded, f.ID, s.Step, detail)
		slog.Info("Engine.execute: action succeeded", "user_id", t.userID, "action", req.Name)
		if f.Succeeded != nil {
			return f.Succeeded(req, s, res)
		}
		return "✅ Permintaan Anda berhasil diproses."
	}

	e.logEvent(t.userID, models.EventActionFailed, f.ID, s.Step, detail)
	slog.Warn("Engine.execute: action failed", "user_id", t.userID, "action", req.Name, "reason", res.Message)
	if f.Failed != nil {
		return f.Failed(req, s, res)
	}
	return replyActionFailed(res.Message)
}

// callDevice bounds the port call and converts a panic into an error.
func (e *Engine) callDevice(ctx context.Context, req ActionRequest) (res models.ActionResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("device action %s panicked: %v", req.Name, r)
		}
	}()
	return e.devices.PerformDeviceAction(ctx, req.DeviceID, req.Name, req.Params)
}

func (e *Engine) startFlow(ctx context.Context, t *turn, id models.FlowID) string {
	f, ok := e.registry.Flow(id)
	if !ok {
		slog.Error("Engine.startFlow: intent references missing flow", "flow", id, "error", ErrFlowNotFound)
		return replyNotUnderstood
	}
	profile, err := e.loadProfile(ctx, t)
	if err != nil {
		return profileErrorReply(err)
	}

	s := models.Session{
		UserID:  t.userID,
		FlowID:  f.ID,
		Context: map[models.DataKey]string{models.DataKeyCustomerID: profile.CustomerID},
	}
	in := StepInput{
		UserID:     t.userID,
		Raw:        t.raw,
		Normalized: t.normalized,
		Session:    s.Clone(),
		Profile:    profile,
	}
	out, err := f.Start(ctx, in)
	if err != nil {
		slog.Error("Engine.startFlow: start handler failed", "user_id", t.userID, "flow", f.ID, "error", err)
		return replyStartOver
	}
	slog.Info("Engine.startFlow: flow started", "user_id", t.userID, "flow", f.ID, "next", out.Next)
	return e.apply(ctx, t, f, s, "", out)
}

// errNotCustomer marks a sender with no customer record.
var errNotCustomer = errors.New("sender is not a registered customer")

// loadProfile resolves the sender's customer record.
func (e *Engine) loadProfile(ctx context.Context, t *turn) (*models.Profile, error) {
	p, err := e.profiles.LookupUserProfile(ctx, t.userID)
	if err != nil {
		slog.Error("Engine.loadProfile: lookup failed", "user_id", t.userID, "error", err)
		return nil, err
	}
	if p == nil {
		slog.Info("Engine.loadProfile: sender is not a customer", "user_id", t.userID)
		return nil, errNotCustomer
	}
	return p, nil
}

func profileErrorReply(err error) string {
	if errors.Is(err, errNotCustomer) {
		return replyNotRegistered
	}
	return replyTemporaryError
}

func (e *Engine) runFallback(ctx context.Context, t *turn) string {
	if e.fallback == nil || t.normalized == "" {
		return replyNotUnderstood
	}
	fctx, cancel := context.WithTimeout(ctx, e.fallbackTimeout)
	defer cancel()
	answer, err := e.fallback.Respond(fctx, t.userID, t.raw)
	if err != nil || strings.TrimSpace(answer) == "" {
		slog.Warn("Engine.runFallback: responder unavailable", "user_id", t.userID, "error", err)
		return replyNotUnderstood
	}
	return joinReplies(strings.TrimSpace(answer), hintMenu)
}

func (e *Engine) logEvent(userID string, kind models.EventKind, flowID models.FlowID, step models.StepID, detail map[string]string) {
	if e.events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine.logEvent: audit sink panicked", "kind", kind, "panic", r)
		}
	}()
	e.events.LogEvent(models.EventRecord{
		ID:     uuid.NewString(),
		UserID: userID,
		Kind:   kind,
		FlowID: flowID,
		Step:   step,
		Detail: detail,
		At:     e.now(),
	})
}

func (e *Engine) refreshGauge() {
	if c, ok := e.sessions.(interface{ Len() int }); ok {
		e.metrics.ActiveSessions(c.Len())
	}
}
