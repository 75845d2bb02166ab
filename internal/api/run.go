package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/kabelnet/ispbot/internal/actions"
	"github.com/kabelnet/ispbot/internal/flow"
	"github.com/kabelnet/ispbot/internal/genai"
	"github.com/kabelnet/ispbot/internal/intent"
	"github.com/kabelnet/ispbot/internal/lockfile"
	"github.com/kabelnet/ispbot/internal/messaging"
	"github.com/kabelnet/ispbot/internal/metrics"
	"github.com/kabelnet/ispbot/internal/scheduler"
	"github.com/kabelnet/ispbot/internal/session"
	"github.com/kabelnet/ispbot/internal/store"
	"github.com/kabelnet/ispbot/internal/twiliowhatsapp"
	"github.com/kabelnet/ispbot/internal/whatsapp"
)

// Messaging transports.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// Defaults for Run.
const (
	DefaultServerAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
)

// Opts holds configuration for Run.
type Opts struct {
	Addr      string
	StateDir  string
	Transport string

	TwilioWebhookURL string
	TwilioAuthToken  string

	ACSBaseURL  string
	ACSUsername string
	ACSPassword string

	KeywordsFile  string
	SeedFile      string
	SweepSpec     string
	MaxIdle       time.Duration
	MaxConcurrent int
}

// Option defines a configuration option for Run.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStateDir sets the directory guarded by the single-instance lock.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithTransport selects TransportWhatsApp or TransportTwilio.
func WithTransport(t string) Option {
	return func(o *Opts) { o.Transport = t }
}

// WithTwilioWebhook enables X-Twilio-Signature checks against the public webhook URL.
func WithTwilioWebhook(url, authToken string) Option {
	return func(o *Opts) {
		o.TwilioWebhookURL = url
		o.TwilioAuthToken = authToken
	}
}

// WithACS enables device actions through an ACS north-bound interface.
func WithACS(baseURL, username, password string) Option {
	return func(o *Opts) {
		o.ACSBaseURL = baseURL
		o.ACSUsername = username
		o.ACSPassword = password
	}
}

// WithKeywordsFile replaces the embedded keyword table.
func WithKeywordsFile(path string) Option {
	return func(o *Opts) { o.KeywordsFile = path }
}

// WithSeedFile upserts customers from a YAML file at startup.
func WithSeedFile(path string) Option {
	return func(o *Opts) { o.SeedFile = path }
}

// WithSessionSweep sets the sweeper schedule and the idle limit.
func WithSessionSweep(spec string, maxIdle time.Duration) Option {
	return func(o *Opts) {
		o.SweepSpec = spec
		o.MaxIdle = maxIdle
	}
}

// WithMaxConcurrent bounds the number of messages handled in parallel.
func WithMaxConcurrent(n int) Option {
	return func(o *Opts) { o.MaxConcurrent = n }
}

// Modules carries the per-package options assembled by the command.
type Modules struct {
	WhatsApp []whatsapp.Option
	Twilio   []twiliowhatsapp.Option
	Store    []store.Option
	GenAI    []genai.Option
	Actions  []actions.Option
	Engine   []flow.Option
}

// Run wires every component and blocks until ctx is cancelled or a component fails.
func Run(ctx context.Context, mods Modules, opts ...Option) error {
	cfg := Opts{Addr: DefaultServerAddr, Transport: TransportWhatsApp}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.StateDir != "" {
		lock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.New(mods.Store...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if cfg.SeedFile != "" {
		n, err := store.SeedFile(ctx, st, cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to seed customers: %w", err)
		}
		slog.Info("Run: customers seeded", "count", n, "file", cfg.SeedFile)
	}

	matcher, err := loadMatcher(cfg.KeywordsFile)
	if err != nil {
		return err
	}
	registry, err := flow.NewDefaultRegistry()
	if err != nil {
		return fmt.Errorf("failed to build flow registry: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	svc, twilioSvc, closeTransport, err := newTransport(ctx, cfg, mods)
	if err != nil {
		return err
	}
	defer closeTransport()

	actionOpts := append([]actions.Option(nil), mods.Actions...)
	if cfg.ACSBaseURL != "" {
		acs := actions.NewACSClient(cfg.ACSBaseURL, actions.WithBasicAuth(cfg.ACSUsername, cfg.ACSPassword))
		actionOpts = append(actionOpts, actions.WithDeviceClient(acs))
	} else {
		slog.Warn("Run: ACS_BASE_URL not set, device actions will report unavailable")
	}
	devices := actions.NewDispatcher(st, st, actionOpts...)

	auditLogger := store.NewAuditLogger(st, store.DefaultAuditBuffer)
	sessions := session.NewMemoryStore()
	engineOpts := []flow.Option{
		flow.WithSessionStore(sessions),
		flow.WithSender(svc),
		flow.WithEventLogger(auditLogger),
		flow.WithMetrics(recorder),
	}
	if gai, err := genai.NewClient(mods.GenAI...); err != nil {
		slog.Info("Run: fallback responder disabled", "reason", err)
	} else {
		engineOpts = append(engineOpts, flow.WithFallback(gai))
	}
	engineOpts = append(engineOpts, mods.Engine...)

	engine, err := flow.NewEngine(registry, matcher, store.NewProfileDirectory(st, st), devices, engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	dispatcher := messaging.NewDispatcher(svc, engine,
		messaging.WithDedup(st),
		messaging.WithOutbox(st),
		messaging.WithMaxConcurrent(int64(cfg.MaxConcurrent)),
	)
	outbox := store.NewOutboxSender(st, dispatcher.OutboxSendFunc(), store.DefaultOutboxPollInterval)
	if err := outbox.RecoverStaleMessages(); err != nil {
		slog.Warn("Run: failed to recover stale outbox messages", "error", err)
	}

	sched := scheduler.NewScheduler()
	if err := scheduler.RegisterMaintenance(sched, scheduler.MaintenanceConfig{
		Sessions:  sessions,
		SweepSpec: cfg.SweepSpec,
		MaxIdle:   cfg.MaxIdle,
		Audit:     st,
		Dedup:     st,
		OnSweep:   func(int) { recorder.ActiveSessions(sessions.Len()) },
	}); err != nil {
		return fmt.Errorf("failed to register maintenance jobs: %w", err)
	}

	serverOpts := []ServerOption{WithAuditRepo(st), WithHealthCheck(st), WithGatherer(reg)}
	if twilioSvc != nil {
		serverOpts = append(serverOpts, WithTwilioWebhook(twilioSvc.TwilioWebhookHandler))
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewServer(engine, serverOpts...).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return auditLogger.Run(gctx) })
	g.Go(func() error { return outbox.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		slog.Info("Run: HTTP server listening", "addr", cfg.Addr, "transport", cfg.Transport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("Run: shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Run: HTTP shutdown incomplete", "error", err)
		}
		return svc.Stop()
	})

	return g.Wait()
}

func loadMatcher(path string) (*intent.Matcher, error) {
	if path == "" {
		return intent.NewDefaultMatcher()
	}
	m, err := intent.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keywords from %s: %w", path, err)
	}
	return m, nil
}

// newTransport builds the messaging service. The returned TwilioService is
// nil for the WhatsApp transport.
func newTransport(ctx context.Context, cfg Opts, mods Modules) (messaging.Service, *messaging.TwilioService, func(), error) {
	switch cfg.Transport {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(mods.Twilio...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var twOpts []messaging.TwilioOption
		if cfg.TwilioWebhookURL != "" && cfg.TwilioAuthToken != "" {
			twOpts = append(twOpts, messaging.WithSignatureValidation(
				twiliowhatsapp.NewWebhookValidator(cfg.TwilioAuthToken), cfg.TwilioWebhookURL))
		} else {
			slog.Warn("Run: Twilio webhook signature validation disabled")
		}
		svc := messaging.NewTwilioService(client, twOpts...)
		return svc, svc, func() {}, nil
	case TransportWhatsApp, "":
		client, err := whatsapp.NewClient(ctx, mods.WhatsApp...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, client.Disconnect, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown messaging transport %q", cfg.Transport)
	}
}
