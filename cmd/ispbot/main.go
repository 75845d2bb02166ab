package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kabelnet/ispbot/internal/actions"
	"github.com/kabelnet/ispbot/internal/api"
	"github.com/kabelnet/ispbot/internal/flow"
	"github.com/kabelnet/ispbot/internal/genai"
	"github.com/kabelnet/ispbot/internal/lockfile"
	"github.com/kabelnet/ispbot/internal/messaging"
	"github.com/kabelnet/ispbot/internal/scheduler"
	"github.com/kabelnet/ispbot/internal/store"
	"github.com/kabelnet/ispbot/internal/twiliowhatsapp"
	"github.com/kabelnet/ispbot/internal/util"
	"github.com/kabelnet/ispbot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ispbot state data
	DefaultStateDir = "/var/lib/ispbot"
	// DefaultAppDBFileName is the default SQLite database for customers, tickets and audit data
	DefaultAppDBFileName = "ispbot.db"
	// DefaultWhatsAppDBFileName is the default SQLite database for the whatsmeow device store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	loadDotEnv()
	initializeLogger(os.Getenv("LOG_LEVEL"))

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	mods := api.Modules{
		WhatsApp: buildWhatsAppOptions(flags),
		Twilio:   buildTwilioOptions(flags),
		Store:    buildStoreOptions(flags),
		GenAI:    buildGenAIOptions(flags),
		Actions:  buildActionOptions(flags),
		Engine:   buildEngineOptions(flags),
	}
	apiOpts := buildAPIOptions(flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping ispbot", "transport", *flags.transport, "api_addr", *flags.apiAddr)
	slog.Debug("Module options counts",
		"whatsapp", len(mods.WhatsApp), "twilio", len(mods.Twilio), "store", len(mods.Store),
		"genai", len(mods.GenAI), "engine", len(mods.Engine), "api", len(apiOpts))
	if err := api.Run(ctx, mods, apiOpts...); err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			slog.Error("ispbot is already running", "error", err)
		} else {
			slog.Error("ispbot failed to run", "error", err)
		}
		os.Exit(1)
	}
	slog.Info("ispbot exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	AppDBDSN      string
	WhatsAppDBDSN string
	Transport     string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string

	OpenAIKey   string
	OpenAIModel string
	APIAddr     string

	ACSBaseURL  string
	ACSUsername string
	ACSPassword string

	KeywordsFile        string
	SeedFile            string
	PaymentInstructions string
	SweepCron           string
	MaxIdle             time.Duration
	MaxConcurrent       int
	ActionTimeout       time.Duration
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	appDSN        *string
	whatsappDSN   *string
	transport     *string
	openaiKey     *string
	openaiModel   *string
	apiAddr       *string
	acsURL        *string
	keywordsFile  *string
	seedFile      *string
	sweepCron     *string
	maxIdle       *time.Duration
	maxConcurrent *int
	actionTimeout *time.Duration

	// Secrets and rarely changed settings come from the environment only.
	config Config
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
}

// initializeLogger sets up structured logging at the given level (default debug)
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig loads configuration from environment variables
func loadEnvironmentConfig() Config {
	config := Config{
		StateDir:      os.Getenv("ISPBOT_STATE_DIR"),
		AppDBDSN:      os.Getenv("ISPBOT_DB_DSN"),
		WhatsAppDBDSN: os.Getenv("WHATSAPP_DB_DSN"),
		Transport:     os.Getenv("MESSAGING_TRANSPORT"),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),

		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: os.Getenv("OPENAI_MODEL"),
		APIAddr:     os.Getenv("API_ADDR"),

		ACSBaseURL:  os.Getenv("ACS_BASE_URL"),
		ACSUsername: os.Getenv("ACS_USERNAME"),
		ACSPassword: os.Getenv("ACS_PASSWORD"),

		KeywordsFile:        os.Getenv("KEYWORDS_FILE"),
		SeedFile:            os.Getenv("SEED_FILE"),
		PaymentInstructions: os.Getenv("PAYMENT_INSTRUCTIONS"),
		SweepCron:           os.Getenv("SESSION_SWEEP_CRON"),
		MaxIdle:             util.ParseDurationEnv("SESSION_MAX_IDLE", scheduler.DefaultMaxIdle),
		MaxConcurrent:       util.ParseIntEnv("MAX_CONCURRENT_MESSAGES", messaging.DefaultMaxConcurrent),
		ActionTimeout:       util.ParseDurationEnv("ACTION_TIMEOUT", flow.DefaultActionTimeout),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ISPBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.AppDBDSN == "" {
		config.AppDBDSN = os.Getenv("DATABASE_URL")
		if config.AppDBDSN != "" {
			slog.Debug("Using DATABASE_URL as ISPBOT_DB_DSN", "dsn_set", true)
		}
	}
	if config.AppDBDSN == "" {
		config.AppDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.AppDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}
	if config.Transport == "" {
		config.Transport = api.TransportWhatsApp
	}
	if config.SweepCron == "" {
		config.SweepCron = scheduler.DefaultSweepSpec
	}

	slog.Debug("environment variables loaded",
		"ISPBOT_STATE_DIR", config.StateDir,
		"ISPBOT_DB_DSN_SET", config.AppDBDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"MESSAGING_TRANSPORT", config.Transport,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"TWILIO_AUTH_TOKEN_SET", config.TwilioAuthToken != "",
		"TWILIO_WEBHOOK_URL", config.TwilioWebhookURL,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"ACS_BASE_URL", config.ACSBaseURL,
		"ACS_PASSWORD_SET", config.ACSPassword != "",
		"SESSION_SWEEP_CRON", config.SweepCron,
		"SESSION_MAX_IDLE", config.MaxIdle,
		"MAX_CONCURRENT_MESSAGES", config.MaxConcurrent,
		"ACTION_TIMEOUT", config.ActionTimeout)

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		qrOutput:      fs.String("qr-output", "", "path to write login QR code"),
		numeric:       fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for ispbot data (overrides $ISPBOT_STATE_DIR)"),
		appDSN:        fs.String("db-dsn", config.AppDBDSN, "application database DSN (overrides $ISPBOT_DB_DSN or $DATABASE_URL)"),
		whatsappDSN:   fs.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)"),
		transport:     fs.String("transport", config.Transport, "messaging transport: whatsapp or twilio (overrides $MESSAGING_TRANSPORT)"),
		openaiKey:     fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key for the fallback responder (overrides $OPENAI_API_KEY)"),
		openaiModel:   fs.String("openai-model", config.OpenAIModel, "OpenAI model for the fallback responder (overrides $OPENAI_MODEL)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		acsURL:        fs.String("acs-url", config.ACSBaseURL, "ACS north-bound API base URL (overrides $ACS_BASE_URL)"),
		keywordsFile:  fs.String("keywords-file", config.KeywordsFile, "YAML keyword table replacing the built-in one (overrides $KEYWORDS_FILE)"),
		seedFile:      fs.String("seed-file", config.SeedFile, "YAML customer seed file (overrides $SEED_FILE)"),
		sweepCron:     fs.String("session-sweep-cron", config.SweepCron, "cron schedule of the idle session sweeper (overrides $SESSION_SWEEP_CRON)"),
		maxIdle:       fs.Duration("session-max-idle", config.MaxIdle, "idle time after which the sweeper drops a session (overrides $SESSION_MAX_IDLE)"),
		maxConcurrent: fs.Int("max-concurrent", config.MaxConcurrent, "messages handled in parallel (overrides $MAX_CONCURRENT_MESSAGES)"),
		actionTimeout: fs.Duration("action-timeout", config.ActionTimeout, "timeout for one device action (overrides $ACTION_TIMEOUT)"),
		config:        config,
	}

	if err := fs.Parse(args); err != nil {
		slog.Warn("failed to parse flags", "error", err)
	}

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"appDSN_set", *flags.appDSN != "",
		"transport", *flags.transport,
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"acsURL", *flags.acsURL)

	// Follow a moved state directory unless the DSNs were set explicitly.
	if *flags.stateDir != config.StateDir {
		if *flags.appDSN == config.AppDBDSN && config.AppDBDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
			*flags.appDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
			slog.Debug("Updated app DSN based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.whatsappDSN == config.WhatsAppDBDSN && config.WhatsAppDBDSN == defaultWhatsAppDSN(config.StateDir) {
			*flags.whatsappDSN = defaultWhatsAppDSN(*flags.stateDir)
			slog.Debug("Updated WhatsApp DSN based on state directory", "new_state_dir", *flags.stateDir)
		}
	}

	return flags
}

// ensureDirectoriesExist creates the state directory and the parent of any SQLite database file
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if store.DetectDSNType(*flags.appDSN) == store.DriverSQLite {
		dirs = append(dirs, filepath.Dir(sqlitePath(*flags.appDSN)))
	}
	if *flags.transport == api.TransportWhatsApp && store.DetectDSNType(*flags.whatsappDSN) == store.DriverSQLite {
		dirs = append(dirs, filepath.Dir(sqlitePath(*flags.whatsappDSN)))
	}
	for _, dir := range dirs {
		slog.Debug("Creating state directory", "dir", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// sqlitePath strips the file: scheme and query parameters from a SQLite DSN.
func sqlitePath(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	return dsn
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	var twOpts []twiliowhatsapp.Option
	if flags.config.TwilioAccountSID != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithAccountSID(flags.config.TwilioAccountSID))
	}
	if flags.config.TwilioAuthToken != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithAuthToken(flags.config.TwilioAuthToken))
	}
	if flags.config.TwilioFrom != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithFromWhats(flags.config.TwilioFrom))
	}
	return twOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	if store.DetectDSNType(*flags.appDSN) == store.DriverPostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(*flags.appDSN)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.appDSN)
	return []store.Option{store.WithSQLiteDSN(*flags.appDSN)}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildActionOptions constructs device and account action options
func buildActionOptions(flags Flags) []actions.Option {
	var actionOpts []actions.Option
	if flags.config.PaymentInstructions != "" {
		actionOpts = append(actionOpts, actions.WithPaymentInstructions(flags.config.PaymentInstructions))
	}
	return actionOpts
}

// buildEngineOptions constructs conversation engine options
func buildEngineOptions(flags Flags) []flow.Option {
	var engineOpts []flow.Option
	if *flags.actionTimeout > 0 {
		engineOpts = append(engineOpts, flow.WithActionTimeout(*flags.actionTimeout))
	}
	return engineOpts
}

// buildAPIOptions constructs API server and process options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithStateDir(*flags.stateDir),
		api.WithTransport(*flags.transport),
		api.WithSessionSweep(*flags.sweepCron, *flags.maxIdle),
		api.WithMaxConcurrent(*flags.maxConcurrent),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.acsURL != "" {
		apiOpts = append(apiOpts, api.WithACS(*flags.acsURL, flags.config.ACSUsername, flags.config.ACSPassword))
	}
	if *flags.keywordsFile != "" {
		apiOpts = append(apiOpts, api.WithKeywordsFile(*flags.keywordsFile))
	}
	if *flags.seedFile != "" {
		apiOpts = append(apiOpts, api.WithSeedFile(*flags.seedFile))
	}
	if flags.config.TwilioWebhookURL != "" {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(flags.config.TwilioWebhookURL, flags.config.TwilioAuthToken))
	}
	return apiOpts
}
