package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/Secretario/internal/api"
	"github.com/BTreeMap/Secretario/internal/asana"
	"github.com/BTreeMap/Secretario/internal/flow"
	"github.com/BTreeMap/Secretario/internal/genai"
	"github.com/BTreeMap/Secretario/internal/lockfile"
	"github.com/BTreeMap/Secretario/internal/messaging"
	"github.com/BTreeMap/Secretario/internal/store"
	"github.com/BTreeMap/Secretario/internal/telegram"
	"github.com/BTreeMap/Secretario/internal/twiliowhatsapp"
	"github.com/BTreeMap/Secretario/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for the lock file and debug logs
	DefaultStateDir = "/var/lib/secretario"
	// DefaultLLMBackend is used when LLM_BACKEND is unset
	DefaultLLMBackend = "openai"
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)

	backend, err := validateFlags(flags)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir, transportsLabel(flags))
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}

	modules := api.Modules{
		TelegramEnabled: telegramEnabled(flags),
		Telegram:        buildTelegramOptions(flags),
		WhatsAppEnabled: whatsAppEnabled(flags),
		WhatsApp:        buildWhatsAppOptions(flags),
		Store:           buildStoreOptions(flags),
		Backend:         backend,
		GenAI:           buildGenAIOptions(flags, backend),
		Asana:           buildAsanaOptions(flags),
		Flow:            buildFlowOptions(flags),
	}
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping Secretario with configured modules")
	slog.Debug("Module options counts", "telegram", len(modules.Telegram), "whatsapp", len(modules.WhatsApp),
		"store", len(modules.Store), "genai", len(modules.GenAI), "asana", len(modules.Asana), "api", len(apiOpts))

	runErr := api.Run(context.Background(), modules, apiOpts...)
	if err := lock.Release(); err != nil {
		slog.Warn("Failed to release lock", "error", err)
	}
	if runErr != nil {
		slog.Error("Secretario failed to run", "error", runErr)
		os.Exit(1)
	}
	slog.Info("Secretario exited successfully")
}

// Config holds environment configuration
type Config struct {
	LogLevel string
	StateDir string
	APIAddr  string

	TelegramToken string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioWebhookURL string

	LLMBackend     string
	OpenAIKey      string
	GeminiKey      string
	LLMModel       string
	LLMBaseURL     string
	LLMTemperature float64
	LLMMaxTokens   int
	LLMLogTiming   bool
	LLMDebug       bool

	AsanaBaseURL   string
	AsanaWorkspace string

	AdapterTimeout time.Duration
	HandlerTimeout time.Duration
	DatabaseDSN    string
}

// Flags holds command line flag values
type Flags struct {
	stateDir *string
	apiAddr  *string

	telegramToken *string

	twilioAccountSID *string
	twilioAuthToken  *string
	twilioFromNumber *string
	twilioWebhookURL *string

	llmBackend     *string
	openaiKey      *string
	geminiKey      *string
	llmModel       *string
	llmBaseURL     *string
	llmTemperature *float64
	llmMaxTokens   *int
	llmLogTiming   *bool
	llmDebug       *bool

	asanaBaseURL   *string
	asanaWorkspace *string

	adapterTimeout *time.Duration
	handlerTimeout *time.Duration
	dbDSN          *string
}

// initializeLogger sets up structured logging at the given level
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LogLevel: os.Getenv("LOG_LEVEL"),
		StateDir: os.Getenv("SECRETARIO_STATE_DIR"),
		APIAddr:  os.Getenv("API_ADDR"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),

		LLMBackend:     os.Getenv("LLM_BACKEND"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		GeminiKey:      os.Getenv("GEMINI_API_KEY"),
		LLMModel:       os.Getenv("LLM_MODEL"),
		LLMBaseURL:     os.Getenv("LLM_BASE_URL"),
		LLMTemperature: util.ParseFloatEnv("LLM_TEMPERATURE", genai.DefaultTemperature),
		LLMMaxTokens:   util.ParseIntEnv("LLM_MAX_TOKENS", genai.DefaultMaxTokens),
		LLMLogTiming:   util.ParseBoolEnv("LLM_LOG_TIMING", false),
		LLMDebug:       util.ParseBoolEnv("LLM_DEBUG", false),

		AsanaBaseURL:   os.Getenv("ASANA_BASE_URL"),
		AsanaWorkspace: os.Getenv("ASANA_WORKSPACE"),

		AdapterTimeout: util.ParseDurationEnv("ADAPTER_TIMEOUT", flow.DefaultAdapterTimeout),
		HandlerTimeout: util.ParseDurationEnv("HANDLER_TIMEOUT", messaging.DefaultHandlerTimeout),
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SECRETARIO_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.LLMBackend == "" {
		config.LLMBackend = DefaultLLMBackend
	}

	slog.Debug("environment variables loaded",
		"SECRETARIO_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"TELEGRAM_BOT_TOKEN_SET", config.TelegramToken != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"TWILIO_AUTH_TOKEN_SET", config.TwilioAuthToken != "",
		"TWILIO_FROM_NUMBER", config.TwilioFromNumber,
		"LLM_BACKEND", config.LLMBackend,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"LLM_MODEL", config.LLMModel,
		"ASANA_WORKSPACE", config.AsanaWorkspace,
		"DATABASE_DSN_SET", config.DatabaseDSN != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		stateDir: fs.String("state-dir", config.StateDir, "state directory for the lock file and debug logs (overrides $SECRETARIO_STATE_DIR)"),
		apiAddr:  fs.String("api-addr", config.APIAddr, "HTTP server address (overrides $API_ADDR)"),

		telegramToken: fs.String("telegram-token", config.TelegramToken, "Telegram bot token (overrides $TELEGRAM_BOT_TOKEN)"),

		twilioAccountSID: fs.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioAuthToken:  fs.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFromNumber: fs.String("twilio-from", config.TwilioFromNumber, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
		twilioWebhookURL: fs.String("twilio-webhook-url", config.TwilioWebhookURL, "public webhook URL for signature validation (overrides $TWILIO_WEBHOOK_URL)"),

		llmBackend:     fs.String("llm-backend", config.LLMBackend, "text generation backend: openai, llamacpp or gemini (overrides $LLM_BACKEND)"),
		openaiKey:      fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		geminiKey:      fs.String("gemini-api-key", config.GeminiKey, "Gemini API key (overrides $GEMINI_API_KEY)"),
		llmModel:       fs.String("llm-model", config.LLMModel, "model name (overrides $LLM_MODEL)"),
		llmBaseURL:     fs.String("llm-base-url", config.LLMBaseURL, "OpenAI-compatible base URL (overrides $LLM_BASE_URL)"),
		llmTemperature: fs.Float64("llm-temperature", config.LLMTemperature, "sampling temperature (overrides $LLM_TEMPERATURE)"),
		llmMaxTokens:   fs.Int("llm-max-tokens", config.LLMMaxTokens, "maximum generated tokens (overrides $LLM_MAX_TOKENS)"),
		llmLogTiming:   fs.Bool("llm-log-timing", config.LLMLogTiming, "log generation latency (overrides $LLM_LOG_TIMING)"),
		llmDebug:       fs.Bool("llm-debug", config.LLMDebug, "write generation requests to state-dir/debug (overrides $LLM_DEBUG)"),

		asanaBaseURL:   fs.String("asana-base-url", config.AsanaBaseURL, "Asana API base URL (overrides $ASANA_BASE_URL)"),
		asanaWorkspace: fs.String("asana-workspace", config.AsanaWorkspace, "Asana workspace gid filter (overrides $ASANA_WORKSPACE)"),

		adapterTimeout: fs.Duration("adapter-timeout", config.AdapterTimeout, "timeout for each LLM or Asana call (overrides $ADAPTER_TIMEOUT)"),
		handlerTimeout: fs.Duration("handler-timeout", config.HandlerTimeout, "timeout for processing one message (overrides $HANDLER_TIMEOUT)"),
		dbDSN:          fs.String("db-dsn", config.DatabaseDSN, "dedup store DSN: empty for memory, postgres:// URL or SQLite path (overrides $DATABASE_DSN)"),
	}

	if err := fs.Parse(args); err != nil {
		slog.Error("failed to parse flags", "error", err)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"apiAddr", *flags.apiAddr,
		"telegramTokenSet", *flags.telegramToken != "",
		"twilioSet", *flags.twilioAccountSID != "",
		"llmBackend", *flags.llmBackend,
		"llmModel", *flags.llmModel,
		"adapterTimeout", *flags.adapterTimeout,
		"handlerTimeout", *flags.handlerTimeout,
		"dbDSN_set", *flags.dbDSN != "")

	return flags
}

func telegramEnabled(flags Flags) bool {
	return *flags.telegramToken != ""
}

func whatsAppEnabled(flags Flags) bool {
	return *flags.twilioAccountSID != "" && *flags.twilioAuthToken != "" && *flags.twilioFromNumber != ""
}

func transportsLabel(flags Flags) string {
	var names []string
	if telegramEnabled(flags) {
		names = append(names, "telegram")
	}
	if whatsAppEnabled(flags) {
		names = append(names, "whatsapp")
	}
	return strings.Join(names, ",")
}

// validateFlags rejects configurations that cannot serve any user.
func validateFlags(flags Flags) (genai.Backend, error) {
	if !telegramEnabled(flags) && !whatsAppEnabled(flags) {
		return "", errors.New("no transport configured: set TELEGRAM_BOT_TOKEN or TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
	}
	backend, err := genai.ParseBackend(*flags.llmBackend)
	if err != nil {
		return "", err
	}
	switch backend {
	case genai.BackendOpenAI:
		if *flags.openaiKey == "" {
			return "", fmt.Errorf("%w: set OPENAI_API_KEY for the openai backend", genai.ErrMissingAPIKey)
		}
	case genai.BackendGemini:
		if *flags.geminiKey == "" {
			return "", fmt.Errorf("%w: set GEMINI_API_KEY for the gemini backend", genai.ErrMissingAPIKey)
		}
	case genai.BackendLlamaCPP:
		if err := checkLocalPortClash(*flags.llmBaseURL, *flags.apiAddr); err != nil {
			return "", err
		}
	}
	return backend, nil
}

// checkLocalPortClash rejects a local llama.cpp server bound to the same port as the HTTP API.
func checkLocalPortClash(baseURL, apiAddr string) error {
	if baseURL == "" {
		baseURL = genai.DefaultLlamaCPPURL
	}
	if apiAddr == "" {
		apiAddr = api.DefaultAddr
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid LLM base URL %q: %w", baseURL, err)
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
	default:
		return nil
	}
	llmPort := u.Port()
	if llmPort == "" {
		llmPort = "80"
		if u.Scheme == "https" {
			llmPort = "443"
		}
	}
	_, apiPort, err := net.SplitHostPort(apiAddr)
	if err != nil {
		return fmt.Errorf("invalid API address %q: %w", apiAddr, err)
	}
	if apiPort == llmPort {
		return fmt.Errorf("API address %s collides with the llama.cpp server at %s: set API_ADDR or LLM_BASE_URL", apiAddr, baseURL)
	}
	return nil
}

// ensureDirectoriesExist creates the state directory and the parent of a SQLite database file
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if store.DetectDSNType(*flags.dbDSN) == store.DSNTypeSQLite {
		dirs = append(dirs, filepath.Dir(*flags.dbDSN))
	}
	for _, dir := range dirs {
		slog.Debug("Creating directory", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// buildTelegramOptions constructs Telegram bot options
func buildTelegramOptions(flags Flags) []telegram.Option {
	var opts []telegram.Option
	if *flags.telegramToken != "" {
		opts = append(opts, telegram.WithToken(*flags.telegramToken))
	}
	return opts
}

// buildWhatsAppOptions constructs Twilio WhatsApp options
func buildWhatsAppOptions(flags Flags) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if *flags.twilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(*flags.twilioAccountSID))
	}
	if *flags.twilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(*flags.twilioAuthToken))
	}
	if *flags.twilioFromNumber != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(*flags.twilioFromNumber))
	}
	return opts
}

// buildStoreOptions constructs dedup store options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	switch store.DetectDSNType(*flags.dbDSN) {
	case store.DSNTypePostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	case store.DSNTypeSQLite:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	default:
		slog.Debug("No database DSN provided, will use in-memory dedup store")
	}
	return storeOpts
}

// buildGenAIOptions constructs text generation options for backend
func buildGenAIOptions(flags Flags, backend genai.Backend) []genai.Option {
	genaiOpts := []genai.Option{
		genai.WithTemperature(*flags.llmTemperature),
		genai.WithMaxTokens(*flags.llmMaxTokens),
		genai.WithLogTiming(*flags.llmLogTiming),
	}
	switch backend {
	case genai.BackendOpenAI:
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	case genai.BackendGemini:
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.geminiKey))
	}
	if *flags.llmModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.llmModel))
	}
	if *flags.llmBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.llmBaseURL))
	}
	if *flags.llmDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true, *flags.stateDir))
	}
	return genaiOpts
}

// buildAsanaOptions constructs task tracker options
func buildAsanaOptions(flags Flags) []asana.Option {
	var opts []asana.Option
	if *flags.asanaBaseURL != "" {
		opts = append(opts, asana.WithBaseURL(*flags.asanaBaseURL))
	}
	if *flags.asanaWorkspace != "" {
		opts = append(opts, asana.WithWorkspace(*flags.asanaWorkspace))
	}
	return opts
}

// buildFlowOptions constructs conversation options
func buildFlowOptions(flags Flags) []flow.Option {
	return []flow.Option{flow.WithAdapterTimeout(*flags.adapterTimeout)}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{api.WithHandlerTimeout(*flags.handlerTimeout)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.twilioAuthToken != "" && *flags.twilioWebhookURL != "" {
		apiOpts = append(apiOpts, api.WithTwilioSignature(*flags.twilioAuthToken, *flags.twilioWebhookURL))
	}
	return apiOpts
}
