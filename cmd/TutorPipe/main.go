package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/TutorPipe/internal/api"
	"github.com/BTreeMap/TutorPipe/internal/genai"
	"github.com/BTreeMap/TutorPipe/internal/lockfile"
	"github.com/BTreeMap/TutorPipe/internal/store"
	"github.com/BTreeMap/TutorPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/TutorPipe/internal/util"
	"github.com/BTreeMap/TutorPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TutorPipe state data
	DefaultStateDir = "/var/lib/tutorpipe"
	// DefaultDBFileName is the default SQLite transcript database filename
	DefaultDBFileName = "tutorpipe.db"
	// DefaultWhatsAppDBFileName is the default SQLite whatsmeow device database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Initialize structured logger
	initializeLogger(*flags.logLevel)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		return 1
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			slog.Error("TutorPipe is already running", "error", lockErr.Error())
		} else {
			slog.Error("Failed to lock state directory", "error", err)
		}
		return 1
	}
	defer lock.Release()

	// Build module options
	waOpts := buildWhatsAppOptions(flags)
	twilioOpts := buildTwilioOptions(config)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags, config)

	// Start the service
	slog.Info("Bootstrapping TutorPipe with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "twilio", len(twilioOpts), "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "provider", *flags.provider)
	if err := api.Run(waOpts, twilioOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("TutorPipe failed to run", "error", err)
		return 1
	}
	slog.Info("TutorPipe exited successfully")
	return 0
}

// Config holds environment configuration
type Config struct {
	LogLevel        string
	StateDir        string
	DatabaseURL     string
	WhatsAppDSN     string
	WhatsAppEnabled bool
	GeminiKey       string
	OpenAIKey       string
	Provider        string
	Model           string
	GenAIDebug      bool
	APIAddr         string
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
}

// Flags holds command line flag values
type Flags struct {
	logLevel   *string
	qrOutput   *string
	numeric    *bool
	whatsapp   *bool
	waDSN      *string
	stateDir   *string
	dbDSN      *string
	geminiKey  *string
	openaiKey  *string
	provider   *string
	model      *string
	genaiDebug *bool
	apiAddr    *string
}

// initializeLogger sets up structured logging at the configured level
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	slog.Debug("logger initialized", "level", lvl.String())
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LogLevel:        os.Getenv("LOG_LEVEL"),
		StateDir:        os.Getenv("TUTORPIPE_STATE_DIR"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		WhatsAppEnabled: util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		GeminiKey:       os.Getenv("GEMINI_API_KEY"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		Provider:        os.Getenv("LLM_PROVIDER"),
		Model:           os.Getenv("LLM_MODEL"),
		GenAIDebug:      util.ParseBoolEnv("GENAI_DEBUG", false),
		APIAddr:         os.Getenv("API_ADDR"),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.Provider == "" {
		config.Provider = genai.ProviderGemini
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}
	// whatsmeow shares a Postgres database, but keeps its own SQLite file
	if config.WhatsAppDSN == "" {
		if store.DetectDSNType(config.DatabaseURL) == "postgres" {
			config.WhatsAppDSN = config.DatabaseURL
		} else {
			config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
		}
	}

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		logLevel:   flag.String("log-level", config.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)"),
		qrOutput:   flag.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:    flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		whatsapp:   flag.Bool("whatsapp", config.WhatsAppEnabled, "enable the WhatsApp channel (overrides $WHATSAPP_ENABLED)"),
		waDSN:      flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device database DSN (overrides $WHATSAPP_DB_DSN)"),
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for TutorPipe data (overrides $TUTORPIPE_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "transcript database DSN: Postgres URL or SQLite path (overrides $DATABASE_URL)"),
		geminiKey:  flag.String("gemini-api-key", config.GeminiKey, "Gemini API key (overrides $GEMINI_API_KEY)"),
		openaiKey:  flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		provider:   flag.String("llm-provider", config.Provider, "language service provider: gemini or openai (overrides $LLM_PROVIDER)"),
		model:      flag.String("llm-model", config.Model, "language model override (overrides $LLM_MODEL)"),
		genaiDebug: flag.Bool("genai-debug", config.GenAIDebug, "write language service requests under <state-dir>/debug (overrides $GENAI_DEBUG)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
	}

	flag.Parse()
	applyStateDirOverride(config, flags)
	return flags
}

// applyStateDirOverride moves DSNs that were derived from the environment's state directory
// into a -state-dir override. Explicitly configured DSNs are left alone.
func applyStateDirOverride(config Config, flags Flags) {
	if *flags.stateDir == config.StateDir {
		return
	}
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}
	if *flags.waDSN == filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) {
		*flags.waDSN = filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName)
	}
}

// ensureDirectoriesExist creates the directories of file-based databases
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	for _, dsn := range []string{*flags.dbDSN, *flags.waDSN} {
		if dsn != "" && store.DetectDSNType(dsn) != "postgres" {
			dirs = append(dirs, filepath.Dir(strings.TrimPrefix(dsn, "file:")))
		}
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
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
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if config.TwilioSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(config.TwilioSID))
	}
	if config.TwilioToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(config.TwilioToken))
	}
	if config.TwilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(config.TwilioFrom))
	}
	return opts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

// buildGenAIOptions constructs language service options for the selected provider
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	key := *flags.geminiKey
	if strings.EqualFold(*flags.provider, genai.ProviderOpenAI) {
		key = *flags.openaiKey
	}
	if key != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(key))
	}
	if *flags.model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.model))
	}
	if *flags.genaiDebug {
		genaiOpts = append(genaiOpts, genai.WithDebug(*flags.stateDir))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	apiOpts := []api.Option{
		api.WithProvider(*flags.provider),
		api.WithWhatsApp(*flags.whatsapp),
		api.WithTwilio(config.TwilioSID != "" && config.TwilioToken != "" && config.TwilioFrom != ""),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
