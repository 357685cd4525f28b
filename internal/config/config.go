// Package config loads DreamPipe configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/DreamPipe/internal/genai"
	"github.com/BTreeMap/DreamPipe/internal/scheduler"
	"github.com/BTreeMap/DreamPipe/internal/store"
	"github.com/BTreeMap/DreamPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DreamPipe state data
	DefaultStateDir = "/var/lib/dreampipe"
	// DefaultDBFileName is the default SQLite session database filename
	DefaultDBFileName = "dreampipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultPort is the default HTTP port
	DefaultPort = "3000"
	// DefaultLanguage is the fallback interface language
	DefaultLanguage = "ru"
	// DefaultSessionTTL is how long a session lives after creation
	DefaultSessionTTL = 24 * time.Hour
	// DefaultPromoDelay is the pause after the promotional interlude
	DefaultPromoDelay = 15 * time.Second
	// DefaultRequestLimit is the number of interpretations per session lifetime
	DefaultRequestLimit = 1
)

// Transports understood by the serve command.
const (
	TransportTelegram = "telegram"
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved runtime configuration.
type Config struct {
	Transport   string
	BotToken    string
	WebhookURL  string
	SecretToken string
	Port        string

	GenAIProvider string
	GeminiAPIKey  string
	OpenAIAPIKey  string
	GenAIModel    string
	GenAIBaseURL  string
	GenAITimeout  time.Duration
	GenAIDebug    bool

	RequestLimit    int
	PrivilegedUsers []string
	PromoChannel    string
	PromoDelay      time.Duration
	DefaultLanguage string

	SessionBackend   store.Backend
	RedisURL         string
	DatabaseURL      string
	FirestoreProject string
	SessionTTL       time.Duration
	CleanupSchedule  string

	StateDir        string
	WhatsAppDSN     string
	WhatsAppQRPath  string
	WhatsAppNumeric bool

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and the environment, applies defaults
// and validates the result.
func Load() (*Config, error) {
	cfg := LoadEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv is Load without validation. Admin commands use it because they
// only touch the session store and need no transport credentials.
func LoadEnv() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
	return FromEnv()
}

// FromEnv reads the environment and applies defaults without validating.
func FromEnv() *Config {
	cfg := &Config{
		Transport:   strings.ToLower(util.GetEnv("TRANSPORT", TransportTelegram)),
		BotToken:    util.GetEnv("BOT_TOKEN", ""),
		WebhookURL:  util.GetEnv("WEBHOOK_URL", ""),
		SecretToken: util.GetEnv("WEBHOOK_SECRET", ""),
		Port:        util.GetEnv("PORT", DefaultPort),

		GenAIProvider: strings.ToLower(util.GetEnv("GENAI_PROVIDER", "")),
		GeminiAPIKey:  util.GetEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:  util.GetEnv("OPENAI_API_KEY", ""),
		GenAIModel:    util.GetEnv("GENAI_MODEL", ""),
		GenAIBaseURL:  util.GetEnv("GENAI_BASE_URL", ""),
		GenAITimeout:  util.ParseDurationEnv("GENAI_TIMEOUT", genai.DefaultTimeout),
		GenAIDebug:    util.ParseBoolEnv("GENAI_DEBUG", false),

		RequestLimit:    util.ParseIntEnv("AI_REQUEST_LIMIT", DefaultRequestLimit),
		PrivilegedUsers: util.ParseListEnv("PRIVILEGED_USERS"),
		PromoChannel:    util.GetEnv("PROMO_CHANNEL", ""),
		PromoDelay:      util.ParseDurationEnv("PROMO_DELAY", DefaultPromoDelay),
		DefaultLanguage: strings.ToLower(util.GetEnv("DEFAULT_LANGUAGE", DefaultLanguage)),

		SessionBackend:   store.Backend(strings.ToLower(util.GetEnv("SESSION_BACKEND", ""))),
		RedisURL:         util.GetEnv("REDIS_URL", ""),
		DatabaseURL:      util.GetEnv("DATABASE_URL", ""),
		FirestoreProject: util.GetEnv("FIRESTORE_PROJECT", ""),
		SessionTTL:       util.ParseDurationEnv("SESSION_TTL", DefaultSessionTTL),
		CleanupSchedule:  util.GetEnv("CLEANUP_SCHEDULE", scheduler.DefaultCleanupSchedule),

		StateDir:        util.GetEnv("DREAMPIPE_STATE_DIR", DefaultStateDir),
		WhatsAppDSN:     util.GetEnv("WHATSAPP_DB_DSN", ""),
		WhatsAppQRPath:  util.GetEnv("WHATSAPP_QR_OUTPUT", ""),
		WhatsAppNumeric: util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),

		TwilioAccountSID: util.GetEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  util.GetEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: util.GetEnv("TWILIO_FROM_NUMBER", ""),

		LogLevel:  strings.ToLower(util.GetEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(util.GetEnv("LOG_FORMAT", "text")),
	}
	cfg.applyDefaults()

	slog.Debug("environment variables loaded",
		"TRANSPORT", cfg.Transport,
		"BOT_TOKEN_SET", cfg.BotToken != "",
		"WEBHOOK_URL_SET", cfg.WebhookURL != "",
		"GENAI_PROVIDER", cfg.GenAIProvider,
		"SESSION_BACKEND", cfg.SessionBackend,
		"DREAMPIPE_STATE_DIR", cfg.StateDir,
		"AI_REQUEST_LIMIT", cfg.RequestLimit,
		"PROMO_CHANNEL_SET", cfg.PromoChannel != "")
	return cfg
}

// applyDefaults resolves the "auto" choices.
func (c *Config) applyDefaults() {
	if c.GenAIProvider == "" || c.GenAIProvider == "auto" {
		switch {
		case c.GeminiAPIKey != "":
			c.GenAIProvider = genai.ProviderGemini
		case c.OpenAIAPIKey != "":
			c.GenAIProvider = genai.ProviderOpenAI
		}
	}
	if c.SessionBackend == "" || c.SessionBackend == "auto" {
		switch {
		case c.RedisURL != "":
			c.SessionBackend = store.BackendRedis
		case c.FirestoreProject != "":
			c.SessionBackend = store.BackendFirestore
		case c.DatabaseURL != "" && store.DetectDSNType(c.DatabaseURL) == "postgres":
			c.SessionBackend = store.BackendPostgres
		case c.DatabaseURL != "":
			c.SessionBackend = store.BackendSQLite
		default:
			c.SessionBackend = store.BackendMemory
		}
	}
	if c.WhatsAppDSN == "" {
		c.WhatsAppDSN = filepath.Join(c.StateDir, DefaultWhatsAppDBFileName)
	}
	if c.RequestLimit < 1 {
		slog.Warn("AI_REQUEST_LIMIT below 1, using default", "value", c.RequestLimit, "default", DefaultRequestLimit)
		c.RequestLimit = DefaultRequestLimit
	}
}

// Validate reports missing or contradictory settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportTelegram:
		if c.BotToken == "" {
			errs = append(errs, fmt.Errorf("BOT_TOKEN is required for the telegram transport"))
		}
	case TransportWhatsApp:
	case TransportTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			errs = append(errs, fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required for the twilio transport"))
		}
		if c.WebhookURL == "" {
			errs = append(errs, fmt.Errorf("WEBHOOK_URL is required for the twilio transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSPORT %q", c.Transport))
	}

	switch c.GenAIProvider {
	case genai.ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider"))
		}
	case genai.ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, fmt.Errorf("OPENAI_API_KEY is required for the openai provider"))
		}
	case "":
		errs = append(errs, fmt.Errorf("GEMINI_API_KEY or OPENAI_API_KEY must be set"))
	default:
		errs = append(errs, fmt.Errorf("unknown GENAI_PROVIDER %q", c.GenAIProvider))
	}

	switch c.SessionBackend {
	case store.BackendMemory, store.BackendSQLite:
	case store.BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, fmt.Errorf("REDIS_URL is required for the redis backend"))
		}
	case store.BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the postgres backend"))
		}
	case store.BackendFirestore:
		if c.FirestoreProject == "" {
			errs = append(errs, fmt.Errorf("FIRESTORE_PROJECT is required for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend))
	}

	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive"))
	}
	if c.GenAITimeout <= 0 {
		errs = append(errs, fmt.Errorf("GENAI_TIMEOUT must be positive"))
	}
	if err := scheduler.Validate(c.CleanupSchedule); err != nil {
		errs = append(errs, fmt.Errorf("CLEANUP_SCHEDULE: %w", err))
	}
	if _, ok := logLevels[c.LogLevel]; !ok {
		errs = append(errs, fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	if lvl, ok := logLevels[c.LogLevel]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// SQLitePath is the session database path for the sqlite backend.
func (c *Config) SQLitePath() string {
	if c.DatabaseURL != "" && store.DetectDSNType(c.DatabaseURL) != "postgres" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// StoreOptions builds the options for store.New.
func (c *Config) StoreOptions() []store.Option {
	opts := []store.Option{store.WithTTL(c.SessionTTL)}
	switch c.SessionBackend {
	case store.BackendRedis:
		opts = append(opts, store.WithRedisURL(c.RedisURL))
	case store.BackendPostgres:
		opts = append(opts, store.WithPostgresDSN(c.DatabaseURL))
	case store.BackendSQLite:
		opts = append(opts, store.WithSQLiteDSN(c.SQLitePath()))
	case store.BackendFirestore:
		opts = append(opts, store.WithFirestoreProject(c.FirestoreProject))
	}
	return opts
}

// GenAIOptions builds the options for genai.NewGenerator.
func (c *Config) GenAIOptions() []genai.Option {
	var opts []genai.Option
	switch c.GenAIProvider {
	case genai.ProviderGemini:
		opts = append(opts, genai.WithAPIKey(c.GeminiAPIKey))
	case genai.ProviderOpenAI:
		opts = append(opts, genai.WithAPIKey(c.OpenAIAPIKey))
	}
	if c.GenAIModel != "" {
		opts = append(opts, genai.WithModel(c.GenAIModel))
	}
	if c.GenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(c.GenAIBaseURL))
	}
	opts = append(opts, genai.WithTimeout(c.GenAITimeout))
	if c.GenAIDebug {
		opts = append(opts, genai.WithDebugDir(c.StateDir))
	}
	return opts
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}
