package config

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/DreamPipe/internal/genai"
	"github.com/BTreeMap/DreamPipe/internal/store"
)

var allKeys = []string{
	"TRANSPORT", "BOT_TOKEN", "WEBHOOK_URL", "WEBHOOK_SECRET", "PORT",
	"GENAI_PROVIDER", "GEMINI_API_KEY", "OPENAI_API_KEY", "GENAI_MODEL", "GENAI_BASE_URL", "GENAI_TIMEOUT", "GENAI_DEBUG",
	"AI_REQUEST_LIMIT", "PRIVILEGED_USERS", "PROMO_CHANNEL", "PROMO_DELAY", "DEFAULT_LANGUAGE",
	"SESSION_BACKEND", "REDIS_URL", "DATABASE_URL", "FIRESTORE_PROJECT", "SESSION_TTL", "CLEANUP_SCHEDULE",
	"DREAMPIPE_STATE_DIR", "WHATSAPP_DB_DSN", "WHATSAPP_QR_OUTPUT", "WHATSAPP_NUMERIC_CODE",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER",
	"LOG_LEVEL", "LOG_FORMAT",
}

func cleanEnv(t *testing.T, kv ...string) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
	for i := 0; i+1 < len(kv); i += 2 {
		t.Setenv(kv[i], kv[i+1])
	}
}

func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t, "BOT_TOKEN", "123:abc", "GEMINI_API_KEY", "g-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportTelegram, cfg.Transport)
	assert.Equal(t, genai.ProviderGemini, cfg.GenAIProvider)
	assert.Equal(t, store.BackendMemory, cfg.SessionBackend)
	assert.Equal(t, DefaultRequestLimit, cfg.RequestLimit)
	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL)
	assert.Equal(t, DefaultPromoDelay, cfg.PromoDelay)
	assert.Equal(t, genai.DefaultTimeout, cfg.GenAITimeout)
	assert.Equal(t, "ru", cfg.DefaultLanguage)
	assert.Equal(t, ":3000", cfg.Addr())
	assert.Equal(t, filepath.Join(DefaultStateDir, DefaultWhatsAppDBFileName), cfg.WhatsAppDSN)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, "@every 10m", cfg.CleanupSchedule)
}

func TestLoad_Overrides(t *testing.T) {
	cleanEnv(t,
		"BOT_TOKEN", "123:abc",
		"OPENAI_API_KEY", "o-key",
		"AI_REQUEST_LIMIT", "3",
		"PRIVILEGED_USERS", "42, 7,,",
		"PROMO_CHANNEL", "@dreams",
		"PROMO_DELAY", "5",
		"SESSION_TTL", "12h",
		"PORT", "8080",
		"LOG_LEVEL", "DEBUG",
		"LOG_FORMAT", "json",
	)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, genai.ProviderOpenAI, cfg.GenAIProvider)
	assert.Equal(t, 3, cfg.RequestLimit)
	assert.Equal(t, []string{"42", "7"}, cfg.PrivilegedUsers)
	assert.Equal(t, "@dreams", cfg.PromoChannel)
	assert.Equal(t, 5*time.Second, cfg.PromoDelay)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestBackendAutoSelection(t *testing.T) {
	tests := []struct {
		name string
		env  []string
		want store.Backend
	}{
		{"redis", []string{"REDIS_URL", "redis://localhost:6379/0"}, store.BackendRedis},
		{"firestore", []string{"FIRESTORE_PROJECT", "dreams"}, store.BackendFirestore},
		{"postgres", []string{"DATABASE_URL", "postgres://u:p@localhost/db"}, store.BackendPostgres},
		{"sqlite", []string{"DATABASE_URL", "/tmp/dreams.db"}, store.BackendSQLite},
		{"explicit", []string{"SESSION_BACKEND", "sqlite"}, store.BackendSQLite},
		{"memory", nil, store.BackendMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanEnv(t, tt.env...)
			assert.Equal(t, tt.want, FromEnv().SessionBackend)
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  []string
		want string
	}{
		{"missing token", []string{"GEMINI_API_KEY", "k"}, "BOT_TOKEN"},
		{"missing genai key", []string{"BOT_TOKEN", "t"}, "GEMINI_API_KEY or OPENAI_API_KEY"},
		{"unknown transport", []string{"TRANSPORT", "fax", "GEMINI_API_KEY", "k"}, "unknown TRANSPORT"},
		{"twilio credentials", []string{"TRANSPORT", "twilio", "GEMINI_API_KEY", "k"}, "TWILIO_ACCOUNT_SID"},
		{"provider without key", []string{"BOT_TOKEN", "t", "GENAI_PROVIDER", "openai", "GEMINI_API_KEY", "k"}, "OPENAI_API_KEY is required"},
		{"redis without url", []string{"BOT_TOKEN", "t", "GEMINI_API_KEY", "k", "SESSION_BACKEND", "redis"}, "REDIS_URL"},
		{"unknown backend", []string{"BOT_TOKEN", "t", "GEMINI_API_KEY", "k", "SESSION_BACKEND", "etcd"}, "unknown SESSION_BACKEND"},
		{"bad schedule", []string{"BOT_TOKEN", "t", "GEMINI_API_KEY", "k", "CLEANUP_SCHEDULE", "sometimes"}, "CLEANUP_SCHEDULE"},
		{"bad log level", []string{"BOT_TOKEN", "t", "GEMINI_API_KEY", "k", "LOG_LEVEL", "loud"}, "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanEnv(t, tt.env...)
			_, err := Load()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_RequestLimitFallsBackToDefault(t *testing.T) {
	for _, v := range []string{"0", "-3", "many"} {
		t.Run(v, func(t *testing.T) {
			cleanEnv(t, "BOT_TOKEN", "t", "GEMINI_API_KEY", "k", "AI_REQUEST_LIMIT", v)
			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, DefaultRequestLimit, cfg.RequestLimit)
		})
	}
}

func TestValidate_WhatsAppNeedsNoToken(t *testing.T) {
	cleanEnv(t, "TRANSPORT", "whatsapp", "GEMINI_API_KEY", "k", "DREAMPIPE_STATE_DIR", "/data")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/whatsmeow.db", cfg.WhatsAppDSN)
}

func TestStoreAndGenAIOptions(t *testing.T) {
	cleanEnv(t, "DATABASE_URL", "/tmp/s.db", "GEMINI_API_KEY", "k", "GENAI_MODEL", "gemini-x", "GENAI_DEBUG", "true")
	cfg := FromEnv()

	assert.Equal(t, "/tmp/s.db", cfg.SQLitePath())
	assert.Len(t, cfg.StoreOptions(), 2)
	assert.Len(t, cfg.GenAIOptions(), 4)

	cleanEnv(t, "DREAMPIPE_STATE_DIR", "/state")
	assert.Equal(t, "/state/dreampipe.db", FromEnv().SQLitePath())
}
