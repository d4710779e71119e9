package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const (
	StoreModeJSON     = "json"
	StoreModePostgres = "postgres"
)

type Config struct {
	ListenAddr string `validate:"required"`
	AdminAddr  string

	StoreMode   string `validate:"oneof=json postgres"`
	DatabaseURL string `validate:"required_if=StoreMode postgres"`
	ItemsDBPath string `validate:"required_if=StoreMode json"`
	UsersDBPath string `validate:"required_if=StoreMode json"`

	MinLoginBonus           int64 `validate:"gte=0"`
	MaxLoginBonus           int64 `validate:"gtefield=MinLoginBonus"`
	SaveFrequency           int   `validate:"gte=1"`
	AllowSimultaneousLogins bool

	IdleTimeout       time.Duration `validate:"gte=0"`
	RequestRatePerSec float64       `validate:"gt=0"`
	RequestBurst      int           `validate:"gte=1"`

	AdminUsername string
	AdminPassword string
	JWTSecret     string `validate:"required_with=AdminAddr"`

	AuditWebhookURL        string `validate:"omitempty,url"`
	AuditWebhookTimeout    time.Duration
	AuditWebhookMaxRetries int `validate:"gte=0"`
	AuditWebhookRetryBase  time.Duration
	AuditWebhookRetryMax   time.Duration
	AuditJournalSize       int `validate:"gte=1"`

	ServerAddr    string        `validate:"required"`
	ClientTimeout time.Duration `validate:"gt=0"`

	LogLevel string
}

func Load() Config {
	return Config{
		ListenAddr:              getEnv("LISTEN_ADDR", "127.0.0.1:9090"),
		AdminAddr:               getEnvAllowEmpty("ADMIN_ADDR", "127.0.0.1:18080"),
		StoreMode:               strings.ToLower(getEnv("STORE_MODE", StoreModeJSON)),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		ItemsDBPath:             getEnv("ITEMS_DB_PATH", "data/items.json"),
		UsersDBPath:             getEnv("USERS_DB_PATH", "data/users.json"),
		MinLoginBonus:           int64(getInt("MIN_LOGIN_BONUS", 10)),
		MaxLoginBonus:           int64(getInt("MAX_LOGIN_BONUS", 100)),
		SaveFrequency:           getInt("SAVE_FREQUENCY", 5),
		AllowSimultaneousLogins: getBool("ALLOW_SIMULTANEOUS_LOGINS", false),
		IdleTimeout:             getDuration("IDLE_TIMEOUT", 0),
		RequestRatePerSec:       getFloat("REQUEST_RATE_PER_SEC", 50),
		RequestBurst:            getInt("REQUEST_BURST", 100),
		AdminUsername:           getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:           getEnv("ADMIN_PASSWORD", "change-me"),
		JWTSecret:               getEnv("JWT_SECRET", "change-this-secret"),
		AuditWebhookURL:         getEnv("AUDIT_WEBHOOK_URL", ""),
		AuditWebhookTimeout:     getDuration("AUDIT_WEBHOOK_TIMEOUT", 5*time.Second),
		AuditWebhookMaxRetries:  getInt("AUDIT_WEBHOOK_MAX_RETRIES", 3),
		AuditWebhookRetryBase:   getDuration("AUDIT_WEBHOOK_RETRY_BASE", 500*time.Millisecond),
		AuditWebhookRetryMax:    getDuration("AUDIT_WEBHOOK_RETRY_MAX", 5*time.Second),
		AuditJournalSize:        getInt("AUDIT_JOURNAL_SIZE", 256),
		ServerAddr:              getEnv("SERVER_ADDR", "127.0.0.1:9090"),
		ClientTimeout:           getDuration("CLIENT_TIMEOUT", 5*time.Second),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
	}
}

var validate = validator.New()

// Validate reports the first configuration problem that would keep the
// server or client from starting.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// ValidateClient checks only the settings the interactive client reads, so
// a server-oriented environment does not keep the client from starting.
func (c Config) ValidateClient() error {
	if err := validate.StructPartial(c, "ServerAddr", "ClientTimeout"); err != nil {
		return errors.Wrap(err, "invalid client configuration")
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// getEnvAllowEmpty distinguishes an unset variable from one explicitly set
// to the empty string.
func getEnvAllowEmpty(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
