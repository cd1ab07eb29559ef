package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the engine
type AppConfig struct {
	DatabaseURL string
	DBMaxConns  int
	LogLevel    string
	Environment string

	// Reminder window: the cron spec MUST fire every ReminderPeriod, since
	// the selection window is exactly one period long.
	ReminderPeriod   time.Duration
	ReminderLead     time.Duration
	CronSpecReminder string

	// Absence confirmations lock this long before class start.
	AbsenceCutoff     time.Duration
	CronSpecLockSweep string

	CronSpecExpireSweep string

	// Confirming an absence promotes the earliest waitlist entry when set.
	AutoPromote bool

	// Delivery providers
	WhatsAppGatewayURL string
	WhatsAppToken      string
	ResendAPIKey       string // optional; email fallback disabled when empty
	EmailFrom          string
	TelegramToken      string
	OperatorTelegramID int64

	SendMaxRetries  int
	SendBackoffBase time.Duration
	SendTimeout     time.Duration
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.DBMaxConns = 25
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		cfg.DBMaxConns, err = strconv.Atoi(v)
		if err != nil || cfg.DBMaxConns <= 0 {
			return nil, fmt.Errorf("invalid DB_MAX_CONNS: %q", v)
		}
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	cfg.ReminderPeriod, err = durationEnv("REMINDER_PERIOD", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.ReminderLead, err = durationEnv("REMINDER_LEAD", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.AbsenceCutoff, err = durationEnv("ABSENCE_CUTOFF", time.Hour)
	if err != nil {
		return nil, err
	}

	cfg.CronSpecReminder = os.Getenv("CRON_SPEC_REMINDER")
	if cfg.CronSpecReminder == "" {
		cfg.CronSpecReminder = "*/30 * * * *" // Must match REMINDER_PERIOD
	}
	cfg.CronSpecLockSweep = os.Getenv("CRON_SPEC_LOCK_SWEEP")
	if cfg.CronSpecLockSweep == "" {
		cfg.CronSpecLockSweep = "*/15 * * * *"
	}
	cfg.CronSpecExpireSweep = os.Getenv("CRON_SPEC_EXPIRE_SWEEP")
	if cfg.CronSpecExpireSweep == "" {
		cfg.CronSpecExpireSweep = "0 3 * * *" // Daily, 03:00
	}

	cfg.AutoPromote = true
	if v := os.Getenv("AUTO_PROMOTE"); v != "" {
		cfg.AutoPromote, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTO_PROMOTE: %w", err)
		}
	}

	cfg.WhatsAppGatewayURL = os.Getenv("WHATSAPP_GATEWAY_URL")
	if cfg.WhatsAppGatewayURL == "" {
		return nil, fmt.Errorf("WHATSAPP_GATEWAY_URL is not set")
	}
	cfg.WhatsAppToken = os.Getenv("WHATSAPP_TOKEN")
	if cfg.WhatsAppToken == "" {
		return nil, fmt.Errorf("WHATSAPP_TOKEN is not set")
	}

	cfg.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	cfg.EmailFrom = os.Getenv("EMAIL_FROM")
	if cfg.ResendAPIKey != "" && cfg.EmailFrom == "" {
		return nil, fmt.Errorf("EMAIL_FROM is required when RESEND_API_KEY is set")
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	operatorIDStr := os.Getenv("OPERATOR_TELEGRAM_ID")
	if operatorIDStr == "" {
		return nil, fmt.Errorf("OPERATOR_TELEGRAM_ID is not set")
	}
	cfg.OperatorTelegramID, err = strconv.ParseInt(operatorIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OPERATOR_TELEGRAM_ID: %w", err)
	}

	cfg.SendMaxRetries = 3
	if v := os.Getenv("SEND_MAX_RETRIES"); v != "" {
		cfg.SendMaxRetries, err = strconv.Atoi(v)
		if err != nil || cfg.SendMaxRetries < 0 {
			return nil, fmt.Errorf("invalid SEND_MAX_RETRIES: %q", v)
		}
	}
	cfg.SendBackoffBase, err = durationEnv("SEND_BACKOFF_BASE", 2*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.SendTimeout, err = durationEnv("SEND_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
