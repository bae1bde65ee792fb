package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port               string
	Env                string
	QueueAPIBaseURL    string
	SessionID          string
	CounterID          string
	SessionCookieName  string
	SessionCookie      string
	PollInterval       time.Duration
	TickTimeout        time.Duration
	HTTPTimeout        time.Duration
	WaitingLimit       int
	DatabaseURL        string
	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("CONSOLE_PORT")
	if port == "" {
		port = "8090"
	}
	cookieName := os.Getenv("QUEUE_API_SESSION_COOKIE_NAME")
	if cookieName == "" {
		cookieName = "connect.sid"
	}

	return Config{
		Port:               port,
		Env:                os.Getenv("APP_ENV"),
		QueueAPIBaseURL:    strings.TrimSpace(os.Getenv("QUEUE_API_BASE_URL")),
		SessionID:          strings.TrimSpace(os.Getenv("CCO_SESSION_ID")),
		CounterID:          strings.TrimSpace(os.Getenv("CCO_COUNTER_ID")),
		SessionCookieName:  cookieName,
		SessionCookie:      os.Getenv("QUEUE_API_SESSION_COOKIE"),
		PollInterval:       readDurationSeconds("POLL_SECONDS", 5),
		TickTimeout:        readDurationSeconds("TICK_TIMEOUT_SECONDS", 10),
		HTTPTimeout:        readDurationSeconds("HTTP_TIMEOUT_SECONDS", 12),
		WaitingLimit:       readInt("WAITING_LIMIT", 50),
		DatabaseURL:        os.Getenv("DB_DSN"),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
	}
}

// Validate reports every missing required value at once.
func (c Config) Validate() error {
	var errs []error
	if c.QueueAPIBaseURL == "" {
		errs = append(errs, errors.New("QUEUE_API_BASE_URL is required"))
	}
	if c.SessionID == "" {
		errs = append(errs, errors.New("CCO_SESSION_ID is required"))
	}
	if c.CounterID == "" {
		errs = append(errs, errors.New("CCO_COUNTER_ID is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_SECONDS must be positive"))
	}
	return errors.Join(errs...)
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
