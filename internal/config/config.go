package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/PoiScript/sagiri/internal/control"
)

// Config holds the bot configuration read from environment variables.
type Config struct {
	TelegramToken   string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIBase string `env:"TELEGRAM_API_BASE" envDefault:"https://api.telegram.org"`

	PollTimeoutSeconds    int     `env:"SAGIRI_POLL_TIMEOUT_SECONDS" envDefault:"120"`
	RequestTimeoutSeconds int     `env:"SAGIRI_REQUEST_TIMEOUT_SECONDS" envDefault:"150"`
	SendRate              float64 `env:"SAGIRI_SEND_RATE" envDefault:"25"`
	SendBurst             int     `env:"SAGIRI_SEND_BURST" envDefault:"5"`

	KitsuAPIBase   string `env:"KITSU_API_BASE" envDefault:"https://kitsu.io/api/edge"`
	KitsuPageLimit int    `env:"KITSU_PAGE_LIMIT" envDefault:"10"`

	RegistryURL            string `env:"SAGIRI_REGISTRY_URL"`
	RegistryToken          string `env:"SAGIRI_REGISTRY_TOKEN"`
	RegistryRefreshMinutes int    `env:"SAGIRI_REGISTRY_REFRESH_MINUTES" envDefault:"0"`

	DBPath string `env:"SAGIRI_DB_PATH" envDefault:"./sagiri.db"`

	Source          string `env:"SAGIRI_SOURCE" envDefault:"telegram"`
	DummyPollScript string `env:"SAGIRI_DUMMY_POLL_SCRIPT" envDefault:"ok"`
	DummySendScript string `env:"SAGIRI_DUMMY_SEND_SCRIPT" envDefault:"ok"`
	DummyChatID     int64  `env:"SAGIRI_DUMMY_CHAT_ID" envDefault:"1"`
	DummySenderID   int64  `env:"SAGIRI_DUMMY_SENDER_ID" envDefault:"1"`

	HandleTimeoutSeconds   int `env:"SAGIRI_HANDLE_TIMEOUT_SECONDS" envDefault:"60"`
	RestartDelaySeconds    int `env:"SAGIRI_RESTART_DELAY_SECONDS" envDefault:"1"`
	StableRunSeconds       int `env:"SAGIRI_STABLE_RUN_SECONDS" envDefault:"60"`
	CrashWindowSeconds     int `env:"SAGIRI_CRASH_WINDOW_SECONDS" envDefault:"300"`
	CrashThreshold         int `env:"SAGIRI_CRASH_THRESHOLD" envDefault:"3"`
	CircuitCooldownSeconds int `env:"SAGIRI_CIRCUIT_COOLDOWN_SECONDS" envDefault:"300"`

	LogLevel  string `env:"SAGIRI_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"SAGIRI_LOG_FORMAT" envDefault:"console"`
	LogFile   string `env:"SAGIRI_LOG_FILE"`
}

// LoadEnvFile loads variables from a .env file without overriding the
// ones already set. An empty path is a no-op.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables and validates it.
func Load() (Config, error) {
	return load(true)
}

// LoadOffline is Load without the checks that only matter when talking to
// Telegram. It serves the maintenance commands.
func LoadOffline() (Config, error) {
	return load(false)
}

func load(online bool) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, parseError(err)
	}
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.TelegramAPIBase = strings.TrimRight(cfg.TelegramAPIBase, "/")
	cfg.KitsuAPIBase = strings.TrimRight(cfg.KitsuAPIBase, "/")
	if err := cfg.validate(online); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseError names the environment variable behind a field parse failure.
func parseError(err error) error {
	var field string
	var pe env.ParseError
	var ppe *env.ParseError
	switch {
	case errors.As(err, &pe):
		field = pe.Name
	case errors.As(err, &ppe):
		field = ppe.Name
	default:
		return fmt.Errorf("parse environment: %w", err)
	}
	sf, ok := reflect.TypeOf(Config{}).FieldByName(field)
	if !ok {
		return fmt.Errorf("parse environment: %w", err)
	}
	key, _, _ := strings.Cut(sf.Tag.Get("env"), ",")
	return fmt.Errorf("%s has an invalid value: %w", key, err)
}

func (c Config) validate(online bool) error {
	switch c.Source {
	case "telegram":
		if online && c.TelegramToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when SAGIRI_SOURCE=telegram")
		}
	case "dummy":
	default:
		return fmt.Errorf("SAGIRI_SOURCE must be telegram or dummy, got %q", c.Source)
	}
	if c.PollTimeoutSeconds < 0 {
		return fmt.Errorf("SAGIRI_POLL_TIMEOUT_SECONDS must be >= 0")
	}
	if c.RequestTimeoutSeconds <= c.PollTimeoutSeconds {
		return fmt.Errorf("SAGIRI_REQUEST_TIMEOUT_SECONDS (%d) must exceed SAGIRI_POLL_TIMEOUT_SECONDS (%d)",
			c.RequestTimeoutSeconds, c.PollTimeoutSeconds)
	}
	if c.SendRate <= 0 {
		return fmt.Errorf("SAGIRI_SEND_RATE must be > 0")
	}
	if c.SendBurst <= 0 {
		return fmt.Errorf("SAGIRI_SEND_BURST must be > 0")
	}
	if c.KitsuPageLimit <= 0 || c.KitsuPageLimit > 20 {
		return fmt.Errorf("KITSU_PAGE_LIMIT must be in [1,20]")
	}
	if c.RegistryRefreshMinutes < 0 {
		return fmt.Errorf("SAGIRI_REGISTRY_REFRESH_MINUTES must be >= 0")
	}
	if c.RegistryRefreshMinutes > 0 && c.RegistryURL == "" {
		return fmt.Errorf("SAGIRI_REGISTRY_URL is required when SAGIRI_REGISTRY_REFRESH_MINUTES > 0")
	}
	if c.DBPath == "" {
		return fmt.Errorf("SAGIRI_DB_PATH must not be empty")
	}
	if c.HandleTimeoutSeconds <= 0 {
		return fmt.Errorf("SAGIRI_HANDLE_TIMEOUT_SECONDS must be > 0")
	}
	if c.RestartDelaySeconds < 0 {
		return fmt.Errorf("SAGIRI_RESTART_DELAY_SECONDS must be >= 0")
	}
	if c.StableRunSeconds <= 0 {
		return fmt.Errorf("SAGIRI_STABLE_RUN_SECONDS must be > 0")
	}
	if c.CrashWindowSeconds <= 0 {
		return fmt.Errorf("SAGIRI_CRASH_WINDOW_SECONDS must be > 0")
	}
	if c.CrashThreshold <= 0 {
		return fmt.Errorf("SAGIRI_CRASH_THRESHOLD must be > 0")
	}
	if c.CircuitCooldownSeconds <= 0 {
		return fmt.Errorf("SAGIRI_CIRCUIT_COOLDOWN_SECONDS must be > 0")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("SAGIRI_LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// Policy converts the supervision settings to a control.Policy.
func (c Config) Policy() control.Policy {
	return control.Policy{
		HandleTimeout:   seconds(c.HandleTimeoutSeconds),
		RestartDelay:    seconds(c.RestartDelaySeconds),
		StableRun:       seconds(c.StableRunSeconds),
		CrashWindow:     seconds(c.CrashWindowSeconds),
		CrashThreshold:  c.CrashThreshold,
		CircuitCooldown: seconds(c.CircuitCooldownSeconds),
	}
}

// RequestTimeout is the HTTP timeout for Bot API calls.
func (c Config) RequestTimeout() time.Duration { return seconds(c.RequestTimeoutSeconds) }

// RegistryRefreshEvery is the periodic refresh interval; zero disables it.
func (c Config) RegistryRefreshEvery() time.Duration {
	return time.Duration(c.RegistryRefreshMinutes) * time.Minute
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
