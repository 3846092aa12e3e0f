// Package config holds the process configuration. It is built once from
// flags and environment at startup and passed to constructors read-only.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // zone database for minimal containers

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/receipt-agent/internal/receipt"
	"github.com/zombor/receipt-agent/internal/scanning"
)

// EnvVarPrefix is prepended to flag names to form environment variables,
// e.g. --gemini-model is RECEIPT_AGENT_GEMINI_MODEL.
const EnvVarPrefix = "RECEIPT_AGENT"

const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// telegram accepts 1-256 characters A-Z, a-z, 0-9, _ and -
var webhookSecretPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// Config is the complete process configuration
type Config struct {
	Provider     string        `json:"provider"`
	GeminiAPIKey string        `json:"gemini_key"`
	GeminiModel  string        `json:"gemini_model"`
	OllamaURL    string        `json:"ollama_url"`
	OllamaModel  string        `json:"ollama_model"`
	ModelTimeout time.Duration `json:"model_timeout"`

	Timezone        string        `json:"timezone"`
	EarliestYear    int           `json:"earliest_year"`
	FutureTolerance time.Duration `json:"future_tolerance"`
	AllowZeroTotal  bool          `json:"allow_zero_total"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	Addr           string        `json:"addr"`
	TelegramToken  string        `json:"telegram_token"`
	TelegramAPIURL string        `json:"telegram_api_url"`
	WebhookSecret  string        `json:"webhook_secret"`
	PublicURL      string        `json:"public_url"`
	FetchTimeout   time.Duration `json:"fetch_timeout"`
	ProcessTimeout time.Duration `json:"process_timeout"`
}

// RegisterFlags adds the flags shared by every command to fs
func (c *Config) RegisterFlags(fs *ff.FlagSet) {
	fs.StringVar(&c.Provider, 0, "provider", ProviderGemini, "Model provider: 'gemini' or 'ollama'")
	fs.StringVar(&c.GeminiAPIKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	fs.StringVar(&c.GeminiModel, 0, "gemini-model", "gemini-2.5-flash", "Google Gemini model name")
	fs.StringVar(&c.OllamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	fs.StringVar(&c.OllamaModel, 0, "ollama-model", "qwen2.5vl", "Ollama model name, must support vision and tools")
	fs.DurationVar(&c.ModelTimeout, 0, "model-timeout", scanning.DefaultTimeout, "Timeout for one model call")
	fs.StringVar(&c.Timezone, 0, "timezone", "UTC", "IANA time zone for receipt dates without a zone, e.g. America/Lima")
	fs.IntVar(&c.EarliestYear, 0, "earliest-year", 2000, "Receipt dates before this year are dropped")
	fs.DurationVar(&c.FutureTolerance, 0, "future-tolerance", 48*time.Hour, "Receipt dates later than now plus this are dropped")
	fs.BoolVar(&c.AllowZeroTotal, 0, "allow-zero-total", "Accept receipts with a total of 0.00")
	fs.StringVar(&c.LogLevel, 0, "log-level", "info", "Log level: debug, info, warn or error")
	fs.StringVar(&c.LogFormat, 0, "log-format", "text", "Log format: text or json")
}

// RegisterServeFlags adds the webhook server flags to fs
func (c *Config) RegisterServeFlags(fs *ff.FlagSet) {
	fs.StringVar(&c.Addr, 0, "addr", ":8080", "HTTP listen address")
	fs.StringVar(&c.TelegramToken, 0, "telegram-token", "", "Telegram bot token (or set TELEGRAM_BOT_TOKEN env var)")
	fs.StringVar(&c.TelegramAPIURL, 0, "telegram-api-url", "https://api.telegram.org", "Telegram Bot API server URL")
	fs.StringVar(&c.WebhookSecret, 0, "webhook-secret", "", "Secret Telegram echoes in X-Telegram-Bot-Api-Secret-Token (optional)")
	fs.StringVar(&c.PublicURL, 0, "public-url", "", "Public HTTPS URL of /webhook; registers the webhook on startup (optional)")
	fs.DurationVar(&c.FetchTimeout, 0, "fetch-timeout", 30*time.Second, "Timeout for downloading an image from Telegram")
	fs.DurationVar(&c.ProcessTimeout, 0, "process-timeout", 2*time.Minute, "Timeout for handling one update")
}

// ApplyEnvFallbacks fills credentials from their conventional environment
// variables when no flag or prefixed variable set them.
func (c *Config) ApplyEnvFallbacks(getenv func(string) string) {
	if c.GeminiAPIKey == "" {
		c.GeminiAPIKey = getenv("GEMINI_API_KEY")
	}
	if c.TelegramToken == "" {
		c.TelegramToken = getenv("TELEGRAM_BOT_TOKEN")
	}
}

// ValidateExtract checks the settings needed to extract receipts
func (c Config) ValidateExtract() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderGemini, ProviderOllama)),
		validation.Field(&c.GeminiAPIKey, validation.When(c.Provider == ProviderGemini,
			validation.Required.Error("is required (set --gemini-key or GEMINI_API_KEY)"))),
		validation.Field(&c.GeminiModel, validation.When(c.Provider == ProviderGemini, validation.Required)),
		validation.Field(&c.OllamaURL, validation.When(c.Provider == ProviderOllama, validation.Required, is.URL)),
		validation.Field(&c.OllamaModel, validation.When(c.Provider == ProviderOllama, validation.Required)),
		validation.Field(&c.ModelTimeout, validation.Min(time.Second)),
		validation.Field(&c.Timezone, validation.By(validTimezone)),
		validation.Field(&c.EarliestYear, validation.Min(1970), validation.Max(2100)),
		validation.Field(&c.FutureTolerance, validation.Min(time.Duration(0))),
		validation.Field(&c.LogLevel, validation.By(validLogLevel)),
		validation.Field(&c.LogFormat, validation.In("text", "json")),
	)
}

// ValidateServe checks the settings needed to run the webhook server
func (c Config) ValidateServe() error {
	if err := c.ValidateExtract(); err != nil {
		return err
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.TelegramToken,
			validation.Required.Error("is required (set --telegram-token or TELEGRAM_BOT_TOKEN)")),
		validation.Field(&c.TelegramAPIURL, validation.Required, is.URL),
		validation.Field(&c.WebhookSecret,
			validation.Match(webhookSecretPattern).Error("must be 1-256 characters of A-Z, a-z, 0-9, _ or -")),
		validation.Field(&c.PublicURL, is.URL, validation.By(httpsURL)),
		validation.Field(&c.FetchTimeout, validation.Min(time.Second)),
		validation.Field(&c.ProcessTimeout, validation.Min(time.Second)),
	)
}

// Location returns the configured time zone
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Policy returns the receipt plausibility policy
func (c Config) Policy() (receipt.Policy, error) {
	loc, err := c.Location()
	if err != nil {
		return receipt.Policy{}, err
	}
	policy := receipt.DefaultPolicy()
	policy.Location = loc
	policy.AllowZeroTotal = c.AllowZeroTotal
	if c.EarliestYear != 0 {
		policy.EarliestYear = c.EarliestYear
	}
	if c.FutureTolerance != 0 {
		policy.FutureTolerance = c.FutureTolerance
	}
	return policy, nil
}

// NewLogger builds the process logger writing to w
func (c Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.logLevel())); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.LogFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.LogFormat)
	}
}

func (c Config) logLevel() string {
	if c.LogLevel == "" {
		return "info"
	}
	return c.LogLevel
}

func validTimezone(value interface{}) error {
	tz, _ := value.(string)
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("unknown time zone %q", tz)
	}
	return nil
}

func validLogLevel(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("must be debug, info, warn or error")
	}
	return nil
}

func httpsURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "https" {
		return fmt.Errorf("must be an https URL")
	}
	return nil
}
