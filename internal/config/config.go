// ABOUTME: Configuration loading and parsing for coven-aichat
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty
const (
	DefaultReplyTimeout       = 30 * time.Minute
	DefaultRandomTalkProb     = 0.02
	DefaultRandomTalkMinutes  = 60 * 12
	DefaultRandomTalkMinLove  = 7
	DefaultRandomTalkTimeline = 30
	DefaultTimezone           = "Asia/Tokyo"
	DefaultReaction           = "👍"
	DefaultDatabasePath       = "./data/aichat.db"
	DefaultLoggingLevel       = "info"
)

// DefaultPrompt is the persona used when aichat.prompt is empty
const DefaultPrompt = "Reply rules: act as Ai, the cheerful mascot assistant of this Misskey server. " +
	"You are devoted to helping the people who visit, polite and warm, a little clumsy at times. " +
	"Keep a friendly tone without stiff formality. " +
	"Answer the next question in Markdown in at most 512 characters (short is fine). " +
	"When listing items, use \"・\" instead of list markup."

// Config represents the complete coven-aichat configuration
type Config struct {
	Misskey    MisskeyConfig    `yaml:"misskey" toml:"misskey"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	AIChat     AIChatConfig     `yaml:"aichat" toml:"aichat"`
	RandomTalk RandomTalkConfig `yaml:"random_talk" toml:"random_talk"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// MisskeyConfig holds the host instance connection
type MisskeyConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Token    string `yaml:"token" toml:"token"`
	Reaction string `yaml:"reaction" toml:"reaction"` // added to a note after a successful reply
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AIChatConfig holds conversation and provider settings
type AIChatConfig struct {
	// Keyword must appear in a mention for the bot to start a conversation.
	// Empty means every mention starts one.
	Keyword              string `yaml:"keyword" toml:"keyword"`
	Prompt               string `yaml:"prompt" toml:"prompt"`
	Timezone             string `yaml:"timezone" toml:"timezone"`
	AlwaysGroundMentions bool   `yaml:"always_ground_mentions" toml:"always_ground_mentions"`

	GeminiAPIKey  string `yaml:"gemini_api_key" toml:"gemini_api_key"`
	OpenAIAPIKey  string `yaml:"openai_api_key" toml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url" toml:"openai_base_url"`
	PLaMoAPIKey   string `yaml:"plamo_api_key" toml:"plamo_api_key"`

	ReplyTimeout    time.Duration `yaml:"-" toml:"-"`
	ReplyTimeoutRaw string        `yaml:"reply_timeout" toml:"reply_timeout"`
}

// RandomTalkConfig controls unsolicited replies on the local timeline
type RandomTalkConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Out-of-range values fall back to the defaults instead of failing the load.
	ProbabilityRaw     *float64 `yaml:"probability" toml:"probability"`
	IntervalMinutesRaw *int     `yaml:"interval_minutes" toml:"interval_minutes"`

	MinLove       int `yaml:"min_love" toml:"min_love"`
	TimelineLimit int `yaml:"timeline_limit" toml:"timeline_limit"`

	Probability float64       `yaml:"-" toml:"-"`
	Interval    time.Duration `yaml:"-" toml:"-"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills every empty field with its default
func (c *Config) applyDefaults() {
	if c.Misskey.Reaction == "" {
		c.Misskey.Reaction = DefaultReaction
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.AIChat.Timezone == "" {
		c.AIChat.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(c.AIChat.Prompt) == "" {
		c.AIChat.Prompt = DefaultPrompt
	}
	if c.AIChat.ReplyTimeout <= 0 {
		c.AIChat.ReplyTimeout = DefaultReplyTimeout
	}

	c.RandomTalk.Probability = parseProbability(c.RandomTalk.ProbabilityRaw)
	c.RandomTalk.Interval = parseIntervalMinutes(c.RandomTalk.IntervalMinutesRaw)
	if c.RandomTalk.MinLove <= 0 {
		c.RandomTalk.MinLove = DefaultRandomTalkMinLove
	}
	if c.RandomTalk.TimelineLimit <= 0 {
		c.RandomTalk.TimelineLimit = DefaultRandomTalkTimeline
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLoggingLevel
	}
}

// parseProbability returns the configured probability, or the default when
// the value is missing or outside [0,1].
func parseProbability(raw *float64) float64 {
	if raw == nil || math.IsNaN(*raw) || *raw < 0 || *raw > 1 {
		return DefaultRandomTalkProb
	}
	return *raw
}

// parseIntervalMinutes returns the configured interval, or the default when
// the value is missing or not positive.
func parseIntervalMinutes(raw *int) time.Duration {
	if raw == nil || *raw <= 0 {
		return DefaultRandomTalkMinutes * time.Minute
	}
	return time.Duration(*raw) * time.Minute
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Misskey.Host == "" {
		return fmt.Errorf("misskey.host is required")
	}
	u, err := url.Parse(c.Misskey.Host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("misskey.host must be an http(s) URL, got %q", c.Misskey.Host)
	}
	if c.Misskey.Token == "" {
		return fmt.Errorf("misskey.token is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if _, err := time.LoadLocation(c.AIChat.Timezone); err != nil {
		return fmt.Errorf("aichat.timezone %q: %w", c.AIChat.Timezone, err)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.AIChat.ReplyTimeoutRaw != "" {
		cfg.AIChat.ReplyTimeout, err = time.ParseDuration(cfg.AIChat.ReplyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing reply_timeout %q: %w", cfg.AIChat.ReplyTimeoutRaw, err)
		}
	}

	return nil
}

// ResolvePath picks the config file to load: an explicit path wins, then
// COVEN_AICHAT_CONFIG, then $XDG_CONFIG_HOME/coven/aichat.yaml.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("COVEN_AICHAT_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "aichat.yaml"
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "coven", "aichat.yaml")
}
