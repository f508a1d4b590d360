// Package config loads the session configuration document a bot instance is
// launched with. The document is the opaque JSON payload handed over by the
// launch flow; credentials may additionally be overridden from the
// environment so they never have to live in the document itself.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Storage backends selectable in the session document.
const (
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config contains all runtime settings for one bot session.
type Config struct {
	// Identity
	BotName          string `json:"botName"`
	TwitchUsername   string `json:"botTwitchUserName"`
	TwitchOAuthToken string `json:"botTwitchOAuthToken"`
	Channel          string `json:"twitchChannel"`

	// Completion service
	OpenAIAPIKey     string `json:"openaiAPIKey"`
	AssistantID      string `json:"openaiAssistantID"`
	PreviousThreadID string `json:"openaiPreviousThreadID"`

	// Session keys used when reporting status back to the launch flow.
	UserKey string `json:"userKey"`
	BotKey  string `json:"id"`

	StartMessage   string       `json:"startMessageToBot"`
	EntryLines     WeightedList `json:"entryLineList"`
	ExitLines      WeightedList `json:"exitLineList"`
	ReplyOdds      WeightedList `json:"replyOddsList"`
	DismissCommand string       `json:"dismissCommand"`

	// Memory store
	StorageBackend string `json:"storageBackend"`
	S3Bucket       string `json:"s3Bucket"`
	S3Region       string `json:"s3Region"`
	PostgresDSN    string `json:"postgresDSN"`
	MemoryStoreKey string `json:"memoryStoreKey"`

	StatusUpdateURL string `json:"statusUpdateURL"`
	MetricsAddr     string `json:"metricsAddr"`

	// Scheduler cadence, all expressed in seconds in the document.
	PollIntervalSeconds    int `json:"pollIntervalSeconds"`
	FlushIntervalSeconds   int `json:"flushIntervalSeconds"`
	LullIntervalSeconds    int `json:"lullIntervalSeconds"`
	TimeoutIntervalSeconds int `json:"timeoutIntervalSeconds"`
	FanOutDelayMillis      int `json:"fanOutDelayMillis"`
}

// Load reads and validates a session document from disk, applying defaults
// and environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a session document from raw JSON bytes.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = 10
	}
	if c.FlushIntervalSeconds == 0 {
		c.FlushIntervalSeconds = 300
	}
	if c.LullIntervalSeconds == 0 {
		c.LullIntervalSeconds = 480
	}
	if c.TimeoutIntervalSeconds == 0 {
		c.TimeoutIntervalSeconds = 540
	}
	if c.FanOutDelayMillis == 0 {
		c.FanOutDelayMillis = 200
	}
	if len(c.ReplyOdds) == 0 {
		c.ReplyOdds = WeightedList{
			{Text: "true", Weight: 50},
			{Text: "false", Weight: 50},
		}
	}
	if c.StorageBackend == "" {
		c.StorageBackend = BackendS3
	}
	if c.MemoryStoreKey == "" {
		c.MemoryStoreKey = "user_memories.json"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":8080"
	}
	if c.DismissCommand == "" {
		c.DismissCommand = "dismiss"
	}
}

func (c *Config) applyEnv() {
	c.TwitchOAuthToken = envOrDefault("TWITCH_OAUTH_TOKEN", c.TwitchOAuthToken)
	c.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.PostgresDSN = envOrDefault("DATABASE_URL", c.PostgresDSN)
	c.StatusUpdateURL = envOrDefault("STATUS_UPDATE_BASE_URL", c.StatusUpdateURL)
}

// Validate checks required fields and the interval ordering the scheduler
// depends on (flush < lull <= timeout).
func (c *Config) Validate() error {
	switch {
	case c.BotName == "":
		return fmt.Errorf("config: botName is required")
	case c.TwitchUsername == "":
		return fmt.Errorf("config: botTwitchUserName is required")
	case c.TwitchOAuthToken == "":
		return fmt.Errorf("config: botTwitchOAuthToken is required")
	case c.Channel == "":
		return fmt.Errorf("config: twitchChannel is required")
	case c.OpenAIAPIKey == "":
		return fmt.Errorf("config: openaiAPIKey is required")
	case c.AssistantID == "":
		return fmt.Errorf("config: openaiAssistantID is required")
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("config: pollIntervalSeconds must be positive")
	}
	if c.LullIntervalSeconds <= c.FlushIntervalSeconds {
		return fmt.Errorf("config: lullIntervalSeconds (%d) must be greater than flushIntervalSeconds (%d)",
			c.LullIntervalSeconds, c.FlushIntervalSeconds)
	}
	if c.TimeoutIntervalSeconds < c.LullIntervalSeconds {
		return fmt.Errorf("config: timeoutIntervalSeconds (%d) must not be less than lullIntervalSeconds (%d)",
			c.TimeoutIntervalSeconds, c.LullIntervalSeconds)
	}
	switch c.StorageBackend {
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("config: s3Bucket is required for the s3 backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: postgresDSN is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.StorageBackend)
	}
	return nil
}

// PollInterval returns the scheduler tick cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// FlushInterval returns the minimum time between batch flushes.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// LullInterval returns the quiet period after which the bot speaks unprompted.
func (c *Config) LullInterval() time.Duration {
	return time.Duration(c.LullIntervalSeconds) * time.Second
}

// TimeoutInterval returns the inactivity period after which the session ends.
func (c *Config) TimeoutInterval() time.Duration {
	return time.Duration(c.TimeoutIntervalSeconds) * time.Second
}

// FanOutDelay returns the pause between consecutive outbound messages when a
// single reply is split into several chat lines.
func (c *Config) FanOutDelay() time.Duration {
	return time.Duration(c.FanOutDelayMillis) * time.Millisecond
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
