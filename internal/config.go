package internal

import (
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Remote  RemoteConfig      `yaml:"remote"`
	Apply   ApplyConfig       `yaml:"apply"`
	Journal JournalConfig     `yaml:"journal"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Remote.Validate(); err != nil {
		return err
	}
	if err := c.Apply.Validate(); err != nil {
		return err
	}
	return c.Journal.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// RemoteConfig holds the connection to the modeling service.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required),
	)
}

// ApplyConfig holds chunking and polling parameters.
type ApplyConfig struct {
	// ChunkSize is the reliable batch size; the service degrades above it.
	ChunkSize    int           `yaml:"chunk_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ChunkTimeout time.Duration `yaml:"chunk_timeout"`
}

// Validate validates the apply configuration.
func (c *ApplyConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ChunkSize, validation.Required, validation.Min(1), validation.Max(500)),
		validation.Field(&c.PollInterval, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.ChunkTimeout, validation.Required, validation.Min(time.Second)),
	)
}

// JournalConfig holds the apply-journal database location.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the journal configuration.
func (c *JournalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Apply: ApplyConfig{
			ChunkSize:    20,
			PollInterval: 500 * time.Millisecond,
			ChunkTimeout: 2 * time.Minute,
		},
		Journal: JournalConfig{
			Path: "./raido.db",
		},
	}
}
