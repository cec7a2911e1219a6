package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Relay      RelayConfig      `yaml:"relay"`
	Storage    StorageConfig    `yaml:"storage"`
	AI         AIConfig         `yaml:"ai"`
	LocalModel LocalModelConfig `yaml:"local_model"`
	YouTube    YouTubeConfig    `yaml:"youtube"`
	Page       PageConfig       `yaml:"page"`
	Panel      PanelConfig      `yaml:"panel"`
	Retention  RetentionConfig  `yaml:"retention"`
	LogLevel   string           `yaml:"log_level"`
}

type RelayConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// BaseURL is where the page, panel and display agents reach the relay.
	BaseURL string `yaml:"base_url" env:"DLEVEL_RELAY_URL"`
}

type StorageConfig struct {
	Backend    string       `yaml:"backend"` // file, sqlite or valkey
	DataDir    string       `yaml:"data_dir"`
	SQLitePath string       `yaml:"sqlite_path"`
	Valkey     ValkeyConfig `yaml:"valkey"`
}

type ValkeyConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password" env:"VALKEY_PASSWORD"`
	TLS      bool   `yaml:"tls"`
	Prefix   string `yaml:"prefix"`
}

type AIConfig struct {
	// GeminiAPIKey seeds the stored credential when none is present.
	GeminiAPIKey      string `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	Model             string `yaml:"model"`
	BaseURL           string `yaml:"base_url"`
	ThinkingBudget    int32  `yaml:"thinking_budget"`
	PromptFile        string `yaml:"prompt_file"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

type LocalModelConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"api_key" env:"LOCAL_MODEL_API_KEY"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

type YouTubeConfig struct {
	TitleSource string `yaml:"title_source"` // oembed or data_api
	OEmbedURL   string `yaml:"oembed_url"`
	DataAPIKey  string `yaml:"data_api_key" env:"YOUTUBE_API_KEY"`
}

type PageConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	DispatchDelay time.Duration `yaml:"dispatch_delay"`
}

type PanelConfig struct {
	ClearFreshness       time.Duration `yaml:"clear_freshness"`
	DownloadPollInterval time.Duration `yaml:"download_poll_interval"`
}

type RetentionConfig struct {
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"` // 0 keeps records forever
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(configFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	case os.IsNotExist(err) && os.Getenv("CONFIG_FILE") == "":
		// Defaults only.
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if c.AI.GeminiAPIKey == "" {
		c.AI.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.YouTube.DataAPIKey == "" {
		c.YouTube.DataAPIKey = os.Getenv("YOUTUBE_API_KEY")
	}
	if c.Storage.Valkey.Password == "" {
		c.Storage.Valkey.Password = os.Getenv("VALKEY_PASSWORD")
	}
	if c.LocalModel.APIKey == "" {
		c.LocalModel.APIKey = os.Getenv("LOCAL_MODEL_API_KEY")
	}
	if url := os.Getenv("DLEVEL_RELAY_URL"); url != "" {
		c.Relay.BaseURL = url
	}
}

func (c *Config) applyDefaults() {
	if c.Relay.ListenAddr == "" {
		c.Relay.ListenAddr = ":8787"
	}
	if c.Relay.BaseURL == "" {
		c.Relay.BaseURL = "http://localhost:8787"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = c.Storage.DataDir + "/dlevel.db"
	}
	if c.Storage.Valkey.Address == "" {
		c.Storage.Valkey.Address = "localhost:6379"
	}
	if c.Storage.Valkey.Prefix == "" {
		c.Storage.Valkey.Prefix = "dlevel"
	}

	if c.AI.Model == "" {
		c.AI.Model = "gemini-2.5-pro"
	}
	if c.AI.ThinkingBudget == 0 {
		c.AI.ThinkingBudget = 32768
	}

	if c.LocalModel.BaseURL == "" {
		c.LocalModel.BaseURL = "http://localhost:11434/v1"
	}
	if c.LocalModel.Model == "" {
		c.LocalModel.Model = "gemma3:1b"
	}
	if c.LocalModel.APIKey == "" {
		c.LocalModel.APIKey = "ollama"
	}
	if c.LocalModel.ProbeTimeout == 0 {
		c.LocalModel.ProbeTimeout = 5 * time.Second
	}

	if c.YouTube.TitleSource == "" {
		c.YouTube.TitleSource = "oembed"
	}
	if c.YouTube.OEmbedURL == "" {
		c.YouTube.OEmbedURL = "https://www.youtube.com/oembed"
	}

	if c.Page.PollInterval == 0 {
		c.Page.PollInterval = 500 * time.Millisecond
	}
	if c.Page.DispatchDelay == 0 {
		c.Page.DispatchDelay = 150 * time.Millisecond
	}

	if c.Panel.ClearFreshness == 0 {
		c.Panel.ClearFreshness = 5 * time.Second
	}
	if c.Panel.DownloadPollInterval == 0 {
		c.Panel.DownloadPollInterval = 2 * time.Second
	}

	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "0 0 3 * * *" // Daily at 3 AM
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "file", "sqlite", "valkey":
	default:
		return fmt.Errorf("unknown storage backend %q (want file, sqlite or valkey)", c.Storage.Backend)
	}
	switch c.YouTube.TitleSource {
	case "oembed":
	case "data_api":
		if c.YouTube.DataAPIKey == "" {
			return fmt.Errorf("YouTube Data API key is required for title_source data_api (set YOUTUBE_API_KEY or youtube.data_api_key)")
		}
	default:
		return fmt.Errorf("unknown youtube title_source %q (want oembed or data_api)", c.YouTube.TitleSource)
	}
	if c.AI.RequestsPerMinute < 0 {
		return fmt.Errorf("ai.requests_per_minute must not be negative")
	}
	if c.Retention.MaxAge < 0 {
		return fmt.Errorf("retention.max_age must not be negative")
	}
	return nil
}
