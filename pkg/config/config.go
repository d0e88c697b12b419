package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type EmbedderConfig struct {
	Type      string `yaml:"type"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
}

type StoreConfig struct {
	Type        string `yaml:"type"`
	Dir         string `yaml:"dir"`
	URL         string `yaml:"url"`
	TablePrefix string `yaml:"table_prefix"`
	BatchSize   int    `yaml:"batch_size"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

type AnswerConfig struct {
	Mode   string `yaml:"mode"`
	Length string `yaml:"length"`
	// Evaluate is a pointer so an explicit false survives defaulting.
	Evaluate *bool `yaml:"evaluate"`
}

type ScraperConfig struct {
	MaxDepth       int      `yaml:"max_depth"`
	RateLimit      float64  `yaml:"rate_limit"`
	TimeoutSecs    int      `yaml:"timeout_secs"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
}

type LogConfig struct {
	Dir     string `yaml:"dir"`
	Verbose bool   `yaml:"verbose"`
}

type SessionConfig struct {
	SettleMS int `yaml:"settle_ms"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Store     StoreConfig     `yaml:"store"`
	Processor ProcessorConfig `yaml:"processor"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Answer    AnswerConfig    `yaml:"answer"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Log       LogConfig       `yaml:"log"`
	Session   SessionConfig   `yaml:"session"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/prepbot/config.yaml"),
			"/etc/prepbot/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

// Default returns the built-in configuration merged with the environment.
func Default() *Config {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "groq"
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}

	if config.Embedder.Type == "" {
		config.Embedder.Type = "hashing"
	}
	if config.Embedder.Dimension == 0 {
		config.Embedder.Dimension = 384
	}

	if config.Store.Type == "" {
		config.Store.Type = "local"
	}
	if config.Store.Dir == "" {
		config.Store.Dir = "db"
	}
	if config.Store.TablePrefix == "" {
		config.Store.TablePrefix = "prepbot_"
	}
	if config.Store.BatchSize == 0 {
		config.Store.BatchSize = 32
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 500
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 100
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 3
	}

	if config.Answer.Mode == "" {
		config.Answer.Mode = "default"
	}
	if config.Answer.Length == "" {
		config.Answer.Length = "medium"
	}
	if config.Answer.Evaluate == nil {
		on := true
		config.Answer.Evaluate = &on
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.TimeoutSecs == 0 {
		config.Scraper.TimeoutSecs = 30
	}

	if config.Log.Dir == "" {
		config.Log.Dir = "logs"
	}

	if config.Session.SettleMS == 0 {
		config.Session.SettleMS = 500
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("PREPBOT_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.LLM.Provider == "ollama" && config.LLM.BaseURL == "" {
			config.LLM.BaseURL = baseURL
		}
		if config.Embedder.Type == "ollama" && config.Embedder.BaseURL == "" {
			config.Embedder.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.URL = dbURL
	}
	if dir := os.Getenv("PREPBOT_LOG_DIR"); dir != "" {
		config.Log.Dir = dir
	}
}

func (c *Config) EvaluateAnswers() bool {
	return c.Answer.Evaluate == nil || *c.Answer.Evaluate
}

func (c *Config) ScraperTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSecs) * time.Second
}

func (c *Config) SettleDelay() time.Duration {
	if c.Session.SettleMS < 0 {
		return 0
	}
	return time.Duration(c.Session.SettleMS) * time.Millisecond
}
