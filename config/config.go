package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Search     SearchConfig     `mapstructure:"search"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Capability CapabilityConfig `mapstructure:"capability"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address          string `mapstructure:"address"`
	SchedulerEnabled bool   `mapstructure:"scheduler_enabled"`
}

// LLMConfig contains LLM provider configurations.
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration.
type LLMProvider struct {
	Type           string              `mapstructure:"type"` // openai, anthropic
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Models         map[string]LLMModel `mapstructure:"models"`
	EmbeddingModel string              `mapstructure:"embedding_model"`
	MaxRetries     int                 `mapstructure:"max_retries"`
	Timeout        time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration.
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for different tasks.
type LLMRoutingConfig struct {
	Classification string `mapstructure:"classification"` // intent classification
	Selection      string `mapstructure:"selection"`      // capability selection
	Rephrase       string `mapstructure:"rephrase"`       // query rephrasing
	Generation     string `mapstructure:"generation"`     // answer generation
	Fallback       string `mapstructure:"fallback"`
}

// SearchConfig contains web search provider settings.
type SearchConfig struct {
	Provider     string        `mapstructure:"provider"` // serper, brave
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Fetcher      string        `mapstructure:"fetcher"` // readability, chromedp
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	FetchMax     int           `mapstructure:"fetch_max_chars"`
}

// RetrievalConfig tunes the rerank pipeline.
type RetrievalConfig struct {
	Mode                string  `mapstructure:"mode"` // speed, balanced, quality
	MultiQuery          bool    `mapstructure:"multi_query"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MaxContextDocs      int     `mapstructure:"max_context_docs"`
	MaxLocalChunks      int     `mapstructure:"max_local_chunks"`
	SessionTTLHours     int     `mapstructure:"session_ttl_hours"`
}

// CapabilityConfig controls the capability registry.
type CapabilityConfig struct {
	Required []string `mapstructure:"required"`
}

// StorageConfig contains storage backend settings.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

func (r RetrievalConfig) Validate() error {
	switch r.Mode {
	case "", "speed", "balanced", "quality":
	default:
		return fmt.Errorf("retrieval.mode must be speed, balanced or quality")
	}
	if r.SimilarityThreshold < 0 || r.SimilarityThreshold >= 1 {
		return fmt.Errorf("retrieval.similarity_threshold must be in [0,1)")
	}
	return nil
}

// LoadConfig loads config from file, with COUNSELGRAPH_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.default_timeout", 30*time.Second)
	viper.SetDefault("server.address", ":10801")
	viper.SetDefault("server.scheduler_enabled", true)
	viper.SetDefault("search.provider", "serper")
	viper.SetDefault("search.max_results", 10)
	viper.SetDefault("search.fetcher", "readability")
	viper.SetDefault("search.fetch_timeout", 15*time.Second)
	viper.SetDefault("search.fetch_max_chars", 20000)
	viper.SetDefault("retrieval.mode", "balanced")
	viper.SetDefault("retrieval.similarity_threshold", 0.3)
	viper.SetDefault("retrieval.max_context_docs", 15)
	viper.SetDefault("retrieval.max_local_chunks", 8)
	viper.SetDefault("retrieval.session_ttl_hours", 48)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("COUNSELGRAPH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	if err := config.Retrieval.Validate(); err != nil {
		panic(err)
	}
	return &config
}
