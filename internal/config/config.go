package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Lightfield  LightfieldConfig  `yaml:"lightfield"`
	Truefoundry TruefoundryConfig `yaml:"truefoundry"`
	Bandit      BanditConfig      `yaml:"bandit"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds read-API server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// KafkaConfig holds event-log broker and topic settings
type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	TopicLeadsRaw    string   `yaml:"topic_leads_raw"`
	TopicLeadsScored string   `yaml:"topic_leads_scored"`
	TopicOutreach    string   `yaml:"topic_outreach_events"`
	ClientID         string   `yaml:"client_id"`
}

// DatabaseConfig selects the relational backend.
// Driver "postgres" uses a pooled shared server; "sqlite3" uses an
// embedded single-file store with a single writer.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	URL             string `yaml:"url"`
	Path            string `yaml:"path"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig holds the processed-event ledger settings
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	LedgerTTLDays int    `yaml:"ledger_ttl_days"`
}

// OpenAIConfig holds the scoring model settings
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// LightfieldConfig holds the outbound delivery provider settings
type LightfieldConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	FromName       string `yaml:"from_name"`
	Simulate       bool   `yaml:"simulate"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// TruefoundryConfig holds the optional remote personalization agent settings
type TruefoundryConfig struct {
	APIKey         string `yaml:"api_key"`
	Workspace      string `yaml:"workspace"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// BanditConfig holds Thompson Sampling settings.
// ConversionWindowHours controls the beta-prior aging pass: outreach sent
// more than this many hours ago without a conversion counts as a failure.
// Zero disables the pass, reproducing alpha-only updates.
type BanditConfig struct {
	ConversionWindowHours int `yaml:"conversion_window_hours"`
}

// LoggingConfig holds log level and redaction settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.TopicLeadsRaw == "" {
		cfg.Kafka.TopicLeadsRaw = "leads.raw"
	}
	if cfg.Kafka.TopicLeadsScored == "" {
		cfg.Kafka.TopicLeadsScored = "leads.scored"
	}
	if cfg.Kafka.TopicOutreach == "" {
		cfg.Kafka.TopicOutreach = "outreach.events"
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "pipeline-whisperer"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./pipeline.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Redis.LedgerTTLDays == 0 {
		cfg.Redis.LedgerTTLDays = 30
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.OpenAI.TimeoutSeconds == 0 {
		cfg.OpenAI.TimeoutSeconds = 30
	}
	if cfg.Lightfield.BaseURL == "" {
		cfg.Lightfield.BaseURL = "https://api.lightfield.ai/v1"
	}
	if cfg.Lightfield.FromName == "" {
		cfg.Lightfield.FromName = "Pipeline Whisperer"
	}
	if cfg.Lightfield.TimeoutSeconds == 0 {
		cfg.Lightfield.TimeoutSeconds = 30
	}
	if cfg.Truefoundry.BaseURL == "" {
		cfg.Truefoundry.BaseURL = "https://api.truefoundry.com"
	}
	if cfg.Truefoundry.TimeoutSeconds == 0 {
		cfg.Truefoundry.TimeoutSeconds = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
}

// LoadFromEnv loads configuration from a YAML file with environment
// variable overrides. A .env file in the working directory is loaded
// first if present.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	var cfg *Config
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &Config{}
		cfg.applyDefaults()
	}

	// Override with environment variables if present
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
		cfg.Database.Driver = "postgres"
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.OpenAI.APIKey = apiKey
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.OpenAI.Model = model
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.OpenAI.BaseURL = baseURL
	}
	if apiKey := os.Getenv("LIGHTFIELD_API_KEY"); apiKey != "" {
		cfg.Lightfield.APIKey = apiKey
	}
	if baseURL := os.Getenv("LIGHTFIELD_BASE_URL"); baseURL != "" {
		cfg.Lightfield.BaseURL = baseURL
	}
	if sim := os.Getenv("SIMULATE_LIGHTFIELD"); sim != "" {
		cfg.Lightfield.Simulate = strings.EqualFold(sim, "true")
	}
	if apiKey := os.Getenv("TRUEFOUNDRY_API_KEY"); apiKey != "" {
		cfg.Truefoundry.APIKey = apiKey
	}
	if ws := os.Getenv("TRUEFOUNDRY_WORKSPACE"); ws != "" {
		cfg.Truefoundry.Workspace = ws
	}
	if v := os.Getenv("CONVERSION_WINDOW_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			cfg.Bandit.ConversionWindowHours = hours
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}
