package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

// GmailConfig holds the OAuth2 client used for every Gmail API sync account
type GmailConfig struct {
	ClientID       string  `mapstructure:"client_id"`
	ClientSecret   string  `mapstructure:"client_secret"`
	MaxResults     int64   `mapstructure:"max_results"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
}

// OllamaConfig holds the analysis and drafting model endpoint
type OllamaConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	AnalysisModel string        `mapstructure:"analysis_model"`
	DraftModel    string        `mapstructure:"draft_model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	DraftEnabled  bool          `mapstructure:"draft_enabled"`
}

// RetrievalConfig holds the policy document index. An empty DocumentsDir disables retrieval.
type RetrievalConfig struct {
	DocumentsDir   string `mapstructure:"documents_dir"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	TopK           int    `mapstructure:"top_k"`
	ChunkSize      int    `mapstructure:"chunk_size"`
	ChunkOverlap   int    `mapstructure:"chunk_overlap"`
}

// WorkerConfig holds pipeline worker configuration
type WorkerConfig struct {
	Count         int           `mapstructure:"count"`
	BackoffFloor  time.Duration `mapstructure:"backoff_floor"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	BackoffCeil   time.Duration `mapstructure:"backoff_ceiling"`
	ErrorDelay    time.Duration `mapstructure:"error_delay"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	SyncIntervalMinutes int  `mapstructure:"sync_interval_minutes"`
	ReapIntervalMinutes int  `mapstructure:"reap_interval_minutes"`
	AutoStart           bool `mapstructure:"auto_start"`
}

// RedisConfig holds the optional sync lease backend. An empty Addr disables the lease.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

// RulesConfig points at an optional rule set file overriding the embedded defaults
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig loads configuration from .env, environment variables and config file
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file loaded")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "data/emails.db")

	v.SetDefault("gmail.max_results", 10)
	v.SetDefault("gmail.requests_per_sec", 5)

	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.analysis_model", "llama3")
	v.SetDefault("ollama.draft_model", "gemma2:2b")
	v.SetDefault("ollama.timeout", "30s")
	v.SetDefault("ollama.draft_enabled", true)

	v.SetDefault("retrieval.embedding_model", "llama3")
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.chunk_size", 1000)
	v.SetDefault("retrieval.chunk_overlap", 200)

	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.backoff_floor", "2s")
	v.SetDefault("worker.backoff_factor", 1.5)
	v.SetDefault("worker.backoff_ceiling", "60s")
	v.SetDefault("worker.error_delay", "5s")
	v.SetDefault("worker.stale_after", "15m")

	v.SetDefault("scheduler.sync_interval_minutes", 1)
	v.SetDefault("scheduler.reap_interval_minutes", 5)
	v.SetDefault("scheduler.auto_start", true)

	v.SetDefault("redis.lease_ttl", "5m")

	v.SetDefault("log.level", "info")
}

func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.path", "DB_PATH")

	// Gmail
	v.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("gmail.max_results", "GMAIL_MAX_RESULTS")

	// Ollama
	v.BindEnv("ollama.base_url", "OLLAMA_BASE_URL")
	v.BindEnv("ollama.analysis_model", "OLLAMA_ANALYSIS_MODEL")
	v.BindEnv("ollama.draft_model", "OLLAMA_DRAFT_MODEL")
	v.BindEnv("ollama.draft_enabled", "OLLAMA_DRAFT_ENABLED")

	// Retrieval
	v.BindEnv("retrieval.documents_dir", "RETRIEVAL_DOCUMENTS_DIR")
	v.BindEnv("retrieval.embedding_model", "RETRIEVAL_EMBEDDING_MODEL")
	v.BindEnv("retrieval.top_k", "RETRIEVAL_TOP_K")

	// Worker
	v.BindEnv("worker.count", "WORKER_COUNT")
	v.BindEnv("worker.stale_after", "WORKER_STALE_AFTER")

	// Scheduler
	v.BindEnv("scheduler.sync_interval_minutes", "SCHEDULER_SYNC_INTERVAL_MINUTES")
	v.BindEnv("scheduler.reap_interval_minutes", "SCHEDULER_REAP_INTERVAL_MINUTES")

	// Redis
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	v.BindEnv("rules.path", "RULES_PATH")
	v.BindEnv("log.level", "LOG_LEVEL")
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	case "sqlite":
		// immediate transactions take the write lock at BEGIN so a claim never upgrades a read lock
		return c.Path + "?_busy_timeout=5000&_txlock=immediate"
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker count must be greater than 0")
	}
	if c.Worker.BackoffFloor <= 0 || c.Worker.BackoffCeil < c.Worker.BackoffFloor {
		return fmt.Errorf("worker backoff floor must be > 0 and not above the ceiling")
	}
	if c.Worker.BackoffFactor < 1 {
		return fmt.Errorf("worker backoff factor must be at least 1")
	}
	if c.Worker.StaleAfter <= 0 {
		return fmt.Errorf("worker stale_after must be greater than 0")
	}

	if c.Scheduler.SyncIntervalMinutes <= 0 || c.Scheduler.ReapIntervalMinutes <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than 0")
	}

	if c.Retrieval.DocumentsDir != "" {
		if c.Retrieval.TopK <= 0 || c.Retrieval.ChunkSize <= 0 {
			return fmt.Errorf("retrieval top_k and chunk_size must be greater than 0")
		}
		if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
			return fmt.Errorf("retrieval chunk_overlap must be in [0, chunk_size)")
		}
	}

	return nil
}
