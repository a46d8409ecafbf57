package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Story    StoryConfig    `yaml:"story"`
	Queue    QueueConfig    `yaml:"queue"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	MySQL  MySQLConfig  `yaml:"mysql"`
	Redis  RedisConfig  `yaml:"redis"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

type MySQLConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	PoolSize   int           `yaml:"pool_size"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type QdrantConfig struct {
	Enabled    bool   `yaml:"enabled"` // false keeps stories in process memory
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"` // gRPC port
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
}

type AIConfig struct {
	Provider  string          `yaml:"provider"` // "openai" or "ollama"
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	ComfyUI   ComfyUIConfig   `yaml:"comfyui"`
	SoVITS    SoVITSConfig    `yaml:"sovits"`
}

type OpenAIConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	SummaryModel string        `yaml:"summary_model"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

type OllamaConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type EmbeddingConfig struct {
	Provider string        `yaml:"provider"` // "openai" or "ollama"
	Model    string        `yaml:"model"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type ComfyUIConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BaseURL    string        `yaml:"base_url"`
	Checkpoint string        `yaml:"checkpoint"`
	Timeout    time.Duration `yaml:"timeout"`
}

type SoVITSConfig struct {
	Enabled  bool          `yaml:"enabled"`
	BaseURL  string        `yaml:"base_url"`
	VoiceDir string        `yaml:"voice_dir"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// StoryConfig tunes the segment loop and the story store.
type StoryConfig struct {
	WordsPerMinute   int           `yaml:"words_per_minute"`
	SegmentMaxTokens int           `yaml:"segment_max_tokens"`
	SummaryMaxTokens int           `yaml:"summary_max_tokens"`
	MaxTurns         int           `yaml:"max_turns"`
	ConcludeRatio    float64       `yaml:"conclude_ratio"`
	ListTopK         int           `yaml:"list_top_k"`
	Retention        time.Duration `yaml:"retention"`
}

type QueueConfig struct {
	MaxWorkers   int `yaml:"max_workers"`
	MaxQueueSize int `yaml:"max_queue_size"`
}

type CacheConfig struct {
	Dir        string        `yaml:"dir"`
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// envOverrides lists the environment variables that win over the file.
type envOverrides struct {
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL"`
	QdrantAPIKey   string `envconfig:"QDRANT_API_KEY"`
	WordsPerMinute int    `envconfig:"WORDS_PER_MINUTE"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	MySQLPassword  string `envconfig:"MYSQL_PASSWORD"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Database: DatabaseConfig{
			MySQL: MySQLConfig{
				Host:            "localhost",
				Port:            3306,
				Database:        "bedtime_stories",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
			Redis: RedisConfig{
				Host:       "localhost",
				Port:       6379,
				PoolSize:   10,
				SessionTTL: 24 * time.Hour,
			},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "bedtime_stories",
				VectorSize: 1536,
			},
		},
		AI: AIConfig{
			Provider: "openai",
			OpenAI: OpenAIConfig{
				BaseURL:      "https://api.openai.com/v1",
				Model:        "gpt-4",
				SummaryModel: "gpt-3.5-turbo",
				Temperature:  0.7,
				Timeout:      120 * time.Second,
			},
			Ollama: OllamaConfig{
				BaseURL: "http://localhost:11434",
				Model:   "llama3",
				Timeout: 120 * time.Second,
			},
			Embedding: EmbeddingConfig{
				Provider: "openai",
				Model:    "text-embedding-ada-002",
				CacheTTL: 24 * time.Hour,
			},
			ComfyUI: ComfyUIConfig{
				BaseURL:    "http://localhost:8188",
				Checkpoint: "sd_xl_base_1.0.safetensors",
				Timeout:    300 * time.Second,
			},
			SoVITS: SoVITSConfig{
				BaseURL:  "http://localhost:9880",
				VoiceDir: "./input_audio",
				Language: "en",
				Timeout:  60 * time.Second,
			},
		},
		Story: StoryConfig{
			WordsPerMinute:   100,
			SegmentMaxTokens: 300,
			SummaryMaxTokens: 150,
			MaxTurns:         50,
			ConcludeRatio:    0.8,
			ListTopK:         10,
			Retention:        30 * time.Minute,
		},
		Queue: QueueConfig{
			MaxWorkers:   2,
			MaxQueueSize: 100,
		},
		Cache: CacheConfig{
			Dir:        "./data",
			MaxEntries: 1000,
			TTL:        24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file on top of Default, then applies
// .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults and the environment only.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	if env.OpenAIAPIKey != "" {
		cfg.AI.OpenAI.APIKey = env.OpenAIAPIKey
	}
	if env.OpenAIBaseURL != "" {
		cfg.AI.OpenAI.BaseURL = env.OpenAIBaseURL
	}
	if env.QdrantAPIKey != "" {
		cfg.Database.Qdrant.APIKey = env.QdrantAPIKey
	}
	if env.WordsPerMinute > 0 {
		cfg.Story.WordsPerMinute = env.WordsPerMinute
	}
	if env.RedisPassword != "" {
		cfg.Database.Redis.Password = env.RedisPassword
	}
	if env.MySQLPassword != "" {
		cfg.Database.MySQL.Password = env.MySQLPassword
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	return nil
}
