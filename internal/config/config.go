package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Store struct {
		Driver string `yaml:"driver"` // memory | postgres | sqlite
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Inventory struct {
		File string `yaml:"file"`
		TTL  string `yaml:"ttl"`
	} `yaml:"inventory"`
	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`
	Inference struct {
		Provider    string `yaml:"provider"` // heuristic | anthropic | openai | gemini | mock
		Model       string `yaml:"model"`
		BaseURL     string `yaml:"base_url"`
		Timeout     string `yaml:"timeout"`
		Concurrency int    `yaml:"concurrency"`
		APIKey      string `yaml:"-"`
	} `yaml:"inference"`
	Engine struct {
		NumericTolerance       float64 `yaml:"numeric_tolerance"`
		HistoryWindow          int     `yaml:"history_window"`
		RecentScores           int     `yaml:"recent_scores"`
		RecentQuizScores       int     `yaml:"recent_quiz_scores"`
		MaxActiveQuests        int     `yaml:"max_active_quests"`
		MaxNewQuests           int     `yaml:"max_new_quests"`
		MinWeaknessProbability float64 `yaml:"min_weakness_probability"`
		MasteryThreshold       float64 `yaml:"mastery_threshold"`
		RewardBonusMax         int     `yaml:"reward_bonus_max"`
		QuestTTL               string  `yaml:"quest_ttl"`
		RewardRetryInterval    string  `yaml:"reward_retry_interval"`
	} `yaml:"engine"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"log"`
}

// Default returns the configuration used when no file overrides a value.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Store.Driver = "memory"
	cfg.Redis.TTL = "10m"
	cfg.Inventory.TTL = "10m"
	cfg.RabbitMQ.Exchange = "currency-events"
	cfg.Inference.Provider = "heuristic"
	cfg.Inference.Timeout = "5s"
	cfg.Inference.Concurrency = 4
	cfg.Engine.NumericTolerance = 0.01
	cfg.Engine.HistoryWindow = 10
	cfg.Engine.RecentScores = 5
	cfg.Engine.RecentQuizScores = 3
	cfg.Engine.MaxActiveQuests = 3
	cfg.Engine.MaxNewQuests = 2
	cfg.Engine.MinWeaknessProbability = 0.5
	cfg.Engine.MasteryThreshold = 0.7
	cfg.Engine.QuestTTL = "168h"
	cfg.Engine.RewardRetryInterval = "30s"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load reads .env (if present) and the YAML config from path on top of Default.
// A missing config file is not an error; the defaults and environment apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.RabbitMQ.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	switch cfg.Inference.Provider {
	case "anthropic":
		cfg.Inference.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		cfg.Inference.APIKey = os.Getenv("OPENAI_API_KEY")
	case "gemini":
		cfg.Inference.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// StoreDSN returns the durable store DSN, falling back to the Postgres URL.
func (c Config) StoreDSN() string {
	if c.Store.DSN == "" && c.Store.Driver == "postgres" {
		return c.Postgres.URL
	}
	return c.Store.DSN
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
