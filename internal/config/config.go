// Package config loads engine configuration from defaults, environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPServerConfig represents HTTP server configuration
type HTTPServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       string        `yaml:"rate_limit" json:"rate_limit"` // ulule format, e.g. "100-M"
}

// MatchingConfig tunes the compatibility predicate and candidate selection.
type MatchingConfig struct {
	// DefaultTolerance is the relative amount tolerance applied when an item
	// sets none. "0" means exact-amount matching.
	DefaultTolerance string  `yaml:"default_tolerance" json:"default_tolerance"`
	ScoreEpsilon     float64 `yaml:"score_epsilon" json:"score_epsilon"`
	AmountWeight     float64 `yaml:"amount_weight" json:"amount_weight"`
	MethodWeight     float64 `yaml:"method_weight" json:"method_weight"`
	PriorityWeight   float64 `yaml:"priority_weight" json:"priority_weight"`
	// RiskPolicy maps a risk profile to the profiles it may match against.
	RiskPolicy     map[string][]string `yaml:"risk_policy" json:"risk_policy"`
	PendingTTL     time.Duration       `yaml:"pending_ttl" json:"pending_ttl"`
	SweepInterval  time.Duration       `yaml:"sweep_interval" json:"sweep_interval"`
	RequeueBump    int                 `yaml:"requeue_bump" json:"requeue_bump"`
	RequeueBumpCap int                 `yaml:"requeue_bump_cap" json:"requeue_bump_cap"`
}

// PipelineConfig tunes the enrichment steps.
type PipelineConfig struct {
	StepTimeout          time.Duration `yaml:"step_timeout" json:"step_timeout"`
	MaxRiskScore         int           `yaml:"max_risk_score" json:"max_risk_score"`
	LargeAmountThreshold string        `yaml:"large_amount_threshold" json:"large_amount_threshold"`
}

// CacheConfig selects the payment-method stats cache backend.
type CacheConfig struct {
	Backend  string        `yaml:"backend" json:"backend"` // memory, redis
	Address  string        `yaml:"address" json:"address"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend" json:"backend"` // memory, badger
	Path    string `yaml:"path" json:"path"`
}

// NotifierConfig configures event fan-out.
type NotifierConfig struct {
	Buffer        int      `yaml:"buffer" json:"buffer"`
	KafkaEnabled  bool     `yaml:"kafka_enabled" json:"kafka_enabled"`
	KafkaBrokers  []string `yaml:"kafka_brokers" json:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic" json:"kafka_topic"`
	WSEnabled     bool     `yaml:"ws_enabled" json:"ws_enabled"`
	WSReplayDepth int      `yaml:"ws_replay_depth" json:"ws_replay_depth"`
}

// Config represents the application configuration
type Config struct {
	LogLevel string           `yaml:"log_level" json:"log_level"`
	Server   HTTPServerConfig `yaml:"server" json:"server"`
	Matching MatchingConfig   `yaml:"matching" json:"matching"`
	Pipeline PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	Cache    CacheConfig      `yaml:"cache" json:"cache"`
	Store    StoreConfig      `yaml:"store" json:"store"`
	Notifier NotifierConfig   `yaml:"notifier" json:"notifier"`
}

// LoadConfig loads the application configuration
func LoadConfig() (*Config, error) {
	config := Default()

	// Load configuration from environment variables
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if port, err := strconv.Atoi(os.Getenv("SERVER_PORT")); err == nil {
		config.Server.Port = port
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if rl := os.Getenv("SERVER_RATE_LIMIT"); rl != "" {
		config.Server.RateLimit = rl
	}
	if tol := os.Getenv("MATCHING_DEFAULT_TOLERANCE"); tol != "" {
		config.Matching.DefaultTolerance = tol
	}
	if eps, err := strconv.ParseFloat(os.Getenv("MATCHING_SCORE_EPSILON"), 64); err == nil {
		config.Matching.ScoreEpsilon = eps
	}
	if ttl, err := time.ParseDuration(os.Getenv("MATCHING_PENDING_TTL")); err == nil {
		config.Matching.PendingTTL = ttl
	}
	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		config.Store.Backend = backend
	}
	if path := os.Getenv("STORE_PATH"); path != "" {
		config.Store.Path = path
	}
	if backend := os.Getenv("CACHE_BACKEND"); backend != "" {
		config.Cache.Backend = backend
	}
	if addr := os.Getenv("REDIS_ADDRESS"); addr != "" {
		config.Cache.Address = addr
	}
	if pwd := os.Getenv("REDIS_PASSWORD"); pwd != "" {
		config.Cache.Password = pwd
	}
	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		config.Cache.DB = db
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		config.Notifier.KafkaEnabled = true
		config.Notifier.KafkaBrokers = strings.Split(brokers, ",")
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		config.Notifier.KafkaTopic = topic
	}

	// Load configuration from file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/matchengine")

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use default and environment values
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		if viper.IsSet("log_level") {
			config.LogLevel = viper.GetString("log_level")
		}
		if viper.IsSet("server.port") {
			config.Server.Port = viper.GetInt("server.port")
		}
		if viper.IsSet("server.host") {
			config.Server.Host = viper.GetString("server.host")
		}
		if viper.IsSet("server.rate_limit") {
			config.Server.RateLimit = viper.GetString("server.rate_limit")
		}
		if viper.IsSet("matching.default_tolerance") {
			config.Matching.DefaultTolerance = viper.GetString("matching.default_tolerance")
		}
		if viper.IsSet("matching.score_epsilon") {
			config.Matching.ScoreEpsilon = viper.GetFloat64("matching.score_epsilon")
		}
		if viper.IsSet("matching.pending_ttl") {
			config.Matching.PendingTTL = viper.GetDuration("matching.pending_ttl")
		}
		if viper.IsSet("matching.risk_policy") {
			config.Matching.RiskPolicy = viper.GetStringMapStringSlice("matching.risk_policy")
		}
		if viper.IsSet("pipeline.max_risk_score") {
			config.Pipeline.MaxRiskScore = viper.GetInt("pipeline.max_risk_score")
		}
		if viper.IsSet("pipeline.large_amount_threshold") {
			config.Pipeline.LargeAmountThreshold = viper.GetString("pipeline.large_amount_threshold")
		}
		if viper.IsSet("store.backend") {
			config.Store.Backend = viper.GetString("store.backend")
		}
		if viper.IsSet("store.path") {
			config.Store.Path = viper.GetString("store.path")
		}
		if viper.IsSet("cache.backend") {
			config.Cache.Backend = viper.GetString("cache.backend")
		}
		if viper.IsSet("cache.address") {
			config.Cache.Address = viper.GetString("cache.address")
		}
		if viper.IsSet("notifier.kafka_brokers") {
			config.Notifier.KafkaEnabled = true
			config.Notifier.KafkaBrokers = viper.GetStringSlice("notifier.kafka_brokers")
		}
		if viper.IsSet("notifier.kafka_topic") {
			config.Notifier.KafkaTopic = viper.GetString("notifier.kafka_topic")
		}
		if viper.IsSet("notifier.ws_enabled") {
			config.Notifier.WSEnabled = viper.GetBool("notifier.ws_enabled")
		}
	}

	return config, nil
}

// Default returns the built-in configuration before any overrides.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: HTTPServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       "100-M",
		},
		Matching: MatchingConfig{
			DefaultTolerance: "0",
			ScoreEpsilon:     5.0,
			AmountWeight:     0.7,
			MethodWeight:     0.2,
			PriorityWeight:   0.1,
			RiskPolicy: map[string][]string{
				"low":    {"low", "medium"},
				"medium": {"low", "medium", "high"},
				"high":   {"medium", "high"},
			},
			PendingTTL:     24 * time.Hour,
			SweepInterval:  time.Minute,
			RequeueBump:    1,
			RequeueBumpCap: 10,
		},
		Pipeline: PipelineConfig{
			StepTimeout:          500 * time.Millisecond,
			MaxRiskScore:         80,
			LargeAmountThreshold: "10000",
		},
		Cache: CacheConfig{
			Backend: "memory",
			Address: "localhost:6379",
			TTL:     10 * time.Minute,
		},
		Store: StoreConfig{
			Backend: "memory",
			Path:    "/var/lib/matchengine/queue",
		},
		Notifier: NotifierConfig{
			Buffer:        1024,
			KafkaTopic:    "matchengine.events",
			WSEnabled:     true,
			WSReplayDepth: 256,
		},
	}
}
