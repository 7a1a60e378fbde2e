package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// Channel carries participation and quiz start messages between instances.
		Channel string `yaml:"channel"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
		// GracePeriod applies to quizzes stored without one.
		GracePeriod string `yaml:"gracePeriod"`
	} `yaml:"quiz"`
	Schedule struct {
		Delay               string `yaml:"delay"`
		Workers             int64  `yaml:"workers"`
		MaxFinalizeAttempts int    `yaml:"maxFinalizeAttempts"`
	} `yaml:"schedule"`
	Statistics struct {
		// Sink is one of memory, postgres or kafka.
		Sink string `yaml:"sink"`
	} `yaml:"statistics"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Websocket struct {
		// MessagesPerSecond bounds inbound submissions per connection.
		MessagesPerSecond float64 `yaml:"messagesPerSecond"`
		Burst             int     `yaml:"burst"`
	} `yaml:"websocket"`
}

// Load reads YAML config from path and fills in defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns the configuration used when no file values are set.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Redis.Channel == "" {
		c.Redis.Channel = "quiz_delivery"
	}
	if c.Schedule.Workers <= 0 {
		c.Schedule.Workers = 8
	}
	if c.Schedule.MaxFinalizeAttempts <= 0 {
		c.Schedule.MaxFinalizeAttempts = 3
	}
	if c.Statistics.Sink == "" {
		c.Statistics.Sink = "memory"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "quiz-statistics"
	}
	if c.Websocket.MessagesPerSecond <= 0 {
		c.Websocket.MessagesPerSecond = 10
	}
	if c.Websocket.Burst <= 0 {
		c.Websocket.Burst = 20
	}
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
