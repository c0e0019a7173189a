package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	SlimProto struct {
		Address        string        `yaml:"address"`
		AcceptRate     float64       `yaml:"accept_rate"`
		AcceptBurst    int           `yaml:"accept_burst"`
		ReadBufferSize int           `yaml:"read_buffer_size"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
	} `yaml:"slimproto"`

	Stream struct {
		Address        string        `yaml:"address"`
		Path           string        `yaml:"path"`
		AcceptRate     float64       `yaml:"accept_rate"`
		AcceptBurst    int           `yaml:"accept_burst"`
		ReadBufferSize int           `yaml:"read_buffer_size"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
	} `yaml:"stream"`

	API struct {
		Address         string        `yaml:"address"`
		StatusInterval  time.Duration `yaml:"status_interval"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"api"`

	Audio struct {
		Channels      int           `yaml:"channels"`
		BitsPerSample int           `yaml:"bits_per_sample"`
		BitsPerValue  int           `yaml:"bits_per_value"`
		SampleRate    int           `yaml:"sample_rate"`
		ToneFrequency float64       `yaml:"tone_frequency"`
		ChunkDuration time.Duration `yaml:"chunk_duration"`
	} `yaml:"audio"`

	Streamer struct {
		PingTick      time.Duration `yaml:"ping_tick"`
		PingEveryTick int           `yaml:"ping_every_tick"`
		DeferSleep    time.Duration `yaml:"defer_sleep"`
		DeferWindow   time.Duration `yaml:"defer_window"`
	} `yaml:"streamer"`

	Scheduler struct {
		ProduceBatch  int           `yaml:"produce_batch"`
		ProducerPause time.Duration `yaml:"producer_pause"`
		IdleSleep     time.Duration `yaml:"idle_sleep"`
	} `yaml:"scheduler"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// SlimProto listener
	if c.SlimProto.Address == "" {
		return fmt.Errorf("slimproto.address must not be empty")
	}
	if c.SlimProto.ReadBufferSize <= 0 {
		return fmt.Errorf("slimproto.read_buffer_size must be > 0")
	}
	if c.SlimProto.WriteTimeout <= 0 {
		return fmt.Errorf("slimproto.write_timeout must be > 0")
	}

	// Stream listener
	if c.Stream.Address == "" {
		return fmt.Errorf("stream.address must not be empty")
	}
	if c.Stream.Path == "" {
		return fmt.Errorf("stream.path must not be empty")
	}
	if c.Stream.ReadBufferSize <= 0 {
		return fmt.Errorf("stream.read_buffer_size must be > 0")
	}
	if c.Stream.WriteTimeout <= 0 {
		return fmt.Errorf("stream.write_timeout must be > 0")
	}

	// API
	if c.API.Address == "" {
		return fmt.Errorf("api.address must not be empty")
	}
	if c.API.StatusInterval <= 0 {
		return fmt.Errorf("api.status_interval must be > 0")
	}
	if c.API.ShutdownTimeout <= 0 {
		return fmt.Errorf("api.shutdown_timeout must be > 0")
	}

	// Audio
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}
	if c.Audio.BitsPerSample <= 0 || c.Audio.BitsPerSample%8 != 0 {
		return fmt.Errorf("audio.bits_per_sample must be a positive multiple of 8")
	}
	if c.Audio.BitsPerValue <= 0 || c.Audio.BitsPerValue > c.Audio.BitsPerSample {
		return fmt.Errorf("audio.bits_per_value must be in (0, bits_per_sample]")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}
	if c.Audio.ChunkDuration <= 0 {
		return fmt.Errorf("audio.chunk_duration must be > 0")
	}

	// Streamer
	if c.Streamer.PingTick <= 0 {
		return fmt.Errorf("streamer.ping_tick must be > 0")
	}
	if c.Streamer.PingEveryTick <= 0 {
		return fmt.Errorf("streamer.ping_every_tick must be > 0")
	}
	if c.Streamer.DeferSleep <= 0 {
		return fmt.Errorf("streamer.defer_sleep must be > 0")
	}
	if c.Streamer.DeferWindow < c.Streamer.DeferSleep {
		return fmt.Errorf("streamer.defer_window must be >= streamer.defer_sleep")
	}

	// Scheduler
	if c.Scheduler.ProduceBatch <= 0 {
		return fmt.Errorf("scheduler.produce_batch must be > 0")
	}
	if c.Scheduler.ProducerPause <= 0 {
		return fmt.Errorf("scheduler.producer_pause must be > 0")
	}
	if c.Scheduler.IdleSleep <= 0 {
		return fmt.Errorf("scheduler.idle_sleep must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.SlimProto.Address = ":3483"
	cfg.SlimProto.AcceptRate = 20
	cfg.SlimProto.AcceptBurst = 40
	cfg.SlimProto.ReadBufferSize = 4096
	cfg.SlimProto.WriteTimeout = 10 * time.Second

	cfg.Stream.Address = ":9001"
	cfg.Stream.Path = "/stream"
	cfg.Stream.AcceptRate = 20
	cfg.Stream.AcceptBurst = 40
	cfg.Stream.ReadBufferSize = 4096
	cfg.Stream.WriteTimeout = 10 * time.Second

	cfg.API.Address = ":8080"
	cfg.API.StatusInterval = 2 * time.Second
	cfg.API.ShutdownTimeout = 30 * time.Second

	cfg.Audio.Channels = 2
	cfg.Audio.BitsPerSample = 32
	cfg.Audio.BitsPerValue = 32
	cfg.Audio.SampleRate = 44100
	cfg.Audio.ToneFrequency = 440.0
	cfg.Audio.ChunkDuration = 100 * time.Millisecond

	cfg.Streamer.PingTick = 200 * time.Millisecond
	cfg.Streamer.PingEveryTick = 25
	cfg.Streamer.DeferSleep = 20 * time.Millisecond
	cfg.Streamer.DeferWindow = 100 * time.Millisecond

	cfg.Scheduler.ProduceBatch = 5
	cfg.Scheduler.ProducerPause = 50 * time.Millisecond
	cfg.Scheduler.IdleSleep = 50 * time.Millisecond

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "slimcast"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if addr := os.Getenv("SLIMCAST_SLIMPROTO_ADDRESS"); addr != "" {
		c.SlimProto.Address = addr
	}
	if addr := os.Getenv("SLIMCAST_STREAM_ADDRESS"); addr != "" {
		c.Stream.Address = addr
	}
	if addr := os.Getenv("SLIMCAST_API_ADDRESS"); addr != "" {
		c.API.Address = addr
	}
	if level := os.Getenv("SLIMCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("SLIMCAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
