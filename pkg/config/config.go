package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		ListenAddress       string        `yaml:"listen_address"`
		ConnectTimeout      time.Duration `yaml:"connect_timeout"` // accept-side keepalive period
		RestartDelay        time.Duration `yaml:"restart_delay"`
		StartupRestartDelay time.Duration `yaml:"startup_restart_delay"`
		MaxRestarts         int           `yaml:"max_restarts"`
		HighWaterMarkBytes  int64         `yaml:"high_water_mark_bytes"`
	} `yaml:"server"`

	Stream struct {
		Mode             string        `yaml:"mode"`              // performance | balanced | fidelity
		PreferredFPS     int           `yaml:"preferred_fps"`     // 0 = use mode preset
		PreferredQuality int           `yaml:"preferred_quality"` // percent; 0 = use mode preset
		CaptureTimeout   time.Duration `yaml:"capture_timeout"`
	} `yaml:"stream"`

	Audio struct {
		Enabled       bool          `yaml:"enabled"`
		Quality       float64       `yaml:"quality"`
		FlushInterval time.Duration `yaml:"flush_interval"`
		RingSamples   int           `yaml:"ring_samples"`
		BufferSamples int           `yaml:"buffer_samples"`
	} `yaml:"audio"`

	Controller struct {
		Interval                 time.Duration `yaml:"interval"`
		BackgroundInterval       time.Duration `yaml:"background_interval"`
		MemoryLimitMiB           float64       `yaml:"memory_limit_mib"`
		BackgroundMemoryLimitMiB float64       `yaml:"background_memory_limit_mib"`
	} `yaml:"controller"`

	Client struct {
		DialTimeout       time.Duration `yaml:"dial_timeout"`
		ReconnectAttempts int           `yaml:"reconnect_attempts"`
		BrowseTimeout     time.Duration `yaml:"browse_timeout"`
	} `yaml:"client"`

	Discovery struct {
		Enabled  bool   `yaml:"enabled"`
		Service  string `yaml:"service"`
		Domain   string `yaml:"domain"`
		Instance string `yaml:"instance"`
	} `yaml:"discovery"`

	Monitoring struct {
		StatusAddress     string `yaml:"status_address"`
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address must not be empty")
	}
	if c.Server.RestartDelay <= 0 {
		return fmt.Errorf("server.restart_delay must be > 0")
	}
	if c.Server.StartupRestartDelay <= 0 {
		return fmt.Errorf("server.startup_restart_delay must be > 0")
	}
	if c.Server.HighWaterMarkBytes <= 0 {
		return fmt.Errorf("server.high_water_mark_bytes must be > 0")
	}

	switch c.Stream.Mode {
	case "performance", "balanced", "fidelity":
	default:
		return fmt.Errorf("stream.mode must be one of performance, balanced, fidelity")
	}
	if c.Stream.PreferredFPS != 0 && (c.Stream.PreferredFPS < 10 || c.Stream.PreferredFPS > 45) {
		return fmt.Errorf("stream.preferred_fps must be 0 or within [10, 45]")
	}
	if c.Stream.PreferredQuality != 0 && (c.Stream.PreferredQuality < 20 || c.Stream.PreferredQuality > 80) {
		return fmt.Errorf("stream.preferred_quality must be 0 or within [20, 80]")
	}
	if c.Stream.CaptureTimeout <= 0 {
		return fmt.Errorf("stream.capture_timeout must be > 0")
	}

	if c.Audio.Quality < 0.10 || c.Audio.Quality > 1.00 {
		return fmt.Errorf("audio.quality must be within [0.10, 1.00]")
	}
	if c.Audio.FlushInterval <= 0 {
		return fmt.Errorf("audio.flush_interval must be > 0")
	}
	if c.Audio.RingSamples <= 0 {
		return fmt.Errorf("audio.ring_samples must be > 0")
	}
	if c.Audio.BufferSamples <= 0 || c.Audio.BufferSamples > c.Audio.RingSamples {
		return fmt.Errorf("audio.buffer_samples must be > 0 and <= audio.ring_samples")
	}

	if c.Controller.Interval <= 0 {
		return fmt.Errorf("controller.interval must be > 0")
	}
	if c.Controller.BackgroundInterval < c.Controller.Interval {
		return fmt.Errorf("controller.background_interval must be >= controller.interval")
	}
	if c.Controller.MemoryLimitMiB <= 0 {
		return fmt.Errorf("controller.memory_limit_mib must be > 0")
	}

	if c.Client.DialTimeout <= 0 {
		return fmt.Errorf("client.dial_timeout must be > 0")
	}
	if c.Client.ReconnectAttempts < 0 {
		return fmt.Errorf("client.reconnect_attempts must be >= 0")
	}

	if c.Discovery.Enabled {
		if c.Discovery.Service == "" || c.Discovery.Domain == "" || c.Discovery.Instance == "" {
			return fmt.Errorf("discovery.service, domain and instance must not be empty when discovery is enabled")
		}
	}

	if c.Monitoring.StatusAddress == "" {
		return fmt.Errorf("monitoring.status_address must not be empty")
	}
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file is not an error; defaults are used.
func Load(configPath string) (*Config, error) {
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

	cfg.Server.ListenAddress = ":8080"
	cfg.Server.ConnectTimeout = 2 * time.Second
	cfg.Server.RestartDelay = 5 * time.Second
	cfg.Server.StartupRestartDelay = 10 * time.Second
	cfg.Server.MaxRestarts = 5
	cfg.Server.HighWaterMarkBytes = 4 * 1024 * 1024

	cfg.Stream.Mode = "balanced"
	cfg.Stream.CaptureTimeout = 500 * time.Millisecond

	cfg.Audio.Enabled = true
	cfg.Audio.Quality = 0.8
	cfg.Audio.FlushInterval = 20 * time.Millisecond
	cfg.Audio.RingSamples = 8192
	cfg.Audio.BufferSamples = 1024

	cfg.Controller.Interval = 3 * time.Second
	cfg.Controller.BackgroundInterval = 10 * time.Second
	cfg.Controller.MemoryLimitMiB = 400
	cfg.Controller.BackgroundMemoryLimitMiB = 200

	cfg.Client.DialTimeout = 8 * time.Second
	cfg.Client.ReconnectAttempts = 3
	cfg.Client.BrowseTimeout = 2 * time.Second

	cfg.Discovery.Enabled = true
	cfg.Discovery.Service = "_macmirror._tcp"
	cfg.Discovery.Domain = "local."
	cfg.Discovery.Instance = "Mac Screen"

	cfg.Monitoring.StatusAddress = ":9090"
	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("MIRRORCAST_LISTEN_ADDRESS"); addr != "" {
		c.Server.ListenAddress = addr
	}
	if level := os.Getenv("MIRRORCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if os.Getenv("DISABLE_AUDIO") == "1" {
		c.Audio.Enabled = false
	}
}
