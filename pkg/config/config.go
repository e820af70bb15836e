package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		MaxMessageSize int64         `yaml:"max_message_size"`
	} `yaml:"signal"`

	Engine struct {
		InitialWorkers int           `yaml:"initial_workers"`
		MaxWorkers     int           `yaml:"max_workers"`
		AutoScale      bool          `yaml:"auto_scale"`
		ScaleThreshold float64       `yaml:"scale_threshold"`
		BasePort       uint16        `yaml:"base_port"`
		PortsPerWorker uint16        `yaml:"ports_per_worker"`
		RoomsPerWorker int           `yaml:"rooms_per_worker"`
		CallTimeout    time.Duration `yaml:"call_timeout"`
		ICEServers     []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"engine"`

	Rooms struct {
		MaxParticipants     int           `yaml:"max_participants"`
		InactivityThreshold time.Duration `yaml:"inactivity_threshold"`
		SweepInterval       time.Duration `yaml:"sweep_interval"`
	} `yaml:"rooms"`

	Gate struct {
		ConnectionsPerIP   int           `yaml:"connections_per_ip"`
		ConnectionsPerUser int           `yaml:"connections_per_user"`
		MessagesPerUser    int           `yaml:"messages_per_user"`
		Window             time.Duration `yaml:"window"`
	} `yaml:"gate"`

	ViewerCount struct {
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"viewer_count"`

	Tips struct {
		MaxAmount int64 `yaml:"max_amount"`
	} `yaml:"tips"`

	Chat struct {
		MaxMessageLength int `yaml:"max_message_length"`
	} `yaml:"chat"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
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

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.MaxMessageSize <= 0 {
		return fmt.Errorf("signal.max_message_size must be > 0")
	}

	if c.Engine.InitialWorkers <= 0 {
		return fmt.Errorf("engine.initial_workers must be > 0")
	}
	if c.Engine.MaxWorkers < c.Engine.InitialWorkers {
		return fmt.Errorf("engine.max_workers must be >= engine.initial_workers")
	}
	if c.Engine.ScaleThreshold <= 0 || c.Engine.ScaleThreshold > 1 {
		return fmt.Errorf("engine.scale_threshold must be in (0, 1]")
	}
	if c.Engine.BasePort == 0 {
		return fmt.Errorf("engine.base_port must be > 0")
	}
	if c.Engine.PortsPerWorker == 0 {
		return fmt.Errorf("engine.ports_per_worker must be > 0")
	}
	if int(c.Engine.BasePort)+c.Engine.MaxWorkers*int(c.Engine.PortsPerWorker) > 65535 {
		return fmt.Errorf("engine port ranges exceed 65535: lower base_port, ports_per_worker or max_workers")
	}
	if c.Engine.RoomsPerWorker <= 0 {
		return fmt.Errorf("engine.rooms_per_worker must be > 0")
	}
	if c.Engine.CallTimeout <= 0 {
		return fmt.Errorf("engine.call_timeout must be > 0")
	}

	if c.Rooms.MaxParticipants <= 0 {
		return fmt.Errorf("rooms.max_participants must be > 0")
	}
	if c.Rooms.InactivityThreshold <= 0 {
		return fmt.Errorf("rooms.inactivity_threshold must be > 0")
	}
	if c.Rooms.SweepInterval <= 0 {
		return fmt.Errorf("rooms.sweep_interval must be > 0")
	}

	if c.Gate.ConnectionsPerIP <= 0 {
		return fmt.Errorf("gate.connections_per_ip must be > 0")
	}
	if c.Gate.ConnectionsPerUser <= 0 {
		return fmt.Errorf("gate.connections_per_user must be > 0")
	}
	if c.Gate.MessagesPerUser <= 0 {
		return fmt.Errorf("gate.messages_per_user must be > 0")
	}
	if c.Gate.Window <= 0 {
		return fmt.Errorf("gate.window must be > 0")
	}

	if c.ViewerCount.FlushInterval <= 0 {
		return fmt.Errorf("viewer_count.flush_interval must be > 0")
	}

	if c.Tips.MaxAmount <= 0 {
		return fmt.Errorf("tips.max_amount must be > 0")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("chat.max_message_length must be > 0")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
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

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MaxMessageSize = 64 * 1024

	cfg.Engine.InitialWorkers = 2
	cfg.Engine.MaxWorkers = 8
	cfg.Engine.AutoScale = true
	cfg.Engine.ScaleThreshold = 0.8
	cfg.Engine.BasePort = 40000
	cfg.Engine.PortsPerWorker = 1000
	cfg.Engine.RoomsPerWorker = 100
	cfg.Engine.CallTimeout = 10 * time.Second

	cfg.Rooms.MaxParticipants = 500
	cfg.Rooms.InactivityThreshold = 30 * time.Minute
	cfg.Rooms.SweepInterval = 5 * time.Minute

	cfg.Gate.ConnectionsPerIP = 10
	cfg.Gate.ConnectionsPerUser = 5
	cfg.Gate.MessagesPerUser = 30
	cfg.Gate.Window = 60 * time.Second

	cfg.ViewerCount.FlushInterval = 5 * time.Second

	cfg.Tips.MaxAmount = 10000
	cfg.Chat.MaxMessageLength = 500

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("TIPCAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("TIPCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("TIPCAST_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("TIPCAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if workers := os.Getenv("TIPCAST_INITIAL_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			c.Engine.InitialWorkers = n
		}
	}
}
