package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	DatabaseURL     string        `yaml:"database_url"`

	Log     LogConfig     `yaml:"log"`
	Abuse   AbuseConfig   `yaml:"abuse"`
	Janitor JanitorConfig `yaml:"janitor"`
	Redis   RedisConfig   `yaml:"redis"`
	NATS    NATSConfig    `yaml:"nats"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AbuseConfig struct {
	// EventRate is the refill rate of the per-address event bucket, tokens/second.
	EventRate  int           `yaml:"event_rate"`
	EventBurst int           `yaml:"event_burst"`
	HTTPLimit  int           `yaml:"http_limit"`
	HTTPWindow time.Duration `yaml:"http_window"`
}

type JanitorConfig struct {
	Interval       time.Duration `yaml:"interval"`
	IdleThreshold  time.Duration `yaml:"idle_threshold"`
	EmptyRoomGrace time.Duration `yaml:"empty_room_grace"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

func Default() Config {
	return Config{
		Port:            3001,
		AllowedOrigins:  []string{"http://localhost:3000"},
		ShutdownTimeout: 30 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Abuse: AbuseConfig{
			EventRate:  10,
			EventBurst: 10,
			HTTPLimit:  100,
			HTTPWindow: 15 * time.Minute,
		},
		Janitor: JanitorConfig{
			Interval:       5 * time.Minute,
			IdleThreshold:  30 * time.Minute,
			EmptyRoomGrace: 30 * time.Second,
		},
		NATS: NATSConfig{
			SubjectPrefix: "connect4",
		},
	}
}

// Load layers defaults, the optional YAML file named by CONFIG_FILE, and the environment.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.loadEnv(os.Getenv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv(getenv func(string) string) error {
	var err error
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v := getenv(key)
		if v == "" || err != nil {
			return
		}
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			err = fmt.Errorf("invalid %s %q: %w", key, v, convErr)
			return
		}
		*dst = n
	}
	setDuration := func(key string, dst *time.Duration) {
		v := getenv(key)
		if v == "" || err != nil {
			return
		}
		d, parseErr := time.ParseDuration(v)
		if parseErr != nil {
			err = fmt.Errorf("invalid %s %q: %w", key, v, parseErr)
			return
		}
		*dst = d
	}

	setInt("PORT", &c.Port)
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	setDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	setString("DATABASE_URL", &c.DatabaseURL)

	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)

	setInt("EVENT_RATE", &c.Abuse.EventRate)
	setInt("EVENT_BURST", &c.Abuse.EventBurst)
	setInt("HTTP_RATE_LIMIT", &c.Abuse.HTTPLimit)
	setDuration("HTTP_RATE_WINDOW", &c.Abuse.HTTPWindow)

	setDuration("JANITOR_INTERVAL", &c.Janitor.Interval)
	setDuration("IDLE_THRESHOLD", &c.Janitor.IdleThreshold)
	setDuration("EMPTY_ROOM_GRACE", &c.Janitor.EmptyRoomGrace)

	setString("REDIS_ADDR", &c.Redis.Addr)
	setString("REDIS_PASSWORD", &c.Redis.Password)
	setInt("REDIS_DB", &c.Redis.DB)

	setString("NATS_URL", &c.NATS.URL)
	setString("NATS_SUBJECT_PREFIX", &c.NATS.SubjectPrefix)

	return err
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Abuse.EventRate <= 0 || c.Abuse.EventBurst <= 0 {
		return fmt.Errorf("event rate and burst must be positive (rate=%d burst=%d)", c.Abuse.EventRate, c.Abuse.EventBurst)
	}
	if c.Abuse.HTTPLimit <= 0 || c.Abuse.HTTPWindow <= 0 {
		return fmt.Errorf("http rate limit and window must be positive (limit=%d window=%s)", c.Abuse.HTTPLimit, c.Abuse.HTTPWindow)
	}
	if c.Janitor.Interval <= 0 || c.Janitor.IdleThreshold <= 0 || c.Janitor.EmptyRoomGrace <= 0 {
		return fmt.Errorf("janitor durations must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
