package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	Bus       BusConfig       `yaml:"bus"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr            string        `yaml:"listen_addr"`
	HTTPPort              int           `yaml:"http_port"`
	AllowedOrigins        []string      `yaml:"allowed_origins"`
	AllowedOriginSuffixes []string      `yaml:"allowed_origin_suffixes"`
	ReadHeaderTimeout     time.Duration `yaml:"read_header_timeout"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
}

// WebSocketConfig bounds each connection
type WebSocketConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
	SendBuffer        int     `yaml:"send_buffer"`
}

// DatabaseConfig selects the storage mirror.
// Driver is "sqlite", "postgres" or "none".
type DatabaseConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	URL       string `yaml:"url"`
	QueueSize int    `yaml:"queue_size"`
}

// BusConfig enables the NATS publisher when NATSURL is set
type BusConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig holds logger settings. Format is "console" or "json".
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Addr returns host:port for the HTTP listener
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.ListenAddr, strconv.Itoa(c.Server.HTTPPort))
}

// DSN returns the data source for the configured driver
func (c *Config) DSN() string {
	if c.Database.Driver == "postgres" {
		return c.Database.URL
	}
	return c.Database.Path
}

// Load reads configuration from a YAML file. An empty path, or a path that
// does not exist when allowMissing is set, yields the defaults.
func Load(path string, allowMissing bool) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case allowMissing && errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "0.0.0.0"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 3001
	}
	if c.Server.AllowedOrigins == nil {
		c.Server.AllowedOrigins = []string{
			"http://localhost:5173",
			"http://localhost:5174",
			"http://127.0.0.1:5173",
		}
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.WebSocket.MessagesPerSecond == 0 {
		c.WebSocket.MessagesPerSecond = 10
	}
	if c.WebSocket.Burst == 0 {
		c.WebSocket.Burst = 20
	}
	if c.WebSocket.SendBuffer == 0 {
		c.WebSocket.SendBuffer = 256
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "noughts.db"
	}
	if c.Database.QueueSize == 0 {
		c.Database.QueueSize = 1024
	}

	if c.Bus.SubjectPrefix == "" {
		c.Bus.SubjectPrefix = "noughts"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// ApplyEnv overrides file settings with environment variables. lookup is
// normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("HOST"); ok && v != "" {
		c.Server.ListenAddr = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid PORT %q", v)
		}
		c.Server.HTTPPort = port
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("DATABASE_DRIVER"); ok && v != "" {
		c.Database.Driver = v
	}
	if v, ok := lookup("DATABASE_PATH"); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Database.URL = v
		if _, set := lookup("DATABASE_DRIVER"); !set {
			c.Database.Driver = "postgres"
		}
	}
	if v, ok := lookup("NATS_URL"); ok {
		c.Bus.NATSURL = v
	}
	return c.Validate()
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.WebSocket.MessagesPerSecond < 0 || c.WebSocket.Burst < 0 {
		return errors.New("websocket rate limits must not be negative")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
