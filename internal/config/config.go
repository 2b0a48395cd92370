package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Poller  PollerConfig  `toml:"poller"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`                 // 0 picks a free port
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"` // empty disables CORS on /api
	OpenBrowser        bool     `toml:"open_browser"`
}

type BackendConfig struct {
	DocumentsURL  string `toml:"documents_url"`  // documents, graphs and Jira API
	GenerationURL string `toml:"generation_url"` // test generation API
	VisualizerURL string `toml:"visualizer_url"` // graph visualizer page
	Timeout       string `toml:"timeout"`        // per-request timeout, e.g. "5m"
}

type PollerConfig struct {
	Interval      string `toml:"interval"`       // how often the latest job is checked
	CompletionTTL string `toml:"completion_ttl"` // display time of polled outcomes
	LaunchTTL     string `toml:"launch_ttl"`     // display time of launch acknowledgements
	Timezone      string `toml:"timezone"`       // IANA name or "Local"
}

type StorageConfig struct {
	Path string `toml:"path"` // empty selects ~/.tcgen/tcgen.db
}

type LoggingConfig struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "console" or "json"
}

func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        0,
			OpenBrowser: true,
		},
		Backend: BackendConfig{
			DocumentsURL:  "http://localhost:8000",
			GenerationURL: "http://localhost:8003",
			VisualizerURL: "http://localhost:3001/graphrag-visualizer",
			Timeout:       "5m",
		},
		Poller: PollerConfig{
			Interval:      "3s",
			CompletionTTL: "5s",
			LaunchTTL:     "3s",
			Timezone:      "Local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> files (in
// order, later wins) -> environment. Missing files listed as optional are
// skipped.
func LoadFromFiles(optional string, paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	if optional != "" {
		data, err := os.ReadFile(optional)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", optional, err)
		default:
			if err := toml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", optional, err)
			}
		}
	}

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnvOverrides(config *Config) {
	if host := os.Getenv("TCGEN_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("TCGEN_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if origins := os.Getenv("TCGEN_CORS_ALLOWED_ORIGINS"); origins != "" {
		config.Server.CORSAllowedOrigins = parseCSV(origins)
	}
	if url := os.Getenv("TCGEN_DOCUMENTS_URL"); url != "" {
		config.Backend.DocumentsURL = url
	}
	if url := os.Getenv("TCGEN_GENERATION_URL"); url != "" {
		config.Backend.GenerationURL = url
	}
	if url := os.Getenv("TCGEN_VISUALIZER_URL"); url != "" {
		config.Backend.VisualizerURL = url
	}
	if timeout := os.Getenv("TCGEN_BACKEND_TIMEOUT"); timeout != "" {
		config.Backend.Timeout = timeout
	}
	if interval := os.Getenv("TCGEN_POLL_INTERVAL"); interval != "" {
		config.Poller.Interval = interval
	}
	if tz := os.Getenv("TCGEN_TIMEZONE"); tz != "" {
		config.Poller.Timezone = tz
	}
	if path := os.Getenv("TCGEN_DB_PATH"); path != "" {
		config.Storage.Path = path
	}
	if level := os.Getenv("TCGEN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("TCGEN_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

// ApplyFlagOverrides applies command line flags, the highest priority layer.
// Zero values leave the config untouched.
func ApplyFlagOverrides(config *Config, port int, noBrowser bool) {
	if port != 0 {
		config.Server.Port = port
	}
	if noBrowser {
		config.Server.OpenBrowser = false
	}
}

// Validate checks every duration and the timezone so bad values fail at startup.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"backend.timeout":       c.Backend.Timeout,
		"poller.interval":       c.Poller.Interval,
		"poller.completion_ttl": c.Poller.CompletionTTL,
		"poller.launch_ttl":     c.Poller.LaunchTTL,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s %q: must be positive", name, value)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	return nil
}

func (c *Config) BackendTimeout() time.Duration {
	return mustDuration(c.Backend.Timeout)
}

func (c *Config) PollInterval() time.Duration {
	return mustDuration(c.Poller.Interval)
}

func (c *Config) CompletionTTL() time.Duration {
	return mustDuration(c.Poller.CompletionTTL)
}

func (c *Config) LaunchTTL() time.Duration {
	return mustDuration(c.Poller.LaunchTTL)
}

// Location resolves the timezone used to display job launch times.
func (c *Config) Location() (*time.Location, error) {
	if c.Poller.Timezone == "" || strings.EqualFold(c.Poller.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Poller.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid poller.timezone %q: %w", c.Poller.Timezone, err)
	}
	return loc, nil
}

// ListenAddr is the host:port the server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// mustDuration is only called on values already checked by Validate.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func parseCSV(value string) []string {
	var result []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
