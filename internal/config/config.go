package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration decodes TOML strings such as "200ms" or "1s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	// Mode is the gin mode: debug, release or test.
	Mode string `toml:"mode"`
	// ListLimit caps the project list endpoint.
	ListLimit int `toml:"list_limit"`
}

type StorageConfig struct {
	// Driver selects the project store: sqlite, postgres or memgraph.
	Driver string `toml:"driver"`
	// DSN is the database/sql data source for sqlite and postgres.
	DSN             string   `toml:"dsn"`
	ConnectAttempts int      `toml:"connect_attempts"`
	ConnectDelay    Duration `toml:"connect_delay"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type SimulationConfig struct {
	Steps     int      `toml:"steps"`
	StepDelay Duration `toml:"step_delay"`
	RESTDelay Duration `toml:"rest_delay"`
}

type CatalogConfig struct {
	// Path overrides the embedded element catalog.
	Path string `toml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ClientConfig is read by pipelinectl.
type ClientConfig struct {
	APIURL         string   `toml:"api_url"`
	HubURL         string   `toml:"hub_url"`
	RequestTimeout Duration `toml:"request_timeout"`
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Storage    StorageConfig    `toml:"storage"`
	Memgraph   MemgraphConfig   `toml:"memgraph"`
	Simulation SimulationConfig `toml:"simulation"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Log        LogConfig        `toml:"log"`
	Client     ClientConfig     `toml:"client"`
}

// Default returns the settings used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5000",
			ShutdownTimeout: Duration{10 * time.Second},
			Mode:            "release",
			ListLimit:       50,
		},
		Storage: StorageConfig{
			Driver:          "sqlite",
			DSN:             "file:pipeline.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)",
			ConnectAttempts: 10,
			ConnectDelay:    Duration{500 * time.Millisecond},
		},
		Memgraph: MemgraphConfig{
			URI: "bolt://localhost:7687",
		},
		Simulation: SimulationConfig{
			Steps:     10,
			StepDelay: Duration{200 * time.Millisecond},
			RESTDelay: Duration{time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Client: ClientConfig{
			APIURL:         "http://localhost:5000/api/pipeline",
			HubURL:         "ws://localhost:5000/simulationHub",
			RequestTimeout: Duration{30 * time.Second},
		},
	}
}

// Load reads the TOML file at path over the defaults. Keys absent from the
// file keep their default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional loads path when it exists and falls back to the defaults
// otherwise. Env overrides are applied in both cases.
func LoadOptional(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := Load(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file '%s': %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv layers environment variables over the file settings.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("PIPELINE_ADDR", &c.Server.Addr)
	if port, ok := lookup("PORT"); ok && port != "" {
		c.Server.Addr = ":" + port
	}
	set("PIPELINE_STORAGE_DRIVER", &c.Storage.Driver)
	set("DATABASE_URL", &c.Storage.DSN)
	set("MEMGRAPH_URI", &c.Memgraph.URI)
	set("MEMGRAPH_USER", &c.Memgraph.User)
	set("MEMGRAPH_PASSWORD", &c.Memgraph.Password)
	set("PIPELINE_API_URL", &c.Client.APIURL)
	set("PIPELINE_HUB_URL", &c.Client.HubURL)
	set("PIPELINE_CATALOG", &c.Catalog.Path)
	set("LOG_LEVEL", &c.Log.Level)
	set("LOG_FORMAT", &c.Log.Format)
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres", "memgraph":
	default:
		return fmt.Errorf("unknown storage driver %q (want sqlite, postgres or memgraph)", c.Storage.Driver)
	}
	if c.Simulation.Steps <= 0 {
		return fmt.Errorf("simulation.steps must be positive, got %d", c.Simulation.Steps)
	}
	if c.Server.ListLimit <= 0 {
		return fmt.Errorf("server.list_limit must be positive, got %d", c.Server.ListLimit)
	}
	return nil
}
