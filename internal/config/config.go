package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/hylla/herbchain/internal/domain"
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMemory   Driver = "memory"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Server   ServerConfig   `toml:"server"`
	Codes    CodesConfig    `toml:"codes"`
	Actors   []ActorConfig  `toml:"actors"`
}

type DatabaseConfig struct {
	Driver Driver `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"` // debug | info | warn | error
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type ServerConfig struct {
	Bind            string `toml:"bind"`
	APIEndpoint     string `toml:"api_endpoint"`
	MCPEndpoint     string `toml:"mcp_endpoint"`
	MetricsEndpoint string `toml:"metrics_endpoint"`
}

type CodesConfig struct {
	// Year pins the year segment of minted codes; 0 uses the current UTC year.
	Year int `toml:"year"`
}

// ActorConfig is one seed identity registered at startup.
type ActorConfig struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	Role    string `toml:"role"`
	Company string `toml:"company"`
	License string `toml:"license"`
}

func defaultActors() []ActorConfig {
	return []ActorConfig{
		{ID: "collector-1", Name: "Field Collector", Role: "collector", Company: "Green Valley Farms", License: "COL-001"},
		{ID: "tester-1", Name: "Lab Analyst", Role: "tester", Company: "Pure Test Labs", License: "LAB-001"},
		{ID: "manufacturer-1", Name: "Production Lead", Role: "manufacturer", Company: "Herbal Solutions Inc", License: "MFG-001"},
		{ID: "packager-1", Name: "Packing Supervisor", Role: "packager", Company: "Premium Pack Co", License: "PKG-001"},
		{ID: "auditor-1", Name: "Compliance Auditor", Role: "auditor", Company: "HerbChain Audit", License: "AUD-001"},
	}
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".herbchain/log",
			},
		},
		Server: ServerConfig{
			Bind:            "127.0.0.1:8080",
			APIEndpoint:     "/api/v1",
			MCPEndpoint:     "/mcp",
			MetricsEndpoint: "/metrics",
		},
		Actors: defaultActors(),
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	// A file that lists actors replaces the seed list instead of appending to it.
	cfg.Actors = nil
	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}
	if cfg.Actors == nil {
		cfg.Actors = defaults.Actors
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch Driver(strings.ToLower(strings.TrimSpace(string(c.Database.Driver)))) {
	case DriverSQLite, "":
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	if c.Logging.DevFile.Enabled && strings.TrimSpace(c.Logging.DevFile.Dir) == "" {
		return errors.New("logging.dev_file.dir is required when dev_file is enabled")
	}

	if strings.TrimSpace(c.Server.Bind) == "" {
		return errors.New("server.bind is required")
	}

	if c.Codes.Year < 0 || c.Codes.Year > 9999 {
		return fmt.Errorf("codes.year must be between 0 and 9999, got %d", c.Codes.Year)
	}

	seenActorID := map[string]struct{}{}
	for idx, actor := range c.Actors {
		id := strings.TrimSpace(actor.ID)
		if id == "" {
			return fmt.Errorf("actors[%d].id is required", idx)
		}
		if strings.TrimSpace(actor.Name) == "" {
			return fmt.Errorf("actors[%d].name is required", idx)
		}
		if strings.TrimSpace(actor.Company) == "" {
			return fmt.Errorf("actors[%d].company is required", idx)
		}
		if _, err := domain.ParseRole(actor.Role); err != nil {
			return fmt.Errorf("actors[%d].role is invalid: %q", idx, actor.Role)
		}
		if _, ok := seenActorID[id]; ok {
			return fmt.Errorf("actors[%d].id is duplicated: %s", idx, id)
		}
		seenActorID[id] = struct{}{}
	}

	return nil
}

// DriverName returns the normalized storage driver, defaulting to sqlite.
func (c Config) DriverName() Driver {
	driver := Driver(strings.ToLower(strings.TrimSpace(string(c.Database.Driver))))
	if driver == "" {
		return DriverSQLite
	}
	return driver
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
