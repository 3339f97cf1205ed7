package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Overpass  OverpassConfig  `mapstructure:"overpass"`
	XYZ       XYZConfig       `mapstructure:"xyz"`
	PMTiles   PMTilesConfig   `mapstructure:"pmtiles"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Tiles     TilesConfig     `mapstructure:"tiles"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  int           `mapstructure:"read_timeout"`
	WriteTimeout int           `mapstructure:"write_timeout"`
	GridTimeout  time.Duration `mapstructure:"grid_timeout"`
	RateLimit    int           `mapstructure:"rate_limit"`
	SpecPath     string        `mapstructure:"spec_path"`
	// ConsumeRequests runs grid requests arriving over NATS in the api process.
	ConsumeRequests bool `mapstructure:"consume_requests"`
	// MaxCells and MaxRadiusMeters bound a single grid request.
	MaxCells        int     `mapstructure:"max_cells"`
	MaxRadiusMeters float64 `mapstructure:"max_radius_m"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SourcesConfig lists source names in preference order. Known names are
// "pmtiles", "xyz" and "overpass".
type SourcesConfig struct {
	Order []string `mapstructure:"order"`
}

type OverpassConfig struct {
	Endpoints []string      `mapstructure:"endpoints"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type XYZConfig struct {
	Servers []string      `mapstructure:"servers"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PMTilesConfig struct {
	URLs    []string      `mapstructure:"urls"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type FetchConfig struct {
	MaxTries        int           `mapstructure:"max_tries"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	SourceDeadline  time.Duration `mapstructure:"source_deadline"`
	MaxTileFailures int           `mapstructure:"max_tile_failures"`
	MaxTiles        int           `mapstructure:"max_tiles"`
	UserAgent       string        `mapstructure:"user_agent"`
}

type TilesConfig struct {
	Zoom   int `mapstructure:"zoom"`
	Extent int `mapstructure:"extent"`
}

// CacheConfig selects the cache backend: "memory", "valkey", "postgres"
// or "none".
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type ValkeyConfig struct {
	Addr   string `mapstructure:"addr"`
	Prefix string `mapstructure:"prefix"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	OTLPAddr    string `mapstructure:"otlp_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

var knownSources = map[string]bool{"pmtiles": true, "xyz": true, "overpass": true}

var knownBackends = map[string]bool{"memory": true, "valkey": true, "postgres": true, "none": true}

// Load reads configuration from file, environment variables and any flag
// sets given. A flag overrides the key of the same name, e.g.
// --cache.backend, but only when it was set on the command line.
func Load(service string, flags ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 60)
	v.SetDefault("server.grid_timeout", 2*time.Minute)
	v.SetDefault("server.rate_limit", 60)
	v.SetDefault("server.spec_path", "api/openapi.yaml")
	v.SetDefault("server.consume_requests", false)
	v.SetDefault("server.max_cells", 1<<22)
	v.SetDefault("server.max_radius_m", 25000.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("sources.order", []string{"xyz", "overpass"})
	v.SetDefault("overpass.endpoints", []string{
		"https://overpass-api.de/api/interpreter",
		"https://overpass.kumi.systems/api/interpreter",
		"https://overpass.private.coffee/api/interpreter",
	})
	v.SetDefault("overpass.timeout", 30*time.Second)
	v.SetDefault("xyz.servers", []string{"https://tiles.openfreemap.org/planet/20251203_001001_pt/{z}/{x}/{y}.pbf"})
	v.SetDefault("xyz.timeout", 10*time.Second)
	v.SetDefault("pmtiles.urls", []string{})
	v.SetDefault("pmtiles.timeout", 10*time.Second)
	v.SetDefault("fetch.max_tries", 2)
	v.SetDefault("fetch.max_concurrency", 8)
	v.SetDefault("fetch.source_deadline", 60*time.Second)
	v.SetDefault("fetch.max_tile_failures", 0)
	v.SetDefault("fetch.max_tiles", 1024)
	v.SetDefault("fetch.user_agent", "terragrid/1.0")
	v.SetDefault("tiles.zoom", 14)
	v.SetDefault("tiles.extent", 4096)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "terragrid")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "terragrid")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.prefix", "terragrid:")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "terrain-prewarm")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_addr", "localhost:4317")
	v.SetDefault("telemetry.enabled", false)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: TERRAGRID_FETCH_MAX_TRIES → fetch.max_tries
	v.SetEnvPrefix("TERRAGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("log.level", "TERRAGRID_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "TERRAGRID_LOG_FORMAT", "LOG_FORMAT")

	for _, fs := range flags {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server.rate_limit must not be negative")
	}
	if c.Server.MaxCells < 0 {
		errs = append(errs, "server.max_cells must not be negative")
	}
	if c.Server.MaxRadiusMeters < 0 {
		errs = append(errs, "server.max_radius_m must not be negative")
	}
	if len(c.Sources.Order) == 0 {
		errs = append(errs, "sources.order must name at least one source")
	}
	for _, s := range c.Sources.Order {
		if !knownSources[s] {
			errs = append(errs, fmt.Sprintf("sources.order: unknown source %q", s))
		}
		if s == "pmtiles" && len(c.PMTiles.URLs) == 0 {
			errs = append(errs, "pmtiles.urls is required when pmtiles is a source")
		}
		if s == "xyz" && len(c.XYZ.Servers) == 0 {
			errs = append(errs, "xyz.servers is required when xyz is a source")
		}
		if s == "overpass" && len(c.Overpass.Endpoints) == 0 {
			errs = append(errs, "overpass.endpoints is required when overpass is a source")
		}
	}
	if c.Fetch.MaxTries < 1 {
		errs = append(errs, fmt.Sprintf("fetch.max_tries must be at least 1, got %d", c.Fetch.MaxTries))
	}
	if c.Fetch.MaxConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("fetch.max_concurrency must be at least 1, got %d", c.Fetch.MaxConcurrency))
	}
	if c.Fetch.MaxTileFailures < 0 {
		errs = append(errs, "fetch.max_tile_failures must not be negative")
	}
	if c.Fetch.MaxTiles < 0 {
		errs = append(errs, "fetch.max_tiles must not be negative")
	}
	if c.Tiles.Zoom < 0 || c.Tiles.Zoom > 22 {
		errs = append(errs, fmt.Sprintf("tiles.zoom must be 0-22, got %d", c.Tiles.Zoom))
	}
	if c.Tiles.Extent <= 0 {
		errs = append(errs, "tiles.extent must be positive")
	}
	if !knownBackends[c.Cache.Backend] {
		errs = append(errs, fmt.Sprintf("cache.backend: unknown backend %q", c.Cache.Backend))
	}
	if c.Cache.Backend == "valkey" && c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required for the valkey cache")
	}
	if c.Cache.Backend == "postgres" {
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Server.ConsumeRequests && !c.NATS.Enabled {
		errs = append(errs, "server.consume_requests needs nats.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
