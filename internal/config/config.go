package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/stirandas/nfd-visualizations/internal/logging"
)

// Supported warehouse drivers.
const (
	DriverPostgres  = "postgres"
	DriverSnowflake = "snowflake"
	DriverCSV       = "csv"
)

var tableIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
	Fixture   FixtureConfig   `mapstructure:"fixture"`
	Query     QueryConfig     `mapstructure:"query"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ExposeErrors bool   `mapstructure:"expose_errors"`
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WarehouseConfig selects the backend and the flow table.
type WarehouseConfig struct {
	Driver string `mapstructure:"driver"`
	Table  string `mapstructure:"table"`
}

// PostgresConfig encapsulates PostgreSQL connectivity.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int           `mapstructure:"max_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ConnString returns the DSN, building a URL from discrete fields when no DSN is set.
func (p PostgresConfig) ConnString() string {
	if p.DSN != "" {
		return p.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{p.SSLMode}}.Encode()
	}
	return u.String()
}

// SnowflakeConfig captures warehouse account parameters.
type SnowflakeConfig struct {
	Account       string        `mapstructure:"account"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	Role          string        `mapstructure:"role"`
	Warehouse     string        `mapstructure:"warehouse"`
	Database      string        `mapstructure:"database"`
	Schema        string        `mapstructure:"schema"`
	Authenticator string        `mapstructure:"authenticator"`
	LoginTimeout  time.Duration `mapstructure:"login_timeout"`
}

// FixtureConfig points the csv driver at a file.
type FixtureConfig struct {
	Path string `mapstructure:"path"`
}

// QueryConfig shapes the /data projection.
type QueryConfig struct {
	Projection  string `mapstructure:"projection"`
	Timezone    string `mapstructure:"timezone"`
	MarketClose string `mapstructure:"market_close"`
}

// Location resolves the configured civil timezone.
func (q QueryConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("query.timezone: %w", err)
	}
	return loc, nil
}

// MarketCloseOffset returns market_close as a duration past midnight.
func (q QueryConfig) MarketCloseOffset() (time.Duration, error) {
	t, err := time.Parse("15:04", q.MarketClose)
	if err != nil {
		return 0, fmt.Errorf("query.market_close must be HH:MM: %w", err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints      int      `mapstructure:"max_data_points"`
	ParquetCompression string   `mapstructure:"parquet_compression"`
	S3                 S3Config `mapstructure:"s3"`
}

// S3Config describes the optional snapshot upload target.
type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// legacyEnv maps config keys to the variable names the service has always read.
var legacyEnv = map[string]string{
	"postgres.host":           "POSTGRES_HOST",
	"postgres.port":           "POSTGRES_PORT",
	"postgres.database":       "POSTGRES_DB",
	"postgres.user":           "POSTGRES_USER",
	"postgres.password":       "POSTGRES_PASSWORD",
	"snowflake.account":       "SNOWFLAKE_ACCOUNT",
	"snowflake.user":          "SNOWFLAKE_USER",
	"snowflake.password":      "SNOWFLAKE_PASSWORD",
	"snowflake.role":          "SNOWFLAKE_ROLE",
	"snowflake.warehouse":     "SNOWFLAKE_WAREHOUSE",
	"snowflake.database":      "SNOWFLAKE_DATABASE",
	"snowflake.schema":        "SNOWFLAKE_SCHEMA",
	"snowflake.authenticator": "SNOWFLAKE_AUTHENTICATOR",
	"server.port":             "PORT",
}

// Load builds configuration from defaults, file, .env and environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("NFD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Warehouse.Driver = strings.ToLower(strings.TrimSpace(cfg.Warehouse.Driver))
	cfg.Query.Projection = strings.ToLower(strings.TrimSpace(cfg.Query.Projection))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, env := range legacyEnv {
		prefixed := "NFD_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "nfdapi")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.time_format", "")
	v.SetDefault("logging.caller", false)
	v.SetDefault("logging.pretty", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.expose_errors", true)

	v.SetDefault("warehouse.driver", DriverPostgres)
	v.SetDefault("warehouse.table", "t_nse_fii_dii_eq_data")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "prefer")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.conn_max_lifetime", "30m")

	v.SetDefault("snowflake.authenticator", "snowflake")
	v.SetDefault("snowflake.login_timeout", "60s")

	v.SetDefault("fixture.path", "")

	v.SetDefault("query.projection", "full")
	v.SetDefault("query.timezone", "Asia/Kolkata")
	v.SetDefault("query.market_close", "15:30")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.parquet_compression", "snappy")
	v.SetDefault("export.s3.enabled", false)
	v.SetDefault("export.s3.prefix", "nfd")
	v.SetDefault("export.s3.bucket", "")
	v.SetDefault("export.s3.region", "ap-south-1")
	v.SetDefault("export.s3.endpoint", "")
	v.SetDefault("export.s3.path_style", false)
	v.SetDefault("export.s3.access_key_id", "")
	v.SetDefault("export.s3.secret_access_key", "")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if !tableIdent.MatchString(c.Warehouse.Table) {
		return fmt.Errorf("warehouse.table %q is not a valid identifier", c.Warehouse.Table)
	}

	switch c.Warehouse.Driver {
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
				return fmt.Errorf("postgres.host, postgres.database and postgres.user are required (or postgres.dsn)")
			}
			if c.Postgres.Port <= 0 {
				return fmt.Errorf("postgres.port must be greater than zero")
			}
		}
	case DriverSnowflake:
		if c.Snowflake.Account == "" || c.Snowflake.User == "" {
			return fmt.Errorf("snowflake.account and snowflake.user are required")
		}
	case DriverCSV:
		if c.Fixture.Path == "" {
			return fmt.Errorf("fixture.path is required for the csv driver")
		}
	default:
		return fmt.Errorf("warehouse.driver %q is not supported", c.Warehouse.Driver)
	}

	switch c.Query.Projection {
	case "full", "minimal":
	default:
		return fmt.Errorf("query.projection must be full or minimal, got %q", c.Query.Projection)
	}
	if _, err := c.Query.Location(); err != nil {
		return err
	}
	if _, err := c.Query.MarketCloseOffset(); err != nil {
		return err
	}

	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	switch strings.ToLower(c.Export.ParquetCompression) {
	case "", "snappy", "gzip", "none", "uncompressed":
	default:
		return fmt.Errorf("export.parquet_compression %q is not supported", c.Export.ParquetCompression)
	}
	if c.Export.S3.Enabled && c.Export.S3.Bucket == "" {
		return fmt.Errorf("export.s3.bucket is required when export.s3.enabled")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
