// Package config loads the service configuration from flags, environment, an optional
// config file and defaults using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds the application configuration
type Config struct {
	APIPort int `mapstructure:"api_port"`

	DBDriver          string        `mapstructure:"db_driver"`
	SQLitePath        string        `mapstructure:"sqlite_path"`
	PostgresHostname  string        `mapstructure:"postgres_hostname"`
	PostgresPort      int           `mapstructure:"postgres_port"`
	PostgresUser      string        `mapstructure:"postgres_user"`
	PostgresPassword  string        `mapstructure:"postgres_password"`
	PostgresDB        string        `mapstructure:"postgres_db"`
	PostgresSSLMode   string        `mapstructure:"postgres_sslmode"`
	DBMaxOpenConns    int           `mapstructure:"db_max_open_conns"`
	DBMaxIdleConns    int           `mapstructure:"db_max_idle_conns"`
	DBConnMaxLifetime time.Duration `mapstructure:"db_conn_max_lifetime"`

	QueryTimeout    time.Duration `mapstructure:"query_timeout"`   // 0 = no deadline beyond the request context
	HealthTimeout   time.Duration `mapstructure:"health_timeout"`  // per probe
	DefaultLookback time.Duration `mapstructure:"default_lookback"` // window span when start_time is omitted

	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	LogFile         string        `mapstructure:"log_file"`
	OTLPEndpoint    string        `mapstructure:"otlp_endpoint"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// flagKeys maps cobra flag names onto configuration keys
var flagKeys = map[string]string{
	"db-driver":   "db_driver",
	"sqlite-path": "sqlite_path",
	"log-level":   "log_level",
	"port":        "api_port",
}

// Load builds Config. Precedence: flags, environment, config file, defaults.
// configFile may be empty, in which case telemetry-api.yaml is searched for.
func Load(flags *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("telemetry-api")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.telemetry-api")
		v.AddConfigPath("/etc/telemetry-api/")
	}

	v.AutomaticEnv()
	if err := v.BindEnv("otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT"); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_port", 8000)
	v.SetDefault("db_driver", DriverPostgres)
	v.SetDefault("sqlite_path", "telemetry.db")
	v.SetDefault("postgres_hostname", "timescaledb")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "admin")
	v.SetDefault("postgres_password", "nimda")
	v.SetDefault("postgres_db", "telemetry")
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("db_max_open_conns", 10)
	v.SetDefault("db_max_idle_conns", 5)
	v.SetDefault("db_conn_max_lifetime", 30*time.Minute)
	v.SetDefault("query_timeout", 10*time.Second)
	v.SetDefault("health_timeout", 2*time.Second)
	v.SetDefault("default_lookback", time.Hour)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("shutdown_timeout", 15*time.Second)
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres:
		if c.PostgresHostname == "" || c.PostgresDB == "" || c.PostgresUser == "" {
			return errors.New("postgres_hostname, postgres_db and postgres_user are required")
		}
		if c.PostgresPort <= 0 {
			return fmt.Errorf("invalid postgres_port: %d", c.PostgresPort)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite_path is required for the sqlite3 driver")
		}
	default:
		return fmt.Errorf("unsupported db_driver: %s", c.DBDriver)
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid api_port: %d", c.APIPort)
	}
	if c.QueryTimeout < 0 || c.HealthTimeout < 0 || c.ShutdownTimeout < 0 || c.DBConnMaxLifetime < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.DefaultLookback <= 0 {
		return fmt.Errorf("default_lookback must be positive, got %s", c.DefaultLookback)
	}
	return nil
}

// DSN returns the data source name for the configured driver
func (c *Config) DSN() string {
	if c.DBDriver == DriverSQLite {
		return c.SQLitePath
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     c.PostgresHostname + ":" + strconv.Itoa(c.PostgresPort),
		Path:     "/" + c.PostgresDB,
		RawQuery: url.Values{"sslmode": []string{c.PostgresSSLMode}}.Encode(),
	}
	return u.String()
}

// DependencyName names the store in health reports
func (c *Config) DependencyName() string {
	if c.DBDriver == DriverSQLite {
		return "sqlite"
	}
	return "postgres"
}
