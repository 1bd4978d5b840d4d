// Package config loads ticketflow configuration.
//
// Values are layered, later layers winning:
//   - built-in defaults
//   - a YAML file named by --config or TICKETFLOW_CONFIG
//   - a .env file in the working directory, if present
//   - TICKETFLOW_* environment variables
//   - command-line flags that were set explicitly
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"ticketflow-cli/viewport"
)

const (
	EnvPrefix  = "TICKETFLOW_"
	EnvConfig  = EnvPrefix + "CONFIG"
	DotEnvFile = ".env"
)

type Config struct {
	// Source selects where seats are read and booked: http or postgres.
	Source string `yaml:"source"`
	// Stream selects the change feed: sse, postgres or redis.
	Stream      string `yaml:"stream"`
	APIURL      string `yaml:"api_url"`
	DatabaseURL string `yaml:"database_url"`
	Redis       Redis  `yaml:"redis"`
	AMQPURL     string `yaml:"amqp_url"`

	Token     string `yaml:"token"`
	JWTSecret string `yaml:"jwt_secret"`

	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`

	Viewport viewport.Config `yaml:"viewport"`
	Server   Server          `yaml:"server"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Server configures the development backend.
type Server struct {
	Addr         string        `yaml:"addr"`
	Shows        int           `yaml:"shows"`
	SeatsPerShow int           `yaml:"seats_per_show"`
	Churn        time.Duration `yaml:"churn"`
}

func Default() Config {
	return Config{
		Source:   "http",
		Stream:   "sse",
		APIURL:   "http://localhost:8080",
		LogLevel: "info",
		Redis:    Redis{Addr: "localhost:6379"},
		Viewport: viewport.DefaultConfig(),
		Server: Server{
			Addr:         ":8080",
			Shows:        4,
			SeatsPerShow: 40,
		},
	}
}

// Load builds the configuration from every layer except flags. A missing
// file at an explicitly named path is an error; a missing .env is not.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", DotEnvFile, err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Source {
	case "http", "postgres":
	default:
		return fmt.Errorf("unknown source %q (want http or postgres)", c.Source)
	}
	switch c.Stream {
	case "sse", "postgres", "redis":
	default:
		return fmt.Errorf("unknown stream %q (want sse, postgres or redis)", c.Stream)
	}
	if (c.Source == "postgres" || c.Stream == "postgres") && c.DatabaseURL == "" {
		return errors.New("database_url is required for the postgres source or stream")
	}
	if c.Stream == "redis" && c.Redis.Addr == "" {
		return errors.New("redis.addr is required for the redis stream")
	}
	if err := c.Viewport.Validate(); err != nil {
		return fmt.Errorf("viewport: %w", err)
	}
	return nil
}

type envBinding struct {
	name  string
	apply func(cfg *Config, value string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		*field(cfg) = value
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

func float(field func(*Config) *float64) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		*field(cfg) = f
		return nil
	}
}

func duration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*field(cfg) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"SOURCE", str(func(c *Config) *string { return &c.Source })},
	{"STREAM", str(func(c *Config) *string { return &c.Stream })},
	{"API_URL", str(func(c *Config) *string { return &c.APIURL })},
	{"DATABASE_URL", str(func(c *Config) *string { return &c.DatabaseURL })},
	{"REDIS_ADDR", str(func(c *Config) *string { return &c.Redis.Addr })},
	{"REDIS_PASSWORD", str(func(c *Config) *string { return &c.Redis.Password })},
	{"REDIS_DB", integer(func(c *Config) *int { return &c.Redis.DB })},
	{"AMQP_URL", str(func(c *Config) *string { return &c.AMQPURL })},
	{"TOKEN", str(func(c *Config) *string { return &c.Token })},
	{"JWT_SECRET", str(func(c *Config) *string { return &c.JWTSecret })},
	{"LOG_FILE", str(func(c *Config) *string { return &c.LogFile })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"MIN_SCALE", float(func(c *Config) *float64 { return &c.Viewport.MinScale })},
	{"MAX_SCALE", float(func(c *Config) *float64 { return &c.Viewport.MaxScale })},
	{"INITIAL_SCALE", float(func(c *Config) *float64 { return &c.Viewport.InitialScale })},
	{"SERVER_ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"SERVER_SHOWS", integer(func(c *Config) *int { return &c.Server.Shows })},
	{"SERVER_SEATS_PER_SHOW", integer(func(c *Config) *int { return &c.Server.SeatsPerShow })},
	{"SERVER_CHURN", duration(func(c *Config) *time.Duration { return &c.Server.Churn })},
}

func applyEnv(cfg *Config) error {
	for _, b := range envBindings {
		value, ok := os.LookupEnv(EnvPrefix + b.name)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := b.apply(cfg, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, b.name, value, err)
		}
	}
	return nil
}

// AddFlags declares the client flags on fs. Defaults shown in help come
// from Default; only flags the user sets override the loaded values.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a YAML config file (env "+EnvConfig+")")
	fs.String("source", d.Source, "seat source: http or postgres")
	fs.String("stream", d.Stream, "change stream: sse, postgres or redis")
	fs.String("api-url", d.APIURL, "backend base URL")
	fs.String("database-url", "", "Postgres connection string")
	fs.String("redis-addr", d.Redis.Addr, "Redis address for the redis stream")
	fs.String("token", "", "session token (JWT)")
	fs.String("log-file", "", "write JSON logs to this file")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.Float64("min-scale", d.Viewport.MinScale, "minimum zoom")
	fs.Float64("max-scale", d.Viewport.MaxScale, "maximum zoom")
}

// AddServerFlags declares the development backend flags on fs.
func AddServerFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("addr", d.Server.Addr, "listen address")
	fs.Int("shows", d.Server.Shows, "number of generated shows")
	fs.Int("seats-per-show", d.Server.SeatsPerShow, "seats per generated show")
	fs.Duration("churn", 0, "book a random seat at this interval (0 disables)")
	fs.String("jwt-secret", "", "HS256 secret used to verify bearer tokens")
	fs.String("amqp-url", "", "publish booking.confirmed events to this broker")
	fs.Bool("redis-mirror", false, "mirror seat changes to Redis streams at --redis-addr")
}

// ApplyFlags copies explicitly set flags into cfg. Flags not declared on fs
// are skipped.
func ApplyFlags(fs *pflag.FlagSet, cfg *Config) error {
	var errs []error
	setString := func(name string, dst *string) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	setFloat := func(name string, dst *float64) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, err := fs.GetFloat64(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, err := fs.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	setString("source", &cfg.Source)
	setString("stream", &cfg.Stream)
	setString("api-url", &cfg.APIURL)
	setString("database-url", &cfg.DatabaseURL)
	setString("redis-addr", &cfg.Redis.Addr)
	setString("token", &cfg.Token)
	setString("log-file", &cfg.LogFile)
	setString("log-level", &cfg.LogLevel)
	setFloat("min-scale", &cfg.Viewport.MinScale)
	setFloat("max-scale", &cfg.Viewport.MaxScale)

	setString("addr", &cfg.Server.Addr)
	setInt("shows", &cfg.Server.Shows)
	setInt("seats-per-show", &cfg.Server.SeatsPerShow)
	setString("jwt-secret", &cfg.JWTSecret)
	setString("amqp-url", &cfg.AMQPURL)
	if f := fs.Lookup("churn"); f != nil && f.Changed {
		v, err := fs.GetDuration("churn")
		errs = append(errs, err)
		cfg.Server.Churn = v
	}
	return errors.Join(errs...)
}
