package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
	DBPath  string `yaml:"db_path" validate:"required"`
	GTFSDir string `yaml:"gtfs_dir" validate:"required"`
	// GTFSURL is an http(s) URL or a local zip path.
	GTFSURL   string `yaml:"gtfs_url" validate:"required_without=PostgresDSN"`
	AlertsURL string `yaml:"alerts_url" validate:"omitempty,url"`
	Timezone  string `yaml:"timezone" validate:"required,timezone"`

	CookieSecret string `yaml:"cookie_secret"` // HMAC key for signing session cookies
	MaxUsers     int    `yaml:"max_users" validate:"min=0"` // 0 = unlimited

	// PostgresDSN switches schedule reads to Postgres.
	PostgresDSN string `yaml:"postgres_dsn"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject" validate:"required_with=NATSURL"`

	StopTimesLimit  int           `yaml:"stop_times_limit" validate:"min=1"`
	FetchRetries    int           `yaml:"fetch_retries" validate:"min=1,max=10"`
	FetchRetryDelay time.Duration `yaml:"fetch_retry_delay" validate:"min=0"`
	FuzzyStops      bool          `yaml:"fuzzy_stops"`
	RateLimit       float64       `yaml:"rate_limit" validate:"gt=0"` // requests per second per client
	RateBurst       int           `yaml:"rate_burst" validate:"min=1"`
	GzipMinSize     int           `yaml:"gzip_min_size" validate:"min=0"`

	ImportGTFS bool `yaml:"-"` // CLI flag: import the feed and exit
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:            8080,
		DBPath:          "./gotransit.db",
		GTFSDir:         "./data",
		GTFSURL:         "https://svc.metrotransit.org/mtgtfs/gtfs.zip",
		AlertsURL:       "https://svc.metrotransit.org/mtgtfs/alerts.pb",
		Timezone:        "America/Chicago",
		MaxUsers:        100,
		NATSSubject:     "gotransit",
		StopTimesLimit:  500,
		FetchRetries:    3,
		FetchRetryDelay: time.Second,
		FuzzyStops:      true,
		RateLimit:       10,
		RateBurst:       20,
		GzipMinSize:     1024,
	}
}

// Load builds the configuration: .env, then defaults, then the YAML file
// named by GOTRANSIT_CONFIG, then GOTRANSIT_* variables. The result is validated.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("GOTRANSIT_CONFIG"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location returns the agency timezone, falling back to a fixed Central offset.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		loc = time.FixedZone("CST", -6*60*60)
	}
	return loc
}

func (c *Config) applyEnv() error {
	envStr(&c.DBPath, "GOTRANSIT_DB_PATH")
	envStr(&c.GTFSDir, "GOTRANSIT_GTFS_DIR")
	envStr(&c.GTFSURL, "GOTRANSIT_GTFS_URL")
	envStr(&c.Timezone, "GOTRANSIT_TIMEZONE")
	envStr(&c.CookieSecret, "GOTRANSIT_COOKIE_SECRET")
	envStr(&c.PostgresDSN, "GOTRANSIT_POSTGRES_DSN")
	envStr(&c.NATSURL, "GOTRANSIT_NATS_URL")
	envStr(&c.NATSSubject, "GOTRANSIT_NATS_SUBJECT")
	// An explicitly empty alerts URL disables alerts.
	if v, ok := os.LookupEnv("GOTRANSIT_ALERTS_URL"); ok {
		c.AlertsURL = v
	}

	for _, e := range []struct {
		key string
		set func(string) error
	}{
		{"GOTRANSIT_PORT", intSetter(&c.Port)},
		{"GOTRANSIT_MAX_USERS", intSetter(&c.MaxUsers)},
		{"GOTRANSIT_STOP_TIMES_LIMIT", intSetter(&c.StopTimesLimit)},
		{"GOTRANSIT_FETCH_RETRIES", intSetter(&c.FetchRetries)},
		{"GOTRANSIT_RATE_BURST", intSetter(&c.RateBurst)},
		{"GOTRANSIT_GZIP_MIN_SIZE", intSetter(&c.GzipMinSize)},
		{"GOTRANSIT_FETCH_RETRY_DELAY", func(v string) (err error) {
			c.FetchRetryDelay, err = time.ParseDuration(v)
			return
		}},
		{"GOTRANSIT_RATE_LIMIT", func(v string) (err error) {
			c.RateLimit, err = strconv.ParseFloat(v, 64)
			return
		}},
		{"GOTRANSIT_FUZZY_STOPS", func(v string) (err error) {
			c.FuzzyStops, err = strconv.ParseBool(v)
			return
		}},
	} {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		if err := e.set(v); err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
	}
	return nil
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intSetter(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}
