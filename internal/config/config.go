// Package config loads the process configuration once at startup.
// The resulting *Config is passed explicitly to every constructor.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SRI environments.
const (
	EnvironmentTest       = "test"
	EnvironmentProduction = "production"
)

const (
	sriTestHost       = "https://celcer.sri.gob.ec"
	sriProductionHost = "https://cel.sri.gob.ec"

	receptionPath     = "/comprobantes-electronicos-ws/RecepcionComprobantesOffline"
	authorizationPath = "/comprobantes-electronicos-ws/AutorizacionComprobantesOffline"
)

type Config struct {
	App   AppConfig
	DB    DBConfig
	HTTP  HTTPConfig
	Log   LogConfig
	SRI   SRIConfig
	Queue QueueConfig
	Redis RedisConfig
}

type AppConfig struct {
	Name string
	Env  string // development, staging, production
}

type DBConfig struct {
	URL      string // full DSN, wins over the discrete fields
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// DSN returns the connection string, escaping credentials.
func (c DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

type LogConfig struct {
	Level       string
	Development bool
}

// SRIConfig selects the tax authority endpoints and signing material.
type SRIConfig struct {
	Environment      string // test | production
	ReceptionURL     string
	AuthorizationURL string
	Timeout          time.Duration
	CertPath         string
	CertPassword     string
	RUC              string
	EmissionType     string // 1 = normal emission
}

// EnvironmentCode is the access-key digit for the environment (1 test, 2 production).
func (c SRIConfig) EnvironmentCode() string {
	if c.Environment == EnvironmentProduction {
		return "2"
	}
	return "1"
}

// QueueConfig drives the submission worker.
type QueueConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	Lease        time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether Redis was configured. Without it the worker only polls.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Load reads optional config files, then OSIRIS_* environment variables.
// Environment wins. Missing files are not an error.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("OSIRIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		DB: DBConfig{
			URL:      v.GetString("db.url"),
			Host:     v.GetString("db.host"),
			Port:     v.GetInt("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			Name:     v.GetString("db.name"),
			SSLMode:  v.GetString("db.sslmode"),
			MaxConns: v.GetInt32("db.max_conns"),
			MinConns: v.GetInt32("db.min_conns"),
		},
		HTTP: HTTPConfig{
			Port:         v.GetInt("http.port"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		SRI: SRIConfig{
			Environment:      strings.ToLower(v.GetString("sri.environment")),
			ReceptionURL:     v.GetString("sri.reception_url"),
			AuthorizationURL: v.GetString("sri.authorization_url"),
			Timeout:          v.GetDuration("sri.timeout"),
			CertPath:         v.GetString("sri.cert_path"),
			CertPassword:     v.GetString("sri.cert_password"),
			RUC:              v.GetString("sri.ruc"),
			EmissionType:     v.GetString("sri.emission_type"),
		},
		Queue: QueueConfig{
			PollInterval: v.GetDuration("queue.poll_interval"),
			BatchSize:    v.GetInt("queue.batch_size"),
			MaxAttempts:  v.GetInt("queue.max_attempts"),
			BaseBackoff:  v.GetDuration("queue.base_backoff"),
			MaxBackoff:   v.GetDuration("queue.max_backoff"),
			Lease:        v.GetDuration("queue.lease"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
	}

	cfg.SRI.resolveEndpoints()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "osiris")
	v.SetDefault("app.env", "development")

	v.SetDefault("db.url", "")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "osiris")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 25)
	v.SetDefault("db.min_conns", 5)

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("sri.environment", EnvironmentTest)
	v.SetDefault("sri.reception_url", "")
	v.SetDefault("sri.authorization_url", "")
	v.SetDefault("sri.timeout", 30*time.Second)
	v.SetDefault("sri.cert_path", "")
	v.SetDefault("sri.cert_password", "")
	v.SetDefault("sri.ruc", "")
	v.SetDefault("sri.emission_type", "1")

	v.SetDefault("queue.poll_interval", 10*time.Second)
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.base_backoff", 30*time.Second)
	v.SetDefault("queue.max_backoff", 30*time.Minute)
	v.SetDefault("queue.lease", 2*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

func (c *SRIConfig) resolveEndpoints() {
	host := sriTestHost
	if c.Environment == EnvironmentProduction {
		host = sriProductionHost
	}
	if c.ReceptionURL == "" {
		c.ReceptionURL = host + receptionPath
	}
	if c.AuthorizationURL == "" {
		c.AuthorizationURL = host + authorizationPath
	}
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.SRI.Environment {
	case EnvironmentTest, EnvironmentProduction:
	default:
		return fmt.Errorf("config: sri.environment must be %q or %q, got %q",
			EnvironmentTest, EnvironmentProduction, c.SRI.Environment)
	}
	if c.SRI.Timeout <= 0 {
		return fmt.Errorf("config: sri.timeout must be positive")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("config: queue.max_attempts must be at least 1")
	}
	if c.Queue.BatchSize < 1 || c.Queue.PollInterval <= 0 || c.Queue.BaseBackoff <= 0 || c.Queue.Lease <= 0 {
		return fmt.Errorf("config: queue batch size, poll interval, backoff and lease must be positive")
	}
	return nil
}
