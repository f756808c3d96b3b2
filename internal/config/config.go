// Package config resolves process settings from the environment and an
// optional config file.
//
// Settings are built once at process start and passed explicitly to every
// component; there is no package-level settings value. Tests construct
// isolated instances by calling Load again.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/msomdec/movie-catalogue/internal/domain"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "CATALOGUE"

// Settings is the immutable process configuration.
type Settings struct {
	Env  string
	Mode domain.StorageMode

	SQLite   SQLiteSettings
	Postgres PostgresSettings

	// Echo logs every statement sent to the storage engine at debug level.
	Echo        bool
	AutoMigrate bool
	Seed        bool

	HTTP HTTPSettings
	Auth AuthSettings
	Log  LogSettings
}

// SQLiteSettings configures the embedded-file engine.
type SQLiteSettings struct {
	Path        string
	BusyTimeout time.Duration
	MaxConns    int
}

// PostgresSettings configures the network-database engine.
type PostgresSettings struct {
	URL               string
	MaxConns          int32
	MinConns          int32
	AcquireTimeout    time.Duration // 0 fails immediately when the pool is exhausted
	HealthCheckPeriod time.Duration
}

// HTTPSettings configures the request layer.
type HTTPSettings struct {
	Addr           string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	CacheTTL       time.Duration // 0 disables the response cache
}

// AuthSettings configures bearer authentication of write requests.
// An empty Secret disables it.
type AuthSettings struct {
	Secret            string
	AdminPasswordHash string
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level  string
	Format string
}

var defaults = map[string]any{
	"env":                      "development",
	"storage_mode":             string(domain.ModeMemory),
	"sqlite_busy_timeout":      "5s",
	"sqlite_max_conns":         "4",
	"pool_max_conns":           "10",
	"pool_min_conns":           "0",
	"pool_acquire_timeout":     "3s",
	"pool_health_check_period": "30s",
	"db_echo":                  false,
	"auto_migrate":             true,
	"seed":                     false,
	"http_addr":                ":8080",
	"request_timeout":          "10s",
	"rate_limit_rps":           "5",
	"rate_limit_burst":         "10",
	"cache_ttl":                "30s",
	"log_level":                "info",
	"log_format":               "console",
	"postgres_port":            "5432",
	"postgres_sslmode":         "disable",
}

// Load reads settings from the environment and, if file is not empty,
// from that config file (.env, YAML, TOML or JSON; keys without prefix).
// Environment variables take precedence over the file.
//
// It returns an error wrapping domain.ErrConfiguration when settings
// cannot be resolved.
func Load(file string) (*Settings, error) {
	v := viper.New()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// well-known variables used by container images and hosting platforms
	bind(v, "database_url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	for _, k := range []string{"host", "port", "user", "password", "db", "sslmode"} {
		key := "postgres_" + k
		bind(v, key, EnvPrefix+"_"+strings.ToUpper(key), strings.ToUpper(key))
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read config file: %v", domain.ErrConfiguration, err)
		}
	}

	return resolve(v)
}

func bind(v *viper.Viper, key string, envs ...string) {
	// BindEnv only fails without arguments.
	_ = v.BindEnv(append([]string{key}, envs...)...)
}

func resolve(v *viper.Viper) (*Settings, error) {
	var errs []error
	p := parser{v: v, errs: &errs}

	mode, err := ParseMode(v.GetString("storage_mode"))
	if err != nil {
		errs = append(errs, err)
	}

	env := strings.ToLower(strings.TrimSpace(v.GetString("env")))
	if env == "" {
		env = "development"
	}

	s := &Settings{
		Env:  env,
		Mode: mode,
		SQLite: SQLiteSettings{
			Path:        v.GetString("sqlite_path"),
			BusyTimeout: p.duration("sqlite_busy_timeout"),
			MaxConns:    p.integer("sqlite_max_conns", 1, 64),
		},
		Postgres: PostgresSettings{
			MaxConns:          int32(p.integer("pool_max_conns", 1, 1000)),
			MinConns:          int32(p.integer("pool_min_conns", 0, 1000)),
			AcquireTimeout:    p.duration("pool_acquire_timeout"),
			HealthCheckPeriod: p.duration("pool_health_check_period"),
		},
		Echo:        v.GetBool("db_echo"),
		AutoMigrate: v.GetBool("auto_migrate"),
		Seed:        v.GetBool("seed"),
		HTTP: HTTPSettings{
			Addr:           v.GetString("http_addr"),
			RequestTimeout: p.duration("request_timeout"),
			RateLimitRPS:   p.float("rate_limit_rps"),
			RateLimitBurst: p.integer("rate_limit_burst", 1, 1_000_000),
			CacheTTL:       p.duration("cache_ttl"),
		},
		Auth: AuthSettings{
			Secret:            v.GetString("auth_secret"),
			AdminPasswordHash: v.GetString("admin_password_hash"),
		},
		Log: LogSettings{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}

	if s.SQLite.Path == "" {
		s.SQLite.Path = filepath.Join("data", "catalogue-"+env+".db")
	}

	if s.Postgres.MinConns > s.Postgres.MaxConns {
		errs = append(errs, fmt.Errorf("%w: pool_min_conns exceeds pool_max_conns", domain.ErrConfiguration))
	}

	if s.Auth.Secret != "" && len(s.Auth.Secret) < 32 {
		errs = append(errs, fmt.Errorf("%w: auth_secret must be at least 32 characters", domain.ErrConfiguration))
	}

	if mode == domain.ModePostgres {
		u, err := postgresURL(v)
		if err != nil {
			errs = append(errs, err)
		}
		s.Postgres.URL = u
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return s, nil
}

// ParseMode maps a configured mode name, including its aliases,
// to a storage mode.
func ParseMode(s string) (domain.StorageMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "memory", "mem":
		return domain.ModeMemory, nil
	case "sqlite", "file", "embedded-file":
		return domain.ModeSQLite, nil
	case "postgres", "postgresql", "network-database":
		return domain.ModePostgres, nil
	default:
		return "", fmt.Errorf("%w: unknown storage mode %q", domain.ErrConfiguration, s)
	}
}

// postgresURL resolves the connection string from an explicit URL or,
// failing that, from its POSTGRES_* parts.
func postgresURL(v *viper.Viper) (string, error) {
	if raw := strings.TrimSpace(v.GetString("database_url")); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return "", fmt.Errorf("%w: database_url is not a PostgreSQL URL", domain.ErrConfiguration)
		}
		return raw, nil
	}

	host := v.GetString("postgres_host")
	if host == "" {
		return "", fmt.Errorf("%w: storage mode %q requires database_url or postgres_host", domain.ErrConfiguration, domain.ModePostgres)
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, v.GetString("postgres_port")),
		Path:     "/" + v.GetString("postgres_db"),
		RawQuery: url.Values{"sslmode": {v.GetString("postgres_sslmode")}}.Encode(),
	}
	if user := v.GetString("postgres_user"); user != "" {
		if pw := v.GetString("postgres_password"); pw != "" {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}

	return u.String(), nil
}

// EffectiveURL returns the backend URL derived from the storage mode.
func (s *Settings) EffectiveURL() string {
	switch s.Mode {
	case domain.ModeSQLite:
		return "file:" + s.SQLite.Path
	case domain.ModePostgres:
		return s.Postgres.URL
	default:
		return "memory://"
	}
}

// RedactedURL is EffectiveURL with any password masked, safe for logs.
func (s *Settings) RedactedURL() string {
	raw := s.EffectiveURL()
	if s.Mode != domain.ModePostgres {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "postgres://"
	}
	return u.Redacted()
}

// parser collects conversion errors instead of failing on the first one.
type parser struct {
	v    *viper.Viper
	errs *[]error
}

func (p parser) fail(key string) {
	*p.errs = append(*p.errs, fmt.Errorf("%w: invalid value for %s", domain.ErrConfiguration, key))
}

func (p parser) duration(key string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(p.v.GetString(key)))
	if err != nil || d < 0 {
		p.fail(key)
		return 0
	}
	return d
}

func (p parser) integer(key string, lo, hi int) int {
	n, err := strconv.Atoi(strings.TrimSpace(p.v.GetString(key)))
	if err != nil || n < lo || n > hi {
		p.fail(key)
		return 0
	}
	return n
}

func (p parser) float(key string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(p.v.GetString(key)), 64)
	if err != nil || f < 0 {
		p.fail(key)
		return 0
	}
	return f
}
