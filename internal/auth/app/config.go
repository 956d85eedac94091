package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pressroom/cms/pkg/jwtx"
	"github.com/spf13/viper"
)

// ConfigFileEnv names an optional YAML file read before the environment.
const ConfigFileEnv = "CMS_CONFIG_FILE"

type Config struct {
	Env                  string        `mapstructure:"env"`
	LogLevel             string        `mapstructure:"log_level"`
	LogFormat            string        `mapstructure:"log_format"`
	Port                 int           `mapstructure:"port"`
	ShutdownGracePeriod  time.Duration `mapstructure:"shutdown_grace_period"`
	HousekeepingInterval time.Duration `mapstructure:"housekeeping_interval"`

	JWTSecret       string        `mapstructure:"jwt_secret"` // Required, at least 32 bytes
	JWTIssuer       string        `mapstructure:"jwt_issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`

	CookieSecure bool   `mapstructure:"cookie_secure"` // defaults to true when Env is prod
	CookieDomain string `mapstructure:"cookie_domain"`
	CookiePath   string `mapstructure:"cookie_path"`

	DatabaseDriver string `mapstructure:"database_driver"` // sqlite or postgres
	DatabaseFile   string `mapstructure:"database_file"`
	DatabaseURL    string `mapstructure:"database_url"`
	PepperFile     string `mapstructure:"pepper_file"`

	RedisAddr        string `mapstructure:"redis_addr"`
	RedisPassword    string `mapstructure:"redis_password"`
	RedisDB          int    `mapstructure:"redis_db"`
	SessionKeyPrefix string `mapstructure:"session_key_prefix"`

	// SMTP is optional; without SMTPAddr codes are only logged.
	SMTPAddr     string `mapstructure:"smtp_addr"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
	SMTPFrom     string `mapstructure:"smtp_from"`
	SMTPUseTLS   bool   `mapstructure:"smtp_use_tls"`

	UploadDir      string `mapstructure:"upload_dir"`
	UploadBaseURL  string `mapstructure:"upload_base_url"`
	UploadMaxBytes int64  `mapstructure:"upload_max_bytes"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// LoadConfig reads defaults, then the optional file named by
// CMS_CONFIG_FILE, then environment variables (upper-case key names).
func LoadConfig() (Config, error) {
	return loadConfig(os.Getenv(ConfigFileEnv))
}

func loadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("port", 8080)
	v.SetDefault("shutdown_grace_period", "10s")
	v.SetDefault("housekeeping_interval", "15m")

	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "cms")
	v.SetDefault("access_token_ttl", jwtx.DefaultAccessTokenTTL.String())
	v.SetDefault("refresh_token_ttl", jwtx.DefaultRefreshTokenTTL.String())

	v.SetDefault("cookie_domain", "")
	v.SetDefault("cookie_path", "/")

	v.SetDefault("database_driver", "sqlite")
	v.SetDefault("database_file", "cms.db")
	v.SetDefault("database_url", "")
	v.SetDefault("pepper_file", "pepper")

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("session_key_prefix", "cms:refresh:")

	v.SetDefault("smtp_addr", "")
	v.SetDefault("smtp_user", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_from", "no-reply@localhost")
	v.SetDefault("smtp_use_tls", false)

	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("upload_base_url", "/uploads")
	v.SetDefault("upload_max_bytes", 1<<20)

	v.SetDefault("metrics_enabled", true)

	// No default: an unset value means "secure in prod".
	_ = v.BindEnv("cookie_secure", "COOKIE_SECURE")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if !v.IsSet("cookie_secure") {
		cfg.CookieSecure = cfg.Env == "prod"
	}
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error

	if len(c.JWTSecret) < jwtx.MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", jwtx.MinSecretLength))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	} else if c.RefreshTokenTTL <= c.AccessTokenTTL {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}

	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabaseFile == "" {
			errs = append(errs, errors.New("DATABASE_FILE is required for sqlite"))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
	}

	if c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required"))
	}
	if c.UploadMaxBytes <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_BYTES must be positive"))
	}
	if c.Env == "prod" && !c.CookieSecure {
		errs = append(errs, errors.New("COOKIE_SECURE cannot be disabled in prod"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
