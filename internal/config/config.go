package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreWorkbook = "workbook"
	StorePostgres = "postgres"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	LogLevel            string        `mapstructure:"LOG_LEVEL"`
	LogFile             string        `mapstructure:"LOG_FILE"`
	StoreDriver         string        `mapstructure:"STORE_DRIVER"`
	WorkbookPath        string        `mapstructure:"WORKBOOK_PATH"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema            string        `mapstructure:"DB_SCHEMA"`
	MigrationsDir       string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	JWTSecret           string        `mapstructure:"JWT_SECRET"`
	TokenTTL            time.Duration `mapstructure:"TOKEN_TTL"`
	AdminEmail          string        `mapstructure:"ADMIN_EMAIL"`
	AdminPasswordHash   string        `mapstructure:"ADMIN_PASSWORD_HASH"`
	AdminPassword       string        `mapstructure:"ADMIN_PASSWORD"`
	MobilePolicy        string        `mapstructure:"MOBILE_POLICY"`
	PublicIntake        bool          `mapstructure:"PUBLIC_INTAKE"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	LoginRateLimitRPS   float64       `mapstructure:"LOGIN_RATE_LIMIT_RPS"`
	LoginRateLimitBurst int           `mapstructure:"LOGIN_RATE_LIMIT_BURST"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit           string        `mapstructure:"BODY_LIMIT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "5000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", StoreWorkbook)
	v.SetDefault("WORKBOOK_PATH", "data/ledger.xlsx")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("TOKEN_TTL", "8h")
	v.SetDefault("MOBILE_POLICY", "strict")
	v.SetDefault("PUBLIC_INTAKE", false)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("LOGIN_RATE_LIMIT_RPS", 1)
	v.SetDefault("LOGIN_RATE_LIMIT_BURST", 5)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "64K")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("LOG_FILE")
	v.BindEnv("STORE_DRIVER")
	v.BindEnv("WORKBOOK_PATH")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DB_SCHEMA")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("REDIS_URL")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("TOKEN_TTL")
	v.BindEnv("ADMIN_EMAIL")
	v.BindEnv("ADMIN_PASSWORD_HASH")
	v.BindEnv("ADMIN_PASSWORD")
	v.BindEnv("MOBILE_POLICY")
	v.BindEnv("PUBLIC_INTAKE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("LOGIN_RATE_LIMIT_RPS")
	v.BindEnv("LOGIN_RATE_LIMIT_BURST")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("BODY_LIMIT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if cfg.StoreDriver == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: ADMIN_PASSWORD may be given in plain text and a random JWT_SECRET is generated when unset.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// the token secret and a hashed admin password must come from the environment.
func (c *Config) Validate() error {
	if c.StoreDriver != StoreWorkbook && c.StoreDriver != StorePostgres {
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreWorkbook, StorePostgres, c.StoreDriver)
	}
	if c.StoreDriver == StoreWorkbook && c.WorkbookPath == "" {
		return fmt.Errorf("WORKBOOK_PATH is required when STORE_DRIVER is %q", StoreWorkbook)
	}
	if c.MobilePolicy != "strict" && c.MobilePolicy != "loose" {
		return fmt.Errorf("MOBILE_POLICY must be \"strict\" or \"loose\", got %q", c.MobilePolicy)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.AdminEmail == "" {
		return fmt.Errorf("ADMIN_EMAIL is required")
	}

	if !c.IsDev() {
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters outside development")
		}
		if c.AdminPasswordHash == "" {
			return fmt.Errorf("ADMIN_PASSWORD_HASH is required outside development")
		}
		if c.AdminPassword != "" {
			return fmt.Errorf("ADMIN_PASSWORD is only accepted in development; use ADMIN_PASSWORD_HASH")
		}
	} else if c.AdminPasswordHash == "" && c.AdminPassword == "" {
		return fmt.Errorf("one of ADMIN_PASSWORD_HASH or ADMIN_PASSWORD is required")
	}

	return nil
}
