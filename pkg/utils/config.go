package utils

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root configuration shared by the api-server, scraper and shelfctl.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Recommend RecommendConfig `yaml:"recommend"`
	Scraper   ScraperConfig   `yaml:"scraper"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"             env:"SHELF_ADDR"             env-default:":8080"`
	BasePath        string        `yaml:"base_path"        env:"SHELF_BASE_PATH"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SHELF_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SHELF_WRITE_TIMEOUT"    env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHELF_SHUTDOWN_TIMEOUT" env-default:"5s"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"SHELF_DB_PATH"`
}

type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"      env:"SHELF_JWT_SECRET"      env-default:"dev-secret-change-me"`
	JWTIssuer      string        `yaml:"jwt_issuer"      env:"SHELF_JWT_ISSUER"      env-default:"mangashelf"`
	JWTDuration    time.Duration `yaml:"jwt_duration"    env:"SHELF_JWT_TTL"         env-default:"24h"`
	BootstrapAdmin string        `yaml:"bootstrap_admin" env:"SHELF_BOOTSTRAP_ADMIN"`
	CookieSecure   bool          `yaml:"cookie_secure"   env:"SHELF_COOKIE_SECURE"   env-default:"false"`
	LoginPerMinute int           `yaml:"login_per_minute" env:"SHELF_LOGIN_PER_MINUTE" env-default:"10"`
	LoginBurst     int           `yaml:"login_burst"     env:"SHELF_LOGIN_BURST"     env-default:"5"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"SHELF_LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"SHELF_LOG_FORMAT" env-default:"console"`
}

// RecommendConfig selects the recommendation engine. An empty EngineURL keeps
// scoring in-process.
type RecommendConfig struct {
	EngineURL        string        `yaml:"engine_url"        env:"RECOMMEND_ENGINE_URL"`
	Timeout          time.Duration `yaml:"timeout"           env:"RECOMMEND_TIMEOUT"           env-default:"10s"`
	BreakerFailures  uint32        `yaml:"breaker_failures"  env:"RECOMMEND_BREAKER_FAILURES"  env-default:"3"`
	BreakerOpenDelay time.Duration `yaml:"breaker_open_delay" env:"RECOMMEND_BREAKER_OPEN_DELAY" env-default:"30s"`
}

type ScraperConfig struct {
	MangaDexURL string        `yaml:"mangadex_url" env:"SHELF_MANGADEX_URL" env-default:"https://api.mangadex.org"`
	MirrorURL   string        `yaml:"mirror_url"   env:"SHELF_MIRROR_URL"   env-default:"http://localhost:9000"`
	Limit       int           `yaml:"limit"        env:"SHELF_SCRAPE_LIMIT" env-default:"50"`
	Timeout     time.Duration `yaml:"timeout"      env:"SHELF_SCRAPE_TIMEOUT" env-default:"20s"`
}

// Load reads configuration from the YAML file named by SHELF_CONFIG (fallback
// ./shelf.yaml) and the environment. A missing default file is not an error.
func Load() (*Config, error) {
	var cfg Config

	path := os.Getenv("SHELF_CONFIG")
	explicit := path != ""
	if !explicit {
		path = "./shelf.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.JWTDuration <= 0 {
		errs = append(errs, errors.New("auth.jwt_duration must be positive"))
	}
	if c.Auth.LoginPerMinute <= 0 || c.Auth.LoginBurst <= 0 {
		errs = append(errs, errors.New("auth login throttle must be positive"))
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		errs = append(errs, errors.New("server.base_path must start with /"))
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	return errors.Join(errs...)
}
