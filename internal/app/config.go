package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"

	envDevelopment = "development"
)

type Config struct {
	Port              string        `koanf:"port"`
	Env               string        `koanf:"env"`
	JWTSecret         string        `koanf:"jwt-secret"`
	TokenTTL          time.Duration `koanf:"token-ttl"`
	Store             string        `koanf:"store"`
	MongoURI          string        `koanf:"mongo-uri"`
	MongoDatabase     string        `koanf:"mongo-db"`
	ResetTokenTTL     time.Duration `koanf:"reset-token-ttl"`
	ResetURL          string        `koanf:"reset-url"`
	LogFormat         string        `koanf:"log-format"`
	HashCost          int           `koanf:"hash-cost"`
	AdminInitEnabled  bool          `koanf:"admin-init-enabled"`
	AdminInitName     string        `koanf:"admin-init-name"`
	AdminInitEmail    string        `koanf:"admin-init-email"`
	AdminInitPassword string        `koanf:"admin-init-password"`
}

var defaults = map[string]interface{}{
	"port":            "5000",
	"env":             "production",
	"token-ttl":       24 * time.Hour,
	"store":           StoreMongo,
	"mongo-uri":       "mongodb://127.0.0.1:27017",
	"mongo-db":        "users",
	"reset-token-ttl": time.Hour,
	"reset-url":       "http://localhost:5000/reset-password",
	"log-format":      "json",
	"hash-cost":       10,
	"admin-init-name": "Administrator",
}

// envKeys maps the environment variables the service reads to config keys.
var envKeys = map[string]string{
	"PORT":                "port",
	"NODE_ENV":            "env",
	"JWT_SECRET":          "jwt-secret",
	"TOKEN_TTL":           "token-ttl",
	"STORE":               "store",
	"MONGO_URI":           "mongo-uri",
	"MONGO_DB":            "mongo-db",
	"RESET_TOKEN_TTL":     "reset-token-ttl",
	"RESET_URL":           "reset-url",
	"LOG_FORMAT":          "log-format",
	"HASH_COST":           "hash-cost",
	"ADMIN_INIT_ENABLED":  "admin-init-enabled",
	"ADMIN_INIT_NAME":     "admin-init-name",
	"ADMIN_INIT_EMAIL":    "admin-init-email",
	"ADMIN_INIT_PASSWORD": "admin-init-password",
}

// BindFlags registers the config flags on fs. Only flags set explicitly
// override the other sources.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("port", "", "HTTP listen port")
	fs.String("env", "", "runtime mode (development or production)")
	fs.String("jwt-secret", "", "HMAC secret for identity tokens")
	fs.Duration("token-ttl", 0, "identity token lifetime")
	fs.String("store", "", "user store (mongo or memory)")
	fs.String("mongo-uri", "", "MongoDB connection string")
	fs.String("mongo-db", "", "MongoDB database name")
	fs.Duration("reset-token-ttl", 0, "password reset token lifetime")
	fs.String("reset-url", "", "base URL of logged password reset links")
	fs.String("log-format", "", "log format (json or text)")
	fs.Int("hash-cost", 0, "bcrypt cost")
}

// LoadConfig layers defaults, the optional YAML file at path, environment
// variables and explicitly set flags, in that order of precedence.
func LoadConfig(fs *pflag.FlagSet, path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", func(name string) string {
		return envKeys[name]
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret is required (JWT_SECRET)"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	if c.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("reset token ttl must be positive"))
	}
	switch c.Store {
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("mongo uri is required for the mongo store"))
		}
		if c.MongoDatabase == "" {
			errs = append(errs, errors.New("mongo database is required for the mongo store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("store must be %q or %q, got %q", StoreMongo, StoreMemory, c.Store))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("log format must be 'json' or 'text', got %q", c.LogFormat))
	}
	if c.AdminInitEnabled && (c.AdminInitEmail == "" || c.AdminInitPassword == "") {
		errs = append(errs, errors.New("admin init requires ADMIN_INIT_EMAIL and ADMIN_INIT_PASSWORD"))
	}
	return errors.Join(errs...)
}

func (c Config) IsDevelopment() bool {
	return c.Env == envDevelopment
}

func (c Config) Addr() string {
	return ":" + c.Port
}
