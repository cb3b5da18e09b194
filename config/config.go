package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

const placeholderKey = "CHANGE_ME_IN_PRODUCTION"

const (
	AuthLocal     = "local"
	AuthDelegated = "delegated"

	DriverLocal  = "local"
	DriverRemote = "remote"
	DriverSQLite = "sqlite"
)

type Backend struct {
	URL        string `mapstructure:"url"`
	AnonKey    string `mapstructure:"anon_key"`
	ServiceKey string `mapstructure:"service_key"`
	JWTSecret  string `mapstructure:"jwt_secret"`
}

type Storage struct {
	Driver string `mapstructure:"driver"`
	Bucket string `mapstructure:"bucket"`
	Dir    string `mapstructure:"dir"`
}

type Uploads struct {
	ListenPort int    `mapstructure:"listen_port"`
	Dir        string `mapstructure:"dir"`
}

type Config struct {
	AppName       string  `mapstructure:"app_name"`
	ListenIP      string  `mapstructure:"listen_ip"`
	ListenPort    int     `mapstructure:"listen_port"`
	SessionKey    string  `mapstructure:"session_key"`
	SecureCookies bool    `mapstructure:"secure_cookies"`
	DBPath        string  `mapstructure:"db_path"`
	DefaultLang   string  `mapstructure:"default_lang"`
	AuthMode      string  `mapstructure:"auth_mode"`
	RecordStore   string  `mapstructure:"record_store"`
	PublicBaseURL string  `mapstructure:"public_base_url"`
	PageSize      int     `mapstructure:"page_size"`
	Backend       Backend `mapstructure:"backend"`
	Storage       Storage `mapstructure:"storage"`
	Uploads       Uploads `mapstructure:"uploads"`
}

var AppConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "ACKG")
	v.SetDefault("listen_ip", "127.0.0.1")
	v.SetDefault("listen_port", 8080)
	v.SetDefault("session_key", "")
	v.SetDefault("secure_cookies", false)
	v.SetDefault("db_path", "./ackg.db")
	v.SetDefault("default_lang", "fr")
	v.SetDefault("auth_mode", AuthLocal)
	v.SetDefault("record_store", DriverSQLite)
	v.SetDefault("public_base_url", "http://localhost:8080")
	v.SetDefault("page_size", 9)
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.anon_key", "")
	v.SetDefault("backend.service_key", "")
	v.SetDefault("backend.jwt_secret", "")
	v.SetDefault("storage.driver", DriverLocal)
	v.SetDefault("storage.bucket", "activity-images")
	v.SetDefault("storage.dir", "./data/storage")
	v.SetDefault("uploads.listen_port", 8090)
	v.SetDefault("uploads.dir", "./uploads")
}

// LoadConfig reads the JSON config file at path into AppConfig. A missing
// file is not an error: defaults and ACKG_* environment variables apply.
func LoadConfig(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("ACKG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		slog.Warn("config file not found, using defaults", "path", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	// If no key is provided or it's the placeholder, generate a secure random one
	if cfg.SessionKey == "" || cfg.SessionKey == placeholderKey {
		slog.Warn("no session key configured, generating a random key; sessions will be invalidated on restart")
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return err
		}
		cfg.SessionKey = hex.EncodeToString(randomKey)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Validate rejects unknown drivers and incomplete delegated setups.
func (c Config) Validate() error {
	switch c.AuthMode {
	case AuthLocal, AuthDelegated:
	default:
		return fmt.Errorf("invalid auth_mode %q", c.AuthMode)
	}
	switch c.RecordStore {
	case DriverSQLite, DriverRemote:
	default:
		return fmt.Errorf("invalid record_store %q", c.RecordStore)
	}
	switch c.Storage.Driver {
	case DriverLocal, DriverRemote:
	default:
		return fmt.Errorf("invalid storage.driver %q", c.Storage.Driver)
	}
	needsBackend := c.AuthMode == AuthDelegated || c.RecordStore == DriverRemote || c.Storage.Driver == DriverRemote
	if needsBackend && c.Backend.URL == "" {
		return errors.New("backend.url is required for delegated auth or remote stores")
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage.bucket is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("invalid page_size %d", c.PageSize)
	}
	return nil
}

// Addr is the listen address of the main site.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenIP, c.ListenPort)
}
