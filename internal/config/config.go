// Package config loads the serve configuration: a YAML file overridden by
// WVSERVE_ environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. WVSERVE_SERVE_PORT.
const EnvPrefix = "WVSERVE"

type Config struct {
	Serve Serve `yaml:"serve" envconfig:"SERVE"`

	// Users maps a secret token to its user.
	Users map[string]User `yaml:"users" ignored:"true" validate:"required,min=1,dive,keys,required,endkeys"`

	// Devices lists WVD files. A device is addressed by its file name without
	// extension.
	Devices []string `yaml:"devices" envconfig:"DEVICES" validate:"required,min=1,dive,required"`
}

type User struct {
	Name    string   `yaml:"name" validate:"required"`
	Devices []string `yaml:"devices" validate:"required,min=1"`
}

type Serve struct {
	Host string `yaml:"host" envconfig:"HOST"`
	Port int64  `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`

	// Mode is release (or prod, production) or debug.
	Mode             string `yaml:"mode" envconfig:"MODE" validate:"omitempty,oneof=release prod production debug"`
	ForcePrivacyMode bool   `yaml:"force_privacy_mode" envconfig:"FORCE_PRIVACY_MODE"`

	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT" validate:"oneof=json text"`

	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// Default returns the configuration used for everything a file and the
// environment leave unset.
func Default() *Config {
	return &Config{
		Serve: Serve{
			Host:            "127.0.0.1",
			Port:            8786,
			Mode:            "release",
			LogLevel:        "info",
			LogFormat:       "text",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads the configuration file at path and applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints and that every user device exists.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	names := c.DevicePaths()
	if len(names) != len(c.Devices) {
		return fmt.Errorf("device names are not unique")
	}
	for token, user := range c.Users {
		if err := validate.Struct(user); err != nil {
			return fmt.Errorf("user %s...: %w", redact(token), err)
		}
		for _, device := range user.Devices {
			if _, ok := names[device]; !ok {
				return fmt.Errorf("user %q (%s...) has unknown device %q", user.Name, redact(token), device)
			}
		}
	}
	return nil
}

func redact(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4]
}

// DeviceName returns the name a device file is addressed by.
func DeviceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DevicePaths maps device names to their files.
func (c *Config) DevicePaths() map[string]string {
	paths := make(map[string]string, len(c.Devices))
	for _, path := range c.Devices {
		paths[DeviceName(path)] = path
	}
	return paths
}

// Address is the listen address of the server.
func (s Serve) Address() string {
	return s.Host + ":" + strconv.FormatInt(s.Port, 10)
}

// Release reports whether the server runs in release mode.
func (s Serve) Release() bool {
	switch s.Mode {
	case "", "release", "prod", "production":
		return true
	default:
		return false
	}
}
