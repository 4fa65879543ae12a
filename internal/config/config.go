// Package config loads server configuration from an optional TOML file,
// environment variables, and flags, in that order of increasing precedence.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/nats-io/nats.go"
)

// Config holds the server settings.
type Config struct {
	NATSURL      string `toml:"nats_url"`
	HTTPAddr     string `toml:"http_addr"`
	SchemaBucket string `toml:"schema_bucket"`
	ConfigBucket string `toml:"config_bucket"`
	Debug        bool   `toml:"debug"`
	TestMode     bool   `toml:"test_mode"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		NATSURL:      nats.DefaultURL,
		HTTPAddr:     ":8081",
		SchemaBucket: "SCHEMAS",
		ConfigBucket: "CONFIG",
	}
}

// LoadFile overlays settings from a TOML file onto c. A missing file is an
// error; pass an empty path to skip.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	return nil
}

// BindFlags registers flags for every setting, seeded from the environment
// so that flags > env > file > defaults.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.NATSURL, "nats-url", getEnv("NATS_URL", c.NATSURL), "NATS server URL")
	fs.StringVar(&c.HTTPAddr, "http-addr", getEnv("HTTP_ADDR", c.HTTPAddr), "HTTP server address")
	fs.StringVar(&c.SchemaBucket, "schema-bucket", getEnv("SCHEMA_BUCKET", c.SchemaBucket), "JetStream KV bucket for schemas")
	fs.StringVar(&c.ConfigBucket, "config-bucket", getEnv("CONFIG_BUCKET", c.ConfigBucket), "JetStream KV bucket for configs")
	fs.BoolVar(&c.Debug, "debug", getEnvBool("DEBUG", c.Debug), "Enable debug logging")
	fs.BoolVar(&c.TestMode, "test", getEnvBool("TEST_MODE", c.TestMode), "Enable test mode with embedded NATS server")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return def
}
