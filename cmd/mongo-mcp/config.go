package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"

	"github.com/vikashloomba/mongo-mcp-go/pkg/storemgr"
)

// Config is the process configuration. Sources apply in order: built-in
// defaults, the environment, an optional TOML file, then the positional
// connection string and flags.
type Config struct {
	// URI is the MongoDB connection string. ENV: MONGODB_URI
	URI string `env:"MONGODB_URI" toml:"uri"`
	// Client carries the driver settings. ENV: MONGODB_*
	Client storemgr.ClientOptions `toml:"client"`
	// LogFile is the sideband log path. ENV: MONGO_MCP_LOG_FILE
	LogFile string `env:"MONGO_MCP_LOG_FILE" toml:"log_file"`
	// LogLevel is one of debug, info, warn, error. ENV: MONGO_MCP_LOG_LEVEL
	LogLevel string `env:"MONGO_MCP_LOG_LEVEL,default=info" toml:"log_level"`
	// Scheme prefixes resource URIs. ENV: MONGO_MCP_URI_SCHEME
	Scheme string `env:"MONGO_MCP_URI_SCHEME,default=mongodb" toml:"uri_scheme"`
	// Preconnect dials the store at startup. ENV: MONGO_MCP_PRECONNECT
	Preconnect bool `env:"MONGO_MCP_PRECONNECT,default=true" toml:"preconnect"`
	// LogJSONRPC records protocol traffic in the sideband log. ENV: MONGO_MCP_LOG_JSONRPC
	LogJSONRPC bool `env:"MONGO_MCP_LOG_JSONRPC,default=false" toml:"log_jsonrpc"`
	// OperationTimeout bounds each request's store work. ENV: MONGO_MCP_OPERATION_TIMEOUT
	OperationTimeout time.Duration `env:"MONGO_MCP_OPERATION_TIMEOUT,default=30s" toml:"operation_timeout"`
}

func defaultConfig() Config {
	return Config{
		Client:           storemgr.DefaultClientOptions(),
		LogLevel:         "info",
		Scheme:           "mongodb",
		Preconnect:       true,
		OperationTimeout: 30 * time.Second,
	}
}

// loadConfig decodes the environment over the defaults. An environment with
// no relevant variables is not an error.
func loadConfig() (Config, error) {
	cfg := defaultConfig()
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// applyFile overlays the TOML file at path. ${VAR} references are expanded
// from the environment first so secrets can stay out of the file. Keys the
// file does not set keep their current values.
func (c *Config) applyFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	expanded := envRef.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
	md, err := toml.Decode(expanded, c)
	if err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %s: unknown keys %v", path, undecoded)
	}
	return nil
}

// applyArgs lets a positional connection string win over MONGODB_URI.
func (c *Config) applyArgs(args []string) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		c.URI = strings.TrimSpace(args[0])
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.URI) == "" {
		return errors.New("a MongoDB connection string is required (argument or MONGODB_URI)")
	}
	if c.Scheme == "" || strings.ContainsAny(c.Scheme, ":/") {
		return fmt.Errorf("invalid resource uri scheme %q", c.Scheme)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c Config) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return lvl, nil
}
