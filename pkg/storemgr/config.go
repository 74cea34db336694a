package storemgr

import (
	"log/slog"
	"time"
)

// ClientOptions is the fixed table of driver settings passed through to the
// store client unmodified. Defaults can be loaded via envdecode; the toml
// tags name the keys of the [client] table in a config file.
type ClientOptions struct {
	// Database selects the database whose collections are exposed. When
	// empty, the database named in the connection string is used.
	Database string `env:"MONGODB_DATABASE" toml:"database"`
	// ConnectTimeout bounds establishing a single server connection.
	ConnectTimeout time.Duration `env:"MONGODB_CONNECT_TIMEOUT,default=10s" toml:"connect_timeout"`
	// SocketTimeout bounds individual socket reads and writes.
	SocketTimeout time.Duration `env:"MONGODB_SOCKET_TIMEOUT,default=45s" toml:"socket_timeout"`
	// ServerSelectionTimeout bounds how long an operation waits for a
	// suitable server.
	ServerSelectionTimeout time.Duration `env:"MONGODB_SERVER_SELECTION_TIMEOUT,default=10s" toml:"server_selection_timeout"`
	// RetryWrites and RetryReads toggle the driver's retryable operations.
	RetryWrites bool `env:"MONGODB_RETRY_WRITES,default=true" toml:"retry_writes"`
	RetryReads  bool `env:"MONGODB_RETRY_READS,default=true" toml:"retry_reads"`
	// MonitorCommands reports every driver command to the sideband log.
	MonitorCommands bool `env:"MONGODB_MONITOR_COMMANDS,default=false" toml:"monitor_commands"`
	// AppName is reported to the server during the handshake.
	AppName string `env:"MONGODB_APP_NAME,default=mongo-mcp" toml:"app_name"`
}

// DefaultClientOptions mirrors the envdecode defaults for callers that build
// options in code.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ConnectTimeout:         10 * time.Second,
		SocketTimeout:          45 * time.Second,
		ServerSelectionTimeout: 10 * time.Second,
		RetryWrites:            true,
		RetryReads:             true,
		AppName:                "mongo-mcp",
	}
}

// Suppressor opens an output suppression window around fn. *outputgate.Gate
// satisfies it.
type Suppressor interface {
	WithSuppressed(fn func() error) error
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// Client is passed to the Dialer on every connection attempt. Zero
	// durations fall back to DefaultClientOptions.
	Client ClientOptions
	// Gate wraps handle creation so nothing the driver prints reaches the
	// protocol channel. Optional.
	Gate Suppressor
	// Logger receives connection diagnostics; typically the sideband log.
	Logger *slog.Logger
}

func (o *ManagerOptions) normalized() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{Client: DefaultClientOptions()}
	}
	opts := *o
	defaults := DefaultClientOptions()
	if opts.Client.ConnectTimeout <= 0 {
		opts.Client.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.Client.SocketTimeout <= 0 {
		opts.Client.SocketTimeout = defaults.SocketTimeout
	}
	if opts.Client.ServerSelectionTimeout <= 0 {
		opts.Client.ServerSelectionTimeout = defaults.ServerSelectionTimeout
	}
	if opts.Client.AppName == "" {
		opts.Client.AppName = defaults.AppName
	}
	if opts.Gate == nil {
		opts.Gate = passthrough{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

type passthrough struct{}

func (passthrough) WithSuppressed(fn func() error) error { return fn() }
