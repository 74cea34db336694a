package mcpmongo

import (
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mongo-mcp-go/pkg/outputgate"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent describes one JSON-RPC message crossing the transport.
type RPCLogEvent struct {
	Direction RPCDirection
	// Method is the request or notification method. For a response it is
	// the method of the request being answered, when that request was seen.
	Method string
	// ID is the request id, empty for notifications.
	ID string
	// SessionID is the transport's session identifier; stdio has none.
	SessionID string
	// Error is the error message carried by an error response.
	Error   string
	Message []byte
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// Options configure a Server instance.
type Options struct {
	// Implementation identifies the server's MCP implementation metadata.
	Implementation *mcp.Implementation
	// Namespace customizes how collections are exposed as resource URIs.
	// Defaults to SchemeNamespace{Scheme: "mongodb"}.
	Namespace NamespaceStrategy
	// Gate guards the protocol channel. Defaults to a gate over os.Stdout.
	Gate *outputgate.Gate
	// Logger receives structured diagnostics, normally the sideband log.
	Logger *slog.Logger
	// OperationTimeout bounds each store operation, connection included.
	OperationTimeout time.Duration
	// Preconnect dials the store when Run starts. Failures are logged and the
	// server retries lazily on the first request that needs the store.
	Preconnect bool
	// LogJSONRPC records every JSON-RPC message to Logger at debug level.
	LogJSONRPC bool
	// RPCLogger provides a custom logger for JSON-RPC traffic; it takes
	// precedence over LogJSONRPC.
	RPCLogger RPCLogger
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "mongo-mcp",
			Title:   "MongoDB MCP Server",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Namespace == nil {
		opts.Namespace = SchemeNamespace{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 30 * time.Second
	}
	if opts.RPCLogger == nil && opts.LogJSONRPC {
		logger := opts.Logger
		opts.RPCLogger = func(evt RPCLogEvent) {
			attrs := []any{
				slog.String("direction", string(evt.Direction)),
				slog.String("method", evt.Method),
			}
			if evt.ID != "" {
				attrs = append(attrs, slog.String("id", evt.ID))
			}
			if evt.SessionID != "" {
				attrs = append(attrs, slog.String("session_id", evt.SessionID))
			}
			if evt.Error != "" {
				attrs = append(attrs, slog.String("error", evt.Error))
			}
			attrs = append(attrs, slog.String("message", string(evt.Message)))
			logger.Debug("jsonrpc", attrs...)
		}
	}
	return opts
}
