package mcpmongo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mongo-mcp-go/pkg/outputgate"
	"github.com/vikashloomba/mongo-mcp-go/pkg/storemgr"
)

// Server exposes one MongoDB database over MCP. It owns the output gate and
// the connection manager, so no request state lives in package variables.
type Server struct {
	conns *storemgr.Manager
	gate  *outputgate.Gate
	opts  Options

	server *mcp.Server
	tool   *mcp.Tool
	schema *jsonschema.Resolved
	ops    map[string]operation
}

// NewServer builds a Server around conns. The connection is not dialed here;
// the first request that needs the store establishes it.
func NewServer(conns *storemgr.Manager, opts *Options) (*Server, error) {
	if conns == nil {
		return nil, fmt.Errorf("mcpmongo: connection manager is required")
	}
	options := opts.withDefaults()
	gate := options.Gate
	if gate == nil {
		gate = outputgate.New(os.Stdout)
		options.Gate = gate
	}

	inputSchema := queryInputSchema()
	resolved, err := inputSchema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("mcpmongo: resolve query schema: %w", err)
	}

	s := &Server{
		conns:  conns,
		gate:   gate,
		opts:   options,
		schema: resolved,
		tool: &mcp.Tool{
			Name:        queryToolName,
			Description: "Query a MongoDB collection with an optional filter, projection and limit",
			InputSchema: inputSchema,
		},
	}
	s.ops = s.operations()

	s.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:     true,
		HasResources: true,
	})
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "collection",
		Title:       "MongoDB collection",
		Description: "The first documents of a collection",
		MIMEType:    mimeJSON,
		URITemplate: options.Namespace.ResourceTemplateURI(),
	}, s.readResourceTemplate)
	s.server.AddReceivingMiddleware(s.pipeline)

	return s, nil
}

// Gate returns the output gate guarding the protocol channel.
func (s *Server) Gate() *outputgate.Gate { return s.gate }

// Options returns a copy of the effective options.
func (s *Server) Options() Options { return s.opts }

// MCPServer exposes the underlying SDK server for advanced scenarios.
func (s *Server) MCPServer() *mcp.Server { return s.server }

// Run serves a single session over t until the peer disconnects or ctx is
// cancelled.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	if s.opts.Preconnect {
		go s.preconnect(ctx)
	}
	return s.server.Run(ctx, s.wrapTransport(t))
}

// ServeIO serves newline-delimited JSON-RPC read from in, writing every
// response through the gate.
func (s *Server) ServeIO(ctx context.Context, in io.ReadCloser) error {
	return s.Run(ctx, s.gatedTransport(in))
}

// ServeStdio serves on os.Stdin and the gated stdout.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin)
}

// Connect starts a session over t without blocking, mainly for tests and
// embedding.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, s.wrapTransport(t), nil)
}

// Shutdown forces passthrough off and closes the store connection. Nothing
// reaches the protocol channel afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.gate.Disable()
	return s.conns.Close(ctx)
}

func (s *Server) wrapTransport(t mcp.Transport) mcp.Transport {
	if s.opts.RPCLogger == nil {
		return t
	}
	return &loggingTransport{delegate: t, logger: s.opts.RPCLogger}
}

func (s *Server) preconnect(ctx context.Context) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if _, err := s.conns.EnsureConnected(ctx); err != nil {
		s.logError("preconnect failed; retrying on first request", err)
	}
}

func (s *Server) opContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if s.opts.OperationTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, s.opts.OperationTimeout)
}

func (s *Server) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{slog.String("error", err.Error())}, args...)
	s.opts.Logger.Error(msg, attrs...)
}
