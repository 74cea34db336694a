package mcpmongo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mongo-mcp-go/pkg/mongoerr"
	"github.com/vikashloomba/mongo-mcp-go/pkg/storemgr"
)

const (
	methodListResources = "resources/list"
	methodReadResource  = "resources/read"
	methodListTools     = "tools/list"
	methodCallTool      = "tools/call"

	mimeJSON = "application/json"
	mimeText = "text/plain"
)

// storeFunc returns the connected store, dialing it on first use.
type storeFunc func() (storemgr.Store, error)

// operation is one pipeline-handled MCP method. An operation never writes
// to the protocol channel; its result, or its error rendered by
// errorEnvelope, is the single response for the request.
type operation func(ctx context.Context, store storeFunc, req mcp.Request) (mcp.Result, error)

func (s *Server) operations() map[string]operation {
	return map[string]operation{
		methodListResources: s.listResources,
		methodReadResource:  s.readResource,
		methodListTools:     s.listTools,
		methodCallTool:      s.callTool,
	}
}

// pipeline is the receiving middleware wrapping every supported method.
// Everything else (initialize, ping, templates) flows to the SDK untouched.
func (s *Server) pipeline(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		op, ok := s.ops[method]
		if !ok {
			return next(ctx, method, req)
		}
		return s.handle(ctx, method, op, req), nil
	}
}

// handle runs op inside a suppression window and converts any failure,
// panics included, into an error envelope. The window is closed before the
// SDK encodes and writes the result.
func (s *Server) handle(ctx context.Context, method string, op operation, req mcp.Request) mcp.Result {
	logger := s.opts.Logger.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("method", method),
	)
	start := time.Now()

	var result mcp.Result
	err := s.gate.WithSuppressed(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = mongoerr.Operation(method, fmt.Errorf("panic: %v", r))
			}
		}()
		opCtx, cancel := s.opContext(ctx)
		defer cancel()
		store := func() (storemgr.Store, error) {
			return s.conns.EnsureConnected(opCtx)
		}
		result, err = op(opCtx, store, req)
		return err
	})
	if err != nil {
		logger.Warn("request failed",
			slog.String("kind", string(mongoerr.KindOf(err))),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return s.errorEnvelope(method, req, err)
	}
	logger.Info("request handled", slog.Duration("duration", time.Since(start)))
	return result
}

// errorEnvelope renders err as the structurally valid failure result for
// method. It is the only place failures become protocol payloads.
func (s *Server) errorEnvelope(method string, req mcp.Request, err error) mcp.Result {
	msg := err.Error()
	switch method {
	case methodListResources:
		return &mcp.ListResourcesResult{
			Resources: []*mcp.Resource{},
			Meta:      mcp.Meta{"error": msg},
		}
	case methodReadResource:
		uri := ""
		if r, ok := req.(*mcp.ReadResourceRequest); ok && r.Params != nil {
			uri = r.Params.URI
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mimeText, Text: msg}},
		}
	case methodCallTool:
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.EmbeddedResource{
				Resource: &mcp.ResourceContents{URI: s.callTarget(req), MIMEType: mimeText, Text: msg},
			}},
		}
	default:
		return &mcp.ListToolsResult{Tools: []*mcp.Tool{}, Meta: mcp.Meta{"error": msg}}
	}
}

// callTarget best-effort names the resource a failed tool call addressed.
func (s *Server) callTarget(req mcp.Request) string {
	r, ok := req.(*mcp.CallToolRequest)
	if !ok || r.Params == nil {
		return s.opts.Namespace.ResourceURI("")
	}
	var target struct {
		Collection string `json:"collection"`
	}
	if r.Params.Name == queryToolName && len(r.Params.Arguments) > 0 {
		_ = json.Unmarshal(r.Params.Arguments, &target)
	}
	return s.opts.Namespace.ResourceURI(target.Collection)
}
