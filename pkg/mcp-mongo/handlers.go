package mcpmongo

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mongo-mcp-go/pkg/mongoerr"
	"github.com/vikashloomba/mongo-mcp-go/pkg/storemgr"
)

func (s *Server) listResources(ctx context.Context, store storeFunc, _ mcp.Request) (mcp.Result, error) {
	st, err := store()
	if err != nil {
		return nil, err
	}
	collections, err := st.ListCollections(ctx)
	if err != nil {
		return nil, mongoerr.Operation("listCollections", err)
	}
	resources := make([]*mcp.Resource, 0, len(collections))
	for _, c := range collections {
		resources = append(resources, &mcp.Resource{
			URI:      s.opts.Namespace.ResourceURI(c.Name),
			MIMEType: mimeJSON,
			Name:     c.Name + " collection",
		})
	}
	return &mcp.ListResourcesResult{Resources: resources}, nil
}

func (s *Server) readResource(ctx context.Context, store storeFunc, req mcp.Request) (mcp.Result, error) {
	r, ok := req.(*mcp.ReadResourceRequest)
	if !ok || r.Params == nil || r.Params.URI == "" {
		return nil, mongoerr.Protocol("readResource", "missing resource uri")
	}
	uri := r.Params.URI
	name, err := ValidateCollectionName(s.opts.Namespace.CollectionName(uri))
	if err != nil {
		return nil, err
	}
	text, err := s.find(ctx, store, name, storemgr.Query{Limit: readResourceLimit})
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mimeJSON, Text: text}},
	}, nil
}

// readResourceTemplate serves template matches that reach the SDK's own
// resource routing; it goes through the same pipeline as resources/read.
func (s *Server) readResourceTemplate(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	res, _ := s.handle(ctx, methodReadResource, s.readResource, req).(*mcp.ReadResourceResult)
	return res, nil
}

func (s *Server) listTools(context.Context, storeFunc, mcp.Request) (mcp.Result, error) {
	return &mcp.ListToolsResult{Tools: []*mcp.Tool{s.tool}}, nil
}

func (s *Server) callTool(ctx context.Context, store storeFunc, req mcp.Request) (mcp.Result, error) {
	r, ok := req.(*mcp.CallToolRequest)
	if !ok || r.Params == nil {
		return nil, mongoerr.Protocol("callTool", "missing tool call parameters")
	}
	if r.Params.Name != queryToolName {
		return nil, mongoerr.Validation("callTool", "unknown tool: %s", r.Params.Name)
	}
	spec, err := ParseQuerySpec(s.schema, r.Params.Arguments)
	if err != nil {
		return nil, err
	}
	text, err := s.find(ctx, store, spec.Collection, spec.Query())
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.EmbeddedResource{
			Resource: &mcp.ResourceContents{
				URI:      s.opts.Namespace.ResourceURI(spec.Collection),
				MIMEType: mimeJSON,
				Text:     text,
			},
		}},
	}, nil
}

func (s *Server) find(ctx context.Context, store storeFunc, collection string, q storemgr.Query) (string, error) {
	st, err := store()
	if err != nil {
		return "", err
	}
	docs, err := st.Find(ctx, collection, q)
	if err != nil {
		return "", mongoerr.Operation("find", err)
	}
	return encodeDocuments(docs)
}
