package mcpmongo

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/google/jsonschema-go/jsonschema"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/vikashloomba/mongo-mcp-go/pkg/mongoerr"
	"github.com/vikashloomba/mongo-mcp-go/pkg/storemgr"
)

const (
	queryToolName = "query"

	// DefaultQueryLimit applies when a query omits limit.
	DefaultQueryLimit = 100
	// readResourceLimit caps the documents returned by resources/read.
	readResourceLimit = 10
)

// QuerySpec is the decoded argument object of the query tool.
type QuerySpec struct {
	Collection string
	Filter     bson.D
	Projection bson.D
	Limit      int64
}

// Query converts q into the store request type.
func (q QuerySpec) Query() storemgr.Query {
	return storemgr.Query{Filter: q.Filter, Projection: q.Projection, Limit: q.Limit}
}

func queryInputSchema() *jsonschema.Schema {
	zero := 0.0
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"collection": {
				Type:        "string",
				Description: "Name of the collection to query",
			},
			"filter": {
				Type:        "object",
				Description: "MongoDB query filter in relaxed Extended JSON",
				Default:     json.RawMessage(`{}`),
			},
			"projection": {
				Type:        "object",
				Description: "Fields to include or exclude",
				Default:     json.RawMessage(`{}`),
			},
			"limit": {
				Type:        "integer",
				Description: "Maximum number of documents to return",
				Minimum:     &zero,
				Default:     json.RawMessage(`100`),
			},
		},
		Required: []string{"collection"},
	}
}

// queryArgs decodes the raw tool arguments. Pointers distinguish absent
// fields from zero values.
type queryArgs struct {
	Collection string          `json:"collection"`
	Filter     json.RawMessage `json:"filter"`
	Projection json.RawMessage `json:"projection"`
	Limit      *float64        `json:"limit"`
}

// ParseQuerySpec validates raw tool arguments against schema and applies
// the QuerySpec defaults. The collection name is validated as well.
func ParseQuerySpec(schema *jsonschema.Resolved, raw json.RawMessage) (QuerySpec, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = json.RawMessage(`{}`)
	}
	var instance map[string]any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return QuerySpec{}, mongoerr.Validation("arguments", "arguments must be a JSON object: %v", err)
	}
	if schema != nil {
		if err := schema.Validate(instance); err != nil {
			return QuerySpec{}, mongoerr.Validation("arguments", "invalid arguments: %v", err)
		}
	}
	var args queryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return QuerySpec{}, mongoerr.Validation("arguments", "invalid arguments: %v", err)
	}

	name, err := ValidateCollectionName(args.Collection)
	if err != nil {
		return QuerySpec{}, err
	}
	filter, err := decodeDocument("filter", args.Filter)
	if err != nil {
		return QuerySpec{}, err
	}
	projection, err := decodeDocument("projection", args.Projection)
	if err != nil {
		return QuerySpec{}, err
	}
	limit := int64(DefaultQueryLimit)
	if args.Limit != nil {
		l := *args.Limit
		if l < 0 || l != math.Trunc(l) || l > math.MaxInt64 {
			return QuerySpec{}, mongoerr.Validation("arguments", "limit must be a non-negative integer, got %v", l)
		}
		limit = int64(l)
	}
	return QuerySpec{Collection: name, Filter: filter, Projection: projection, Limit: limit}, nil
}

// decodeDocument parses a relaxed Extended JSON object, so filters can use
// {"$oid": ...} and {"$date": ...} literals. Absent or null yields an empty
// document.
func decodeDocument(field string, raw json.RawMessage) (bson.D, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return bson.D{}, nil
	}
	if raw[0] != '{' {
		return nil, mongoerr.Validation("arguments", "%s must be an object", field)
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, mongoerr.Validation("arguments", "invalid %s: %v", field, err)
	}
	if doc == nil {
		doc = bson.D{}
	}
	return doc, nil
}

// encodeDocuments renders documents as an indented JSON array using relaxed
// Extended JSON, so ObjectIDs and dates survive as {"$oid"} / {"$date"}.
// Fields appear in the order the store returned them.
func encodeDocuments(docs []bson.D) (string, error) {
	items := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		b, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return "", mongoerr.Operation("encode", err)
		}
		items = append(items, b)
	}
	out, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", mongoerr.Operation("encode", err)
	}
	return string(out), nil
}
