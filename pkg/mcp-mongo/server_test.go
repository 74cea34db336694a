package mcpmongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/vikashloomba/mongo-mcp-go/pkg/outputgate"
	"github.com/vikashloomba/mongo-mcp-go/pkg/storemgr"
)

type fakeStore struct {
	mu          sync.Mutex
	collections []string
	docs        map[string][]bson.D
	listErr     error
	pingErr     error
	findErr     error
	queries     []storemgr.Query
	onFind      func()
}

func (f *fakeStore) ListCollections(context.Context) ([]storemgr.CollectionInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]storemgr.CollectionInfo, 0, len(f.collections))
	for _, name := range f.collections {
		out = append(out, storemgr.CollectionInfo{Name: name})
	}
	return out, nil
}

func (f *fakeStore) Find(_ context.Context, collection string, q storemgr.Query) ([]bson.D, error) {
	if f.onFind != nil {
		f.onFind()
	}
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	docs := f.docs[collection]
	if q.Limit > 0 && int64(len(docs)) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) Close(context.Context) error { return nil }

func (f *fakeStore) lastQuery() storemgr.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func newFakeStore() *fakeStore {
	alpha := make([]bson.D, 0, 15)
	for i := 0; i < 15; i++ {
		alpha = append(alpha, bson.D{{Key: "name", Value: fmt.Sprintf("doc-%02d", i)}, {Key: "kind", Value: "alpha"}})
	}
	return &fakeStore{
		collections: []string{"alpha", "beta"},
		docs: map[string][]bson.D{
			"alpha": alpha,
			"beta":  {{{Key: "name", Value: "only"}}},
		},
	}
}

func lookup(doc bson.D, key string) any {
	for _, e := range doc {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

type harness struct {
	server  *Server
	gate    *outputgate.Gate
	conns   *storemgr.Manager
	session *mcp.ClientSession
	dials   *atomic.Int32
}

func newHarness(t *testing.T, store storemgr.Store, dialErr error) *harness {
	t.Helper()
	var dials atomic.Int32
	dial := func(context.Context, string, storemgr.ClientOptions) (storemgr.Store, error) {
		dials.Add(1)
		if dialErr != nil {
			return nil, dialErr
		}
		return store, nil
	}
	gate := outputgate.New(io.Discard)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conns := storemgr.NewManager("mongodb://fake", dial, &storemgr.ManagerOptions{Gate: gate, Logger: logger})

	srv, err := NewServer(conns, &Options{Gate: gate, Logger: logger})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := srv.Connect(ctx, serverTransport)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "mongo-mcp-tests", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })

	return &harness{server: srv, gate: gate, conns: conns, session: session, dials: &dials}
}

func resourceText(t *testing.T, content mcp.Content) *mcp.ResourceContents {
	t.Helper()
	embedded, ok := content.(*mcp.EmbeddedResource)
	if !ok || embedded.Resource == nil {
		t.Fatalf("expected embedded resource content, got %T", content)
	}
	return embedded.Resource
}

func TestListResourcesPreservesStoreOrder(t *testing.T) {
	h := newHarness(t, newFakeStore(), nil)
	ctx := context.Background()

	res, err := h.session.ListResources(ctx, nil)
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(res.Resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(res.Resources))
	}
	wantURIs := []string{"mongodb://alpha", "mongodb://beta"}
	for i, r := range res.Resources {
		if r.URI != wantURIs[i] {
			t.Fatalf("resource %d uri = %q, want %q", i, r.URI, wantURIs[i])
		}
		if r.MIMEType != "application/json" {
			t.Fatalf("resource %d mime = %q", i, r.MIMEType)
		}
	}
	if res.Resources[0].Name != "alpha collection" {
		t.Fatalf("unexpected resource name %q", res.Resources[0].Name)
	}
	if _, ok := res.Meta["error"]; ok {
		t.Fatalf("unexpected error meta: %v", res.Meta)
	}
}

func TestListResourcesFailureIsNonFatal(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("not authorized on app")
	h := newHarness(t, store, nil)

	res, err := h.session.ListResources(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListResources must succeed structurally: %v", err)
	}
	if len(res.Resources) != 0 {
		t.Fatalf("expected no resources, got %d", len(res.Resources))
	}
	msg, _ := res.Meta["error"].(string)
	if !strings.Contains(msg, "not authorized") {
		t.Fatalf("expected error meta, got %v", res.Meta)
	}
}

func TestReadResourceCapsDocuments(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, store, nil)

	res, err := h.session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: "mongodb://alpha"})
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(res.Contents) != 1 {
		t.Fatalf("expected one content item, got %d", len(res.Contents))
	}
	content := res.Contents[0]
	if content.URI != "mongodb://alpha" || content.MIMEType != "application/json" {
		t.Fatalf("unexpected content header: %+v", content)
	}
	var docs []map[string]any
	if err := json.Unmarshal([]byte(content.Text), &docs); err != nil {
		t.Fatalf("content is not a JSON array: %v", err)
	}
	if len(docs) != 10 {
		t.Fatalf("expected 10 documents, got %d", len(docs))
	}
	if q := store.lastQuery(); len(q.Filter) != 0 || q.Limit != 10 {
		t.Fatalf("unexpected query: %+v", q)
	}
}

func TestReadResourceSystemCollectionReturnsTextError(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, store, nil)

	res, err := h.session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: "mongodb://system.x"})
	if err != nil {
		t.Fatalf("ReadResource must not fail: %v", err)
	}
	if len(res.Contents) != 1 {
		t.Fatalf("expected one content item, got %d", len(res.Contents))
	}
	if res.Contents[0].MIMEType != "text/plain" {
		t.Fatalf("expected text/plain, got %q", res.Contents[0].MIMEType)
	}
	if !strings.Contains(res.Contents[0].Text, "system.x") {
		t.Fatalf("error should name the collection: %q", res.Contents[0].Text)
	}
	if len(store.queries) != 0 {
		t.Fatalf("invalid collection reached the store")
	}
}

func TestListToolsDoesNotTouchStore(t *testing.T) {
	h := newHarness(t, nil, errors.New("unreachable"))

	res, err := h.session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(res.Tools) != 1 || res.Tools[0].Name != "query" {
		t.Fatalf("unexpected tools: %+v", res.Tools)
	}
	schema, err := json.Marshal(res.Tools[0].InputSchema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	for _, field := range []string{`"collection"`, `"filter"`, `"projection"`, `"limit"`, `"required":["collection"]`} {
		if !strings.Contains(string(schema), field) {
			t.Fatalf("schema missing %s: %s", field, schema)
		}
	}
	if h.dials.Load() != 0 {
		t.Fatalf("tools/list dialed the store")
	}
}

func TestCallToolQueryAppliesLimit(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, store, nil)

	res, err := h.session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "query",
		Arguments: map[string]any{"collection": "alpha", "limit": 5},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	if len(res.Content) != 1 {
		t.Fatalf("expected one content item, got %d", len(res.Content))
	}
	rc := resourceText(t, res.Content[0])
	if rc.URI != "mongodb://alpha" || rc.MIMEType != "application/json" {
		t.Fatalf("unexpected content header: %+v", rc)
	}

	var docs []map[string]any
	if err := json.Unmarshal([]byte(rc.Text), &docs); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(docs) > 5 {
		t.Fatalf("expected at most 5 documents, got %d", len(docs))
	}
	q := store.lastQuery()
	if q.Limit != 5 || len(q.Filter) != 0 || len(q.Projection) != 0 {
		t.Fatalf("unexpected query: %+v", q)
	}

	// Round trip: the JSON text decodes to the raw store result.
	for i, doc := range docs {
		want := store.docs["alpha"][i]
		if doc["name"] != lookup(want, "name") || doc["kind"] != lookup(want, "kind") || len(doc) != len(want) {
			t.Fatalf("document %d = %v, want %v", i, doc, want)
		}
	}
}

func TestCallToolKeepsFieldOrder(t *testing.T) {
	store := newFakeStore()
	store.docs["ordered"] = []bson.D{{
		{Key: "zeta", Value: 1},
		{Key: "alpha", Value: 2},
		{Key: "mid", Value: bson.D{{Key: "y", Value: true}, {Key: "b", Value: false}}},
	}}
	h := newHarness(t, store, nil)

	var texts []string
	for i := 0; i < 5; i++ {
		res, err := h.session.CallTool(context.Background(), &mcp.CallToolParams{
			Name:      "query",
			Arguments: map[string]any{"collection": "ordered"},
		})
		if err != nil {
			t.Fatalf("CallTool: %v", err)
		}
		if res.IsError {
			t.Fatalf("unexpected tool error: %+v", res.Content)
		}
		texts = append(texts, resourceText(t, res.Content[0]).Text)
	}

	text := texts[0]
	order := []string{`"zeta"`, `"alpha"`, `"mid"`, `"y"`, `"b"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(text, key)
		if idx <= last {
			t.Fatalf("key %s out of stored order in %s", key, text)
		}
		last = idx
	}
	for i, other := range texts[1:] {
		if other != text {
			t.Fatalf("call %d rendered differently:\n%s\nvs\n%s", i+1, other, text)
		}
	}
}

func TestCallToolUnknownTool(t *testing.T) {
	h := newHarness(t, newFakeStore(), nil)

	res, err := h.session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "unknown",
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CallTool must not fail: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected tool error")
	}
	rc := resourceText(t, res.Content[0])
	if !strings.Contains(rc.Text, "unknown") || rc.MIMEType != "text/plain" {
		t.Fatalf("error should name the tool: %+v", rc)
	}
	if h.dials.Load() != 0 {
		t.Fatalf("unknown tool dialed the store")
	}
}

func TestCallToolFailuresBecomeErrorContent(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("operation exceeded time limit")
	h := newHarness(t, store, nil)

	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing collection", map[string]any{}, "collection"},
		{"system collection", map[string]any{"collection": "system.users"}, "system.users"},
		{"bad filter", map[string]any{"collection": "alpha", "filter": "nope"}, "filter"},
		{"store failure", map[string]any{"collection": "alpha"}, "exceeded time limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := h.session.CallTool(context.Background(), &mcp.CallToolParams{Name: "query", Arguments: tc.args})
			if err != nil {
				t.Fatalf("CallTool must not fail: %v", err)
			}
			if !res.IsError {
				t.Fatalf("expected tool error")
			}
			if rc := resourceText(t, res.Content[0]); !strings.Contains(rc.Text, tc.want) {
				t.Fatalf("error %q does not mention %q", rc.Text, tc.want)
			}
		})
	}
}

func TestConnectionFailureSurfacesPerRequest(t *testing.T) {
	h := newHarness(t, nil, errors.New("server selection timeout"))
	ctx := context.Background()

	res, err := h.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: "mongodb://alpha"})
	if err != nil {
		t.Fatalf("ReadResource must not fail: %v", err)
	}
	if res.Contents[0].MIMEType != "text/plain" || !strings.Contains(res.Contents[0].Text, "connection error") {
		t.Fatalf("expected connection error content, got %+v", res.Contents[0])
	}

	if _, err := h.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: "mongodb://alpha"}); err != nil {
		t.Fatalf("second ReadResource: %v", err)
	}
	if got := h.dials.Load(); got != 2 {
		t.Fatalf("expected a fresh attempt per request, got %d dials", got)
	}
	if h.conns.Status() != storemgr.StatusUninitialized {
		t.Fatalf("unexpected status %s", h.conns.Status())
	}
}

func TestRequestsShareOneConnection(t *testing.T) {
	h := newHarness(t, newFakeStore(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.session.ListResources(ctx, nil); err != nil {
				t.Errorf("ListResources: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := h.dials.Load(); got != 1 {
		t.Fatalf("expected one dial, got %d", got)
	}
}

func TestGatePassthroughRestoredAfterEveryRequest(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, store, nil)
	ctx := context.Background()

	var sawSuppressed atomic.Bool
	store.onFind = func() {
		if !h.gate.Passthrough() {
			sawSuppressed.Store(true)
		}
	}

	calls := []func() error{
		func() error { _, err := h.session.ListResources(ctx, nil); return err },
		func() error {
			_, err := h.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: "mongodb://alpha"})
			return err
		},
		func() error {
			_, err := h.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: "mongodb://$bad"})
			return err
		},
		func() error { _, err := h.session.ListTools(ctx, nil); return err },
		func() error {
			_, err := h.session.CallTool(ctx, &mcp.CallToolParams{Name: "query", Arguments: map[string]any{"collection": "beta"}})
			return err
		},
		func() error {
			_, err := h.session.CallTool(ctx, &mcp.CallToolParams{Name: "nope"})
			return err
		},
	}
	for i, call := range calls {
		before := h.gate.Passthrough()
		if err := call(); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if after := h.gate.Passthrough(); after != before {
			t.Fatalf("call %d changed passthrough from %v to %v", i, before, after)
		}
	}
	if !sawSuppressed.Load() {
		t.Fatalf("store work ran with passthrough enabled")
	}
}

func TestPanicInStoreBecomesEnvelope(t *testing.T) {
	store := newFakeStore()
	store.onFind = func() { panic("driver bug") }
	h := newHarness(t, store, nil)

	res, err := h.session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "query",
		Arguments: map[string]any{"collection": "alpha"},
	})
	if err != nil {
		t.Fatalf("CallTool must not fail: %v", err)
	}
	if !res.IsError || !strings.Contains(resourceText(t, res.Content[0]).Text, "driver bug") {
		t.Fatalf("expected panic to be reported as tool error: %+v", res.Content)
	}
	if !h.gate.Passthrough() {
		t.Fatalf("panic left the gate suppressed")
	}
}

func TestResourceTemplateAdvertised(t *testing.T) {
	h := newHarness(t, newFakeStore(), nil)

	res, err := h.session.ListResourceTemplates(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListResourceTemplates: %v", err)
	}
	if len(res.ResourceTemplates) != 1 || res.ResourceTemplates[0].URITemplate != "mongodb://{collection}" {
		t.Fatalf("unexpected templates: %+v", res.ResourceTemplates)
	}
}

func TestNewServerRequiresManager(t *testing.T) {
	if _, err := NewServer(nil, nil); err == nil {
		t.Fatalf("expected error without a connection manager")
	}
}
