package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modinired/cesar-brain/internal/brain"
	"github.com/modinired/cesar-brain/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	b := brain.New(db, brain.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return New(db, b, 10, "test")
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("%s %s: bad json response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, payload
}

func TestHealth(t *testing.T) {
	s := testServer(t)

	rec, payload := doJSON(t, s, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if payload["status"] != "ok" || payload["db"] != true {
		t.Errorf("unexpected health payload: %v", payload)
	}
}

func TestMutateAndContext(t *testing.T) {
	s := testServer(t)

	rec, payload := doJSON(t, s, http.MethodPost, "/api/brain/mutate", `{
		"triggered_by": "agent-1",
		"actions": [
			{"action": "CREATE_NODE", "params": {"label": "Portfolio Optimization", "type": "knowledge", "initial_mass": 30}},
			{"action": "CREATE_NODE", "params": {"label": "Risk Models", "type": "knowledge", "initial_mass": 20}}
		]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("mutate status = %d: %s", rec.Code, rec.Body.String())
	}
	results := payload["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	first := results[0].(map[string]any)
	if first["success"] != true {
		t.Fatalf("first outcome failed: %v", first)
	}
	nodeID := first["result"].(map[string]any)["node_id"].(string)

	rec, _ = doJSON(t, s, http.MethodPost, "/api/brain/mutate", `{
		"actions": [
			{"action": "CREATE_LINK", "params": {"source_id": "`+nodeID+`", "target": "Risk Models", "weight": 0.8}}
		]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("link status = %d: %s", rec.Code, rec.Body.String())
	}

	rec, payload = doJSON(t, s, http.MethodGet, "/api/brain/context?q=portfolio", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("context status = %d", rec.Code)
	}
	primary := payload["primary_node"].(map[string]any)
	if primary["label"] != "Portfolio Optimization" {
		t.Errorf("primary = %v", primary["label"])
	}
	neighbors := payload["neighbors"].([]any)
	if len(neighbors) != 1 {
		t.Errorf("neighbors = %d, want 1", len(neighbors))
	}
}

func TestMutatePartialFailure(t *testing.T) {
	s := testServer(t)

	rec, payload := doJSON(t, s, http.MethodPost, "/api/brain/mutate", `{
		"actions": [
			{"action": "UPDATE_MASS", "params": {"target_id": "ghost", "delta": 5}},
			{"action": "CREATE_NODE", "params": {"label": "survivor", "type": "concept", "initial_mass": 5}}
		]
	}`)
	// Batches report per-action outcomes, never a batch-level failure.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	results := payload["results"].([]any)
	first := results[0].(map[string]any)
	second := results[1].(map[string]any)
	if first["success"] != false || first["code"] != "not_found_error" {
		t.Errorf("first outcome = %v", first)
	}
	if second["success"] != true {
		t.Errorf("second outcome = %v", second)
	}
}

func TestMutateValidation(t *testing.T) {
	s := testServer(t)

	rec, _ := doJSON(t, s, http.MethodPost, "/api/brain/mutate", `{"actions": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", rec.Code)
	}

	rec, _ = doJSON(t, s, http.MethodPost, "/api/brain/mutate", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want 400", rec.Code)
	}
}

func TestContextRequiresQuery(t *testing.T) {
	s := testServer(t)

	rec, _ := doJSON(t, s, http.MethodGet, "/api/brain/context", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec, _ = doJSON(t, s, http.MethodGet, "/api/brain/context?q=x&max_neighbors=-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad max_neighbors status = %d, want 400", rec.Code)
	}
}

func TestContextMissReturnsEmpty(t *testing.T) {
	s := testServer(t)

	rec, payload := doJSON(t, s, http.MethodGet, "/api/brain/context?q=anything", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with empty context", rec.Code)
	}
	if _, ok := payload["primary_node"]; ok {
		t.Errorf("miss must omit the primary node: %v", payload)
	}
}

func TestStatsAndLog(t *testing.T) {
	s := testServer(t)

	doJSON(t, s, http.MethodPost, "/api/brain/mutate", `{
		"actions": [{"action": "CREATE_NODE", "params": {"label": "a", "type": "concept", "initial_mass": 5}}]
	}`)

	rec, payload := doJSON(t, s, http.MethodGet, "/api/brain/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	if payload["nodes"].(float64) != 1 || payload["mutations"].(float64) != 1 {
		t.Errorf("stats = %v", payload)
	}

	rec, payload = doJSON(t, s, http.MethodGet, "/api/brain/log", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("log status = %d", rec.Code)
	}
	if entries := payload["entries"].([]any); len(entries) != 1 {
		t.Errorf("log entries = %d, want 1", len(entries))
	}
}

func TestListNodes(t *testing.T) {
	s := testServer(t)

	doJSON(t, s, http.MethodPost, "/api/brain/mutate", `{
		"actions": [
			{"action": "CREATE_NODE", "params": {"label": "light", "type": "concept", "initial_mass": 5}},
			{"action": "CREATE_NODE", "params": {"label": "heavy", "type": "concept", "initial_mass": 50}}
		]
	}`)

	rec, payload := doJSON(t, s, http.MethodGet, "/api/brain/nodes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	nodes := payload["nodes"].([]any)
	if len(nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(nodes))
	}
	if nodes[0].(map[string]any)["label"] != "heavy" {
		t.Error("default order must be mass descending")
	}

	rec, payload = doJSON(t, s, http.MethodGet, "/api/brain/nodes?order=coldest&limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("coldest status = %d", rec.Code)
	}
	if nodes := payload["nodes"].([]any); len(nodes) != 1 {
		t.Errorf("limited nodes = %d, want 1", len(nodes))
	}

	rec, _ = doJSON(t, s, http.MethodGet, "/api/brain/nodes?order=alphabetical", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad order status = %d, want 400", rec.Code)
	}
}

func TestFieldsRoundTrip(t *testing.T) {
	s := testServer(t)

	rec, payload := doJSON(t, s, http.MethodPut, "/api/brain/fields",
		`{"name": "trading", "x": 100, "y": 200, "radius": 80, "strength": 0.6}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body.String())
	}
	fieldID := payload["id"].(string)
	if fieldID == "" {
		t.Fatal("expected a generated field id")
	}

	rec, payload = doJSON(t, s, http.MethodGet, "/api/brain/fields", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	fields := payload["fields"].([]any)
	if len(fields) != 1 {
		t.Fatalf("fields = %d, want 1", len(fields))
	}
	if fields[0].(map[string]any)["name"] != "trading" {
		t.Errorf("field = %v", fields[0])
	}

	// Re-putting the same id moves the field instead of duplicating it.
	rec, _ = doJSON(t, s, http.MethodPut, "/api/brain/fields",
		`{"id": "`+fieldID+`", "name": "trading", "x": 300, "y": 200, "radius": 80, "strength": 0.6}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("re-put status = %d", rec.Code)
	}
	_, payload = doJSON(t, s, http.MethodGet, "/api/brain/fields", "")
	fields = payload["fields"].([]any)
	if len(fields) != 1 {
		t.Fatalf("fields = %d after upsert, want 1", len(fields))
	}
	if fields[0].(map[string]any)["x"].(float64) != 300 {
		t.Errorf("field x = %v, want moved to 300", fields[0])
	}

	rec, _ = doJSON(t, s, http.MethodPut, "/api/brain/fields", `{"x": 1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("nameless field status = %d, want 400", rec.Code)
	}
}

func TestDecayEndpoint(t *testing.T) {
	s := testServer(t)

	rec, payload := doJSON(t, s, http.MethodPost, "/api/brain/decay", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("decay status = %d", rec.Code)
	}
	if payload["nodes_scanned"].(float64) != 0 {
		t.Errorf("decay report = %v", payload)
	}
}

func TestExportEndpoint(t *testing.T) {
	s := testServer(t)

	doJSON(t, s, http.MethodPost, "/api/brain/mutate", `{
		"actions": [{"action": "CREATE_NODE", "params": {"label": "Release Discipline", "type": "wisdom", "initial_mass": 50}}]
	}`)

	req := httptest.NewRequest(http.MethodPost, "/api/brain/export", strings.NewReader(`{"profile": "trader"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}
	var sample brain.ReplaySample
	line := strings.TrimSpace(rec.Body.String())
	if err := json.Unmarshal([]byte(line), &sample); err != nil {
		t.Fatalf("bad ndjson %q: %v", line, err)
	}
	if sample.Layer != store.LayerWisdom {
		t.Errorf("layer = %q, want wisdom", sample.Layer)
	}

	rec, _ = doJSON(t, s, http.MethodPost, "/api/brain/export", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing profile status = %d, want 400", rec.Code)
	}
}
