package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/keeperhq/keeper/internal/extract"
	"github.com/keeperhq/keeper/internal/store"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// stubOracle returns a fixed extraction result.
type stubOracle struct {
	result extract.Result
}

func (o *stubOracle) Extract(ctx context.Context, message string, today time.Time) extract.Result {
	return o.result
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestServer(t *testing.T, st *store.Store) *server.MCPServer {
	t.Helper()
	return NewServer(ServerConfig{Store: st})
}

// callTool invokes an MCP tool through the JSON-RPC dispatch path.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{IsError: resp.Result.IsError}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}
	return callResult
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

func TestNewServer(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

func TestRememberTool(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	result := callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "My daughter Emma loves painting",
	})
	if result.IsError {
		t.Fatalf("remember failed: %s", getTextContent(t, result))
	}

	var payload struct {
		Response    string   `json:"response"`
		FactsStored int      `json:"facts_stored"`
		FactIDs     []string `json:"fact_ids"`
		Entities    []string `json:"entities"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing remember payload: %v", err)
	}
	if payload.FactsStored == 0 || len(payload.FactIDs) == 0 {
		t.Fatalf("expected stored facts, got %+v", payload)
	}
	if !strings.Contains(payload.Response, "Got it!") {
		t.Errorf("unexpected confirmation: %q", payload.Response)
	}
	if len(payload.Entities) != 1 || payload.Entities[0] != "Emma" {
		t.Errorf("expected Emma entity, got %v", payload.Entities)
	}
}

func TestRememberToolEmptyMessage(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	result := callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "   ",
	})
	if !result.IsError {
		t.Fatal("expected error for empty message")
	}
}

func TestSearchToolKeyword(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "I enjoy watercolor painting",
	})

	result := callTool(t, srv, "keeper_search", map[string]interface{}{
		"user_id": "signal:+15550001",
		"query":   "painting",
	})
	if result.IsError {
		t.Fatalf("search failed: %s", getTextContent(t, result))
	}

	var views []factView
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &views); err != nil {
		t.Fatalf("parsing search results: %v", err)
	}
	if len(views) == 0 {
		t.Fatal("expected at least one result")
	}
	if !strings.Contains(strings.ToLower(views[0].Content), "painting") {
		t.Errorf("unexpected result: %+v", views[0])
	}
}

func TestSearchToolUnknownCaller(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	result := callTool(t, srv, "keeper_search", map[string]interface{}{
		"user_id": "signal:+19990000",
		"query":   "anything",
	})
	if !result.IsError {
		t.Fatal("expected error for unknown caller")
	}
	if !strings.Contains(getTextContent(t, result), "no account") {
		t.Errorf("unexpected error text: %s", getTextContent(t, result))
	}
}

func TestSearchToolSemanticRequiresEmbedder(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "Emma loves painting",
	})

	result := callTool(t, srv, "keeper_search", map[string]interface{}{
		"user_id": "signal:+15550001",
		"query":   "art",
		"mode":    "semantic",
	})
	if !result.IsError {
		t.Fatal("expected error when no embedder configured")
	}
}

func TestSearchToolPermissions(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "My salary is 90k",
	})
	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550002",
		"message": "I like birdwatching",
	})

	result := callTool(t, srv, "keeper_search", map[string]interface{}{
		"user_id": "signal:+15550002",
		"query":   "salary",
	})
	if result.IsError {
		t.Fatalf("search failed: %s", getTextContent(t, result))
	}
	var views []factView
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &views); err != nil {
		t.Fatalf("parsing search results: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("stranger should see no results, got %d", len(views))
	}
}

func TestRecallToolByEntity(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "My daughter Emma loves painting",
	})

	result := callTool(t, srv, "keeper_recall", map[string]interface{}{
		"user_id": "signal:+15550001",
		"entity":  "emma",
	})
	if result.IsError {
		t.Fatalf("recall failed: %s", getTextContent(t, result))
	}

	var payload struct {
		Entity entityView `json:"entity"`
		Facts  []factView `json:"facts"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing recall payload: %v", err)
	}
	if payload.Entity.Name != "Emma" {
		t.Errorf("entity name = %q, want Emma", payload.Entity.Name)
	}
	if payload.Entity.Relationship != "daughter" {
		t.Errorf("relationship = %q, want daughter", payload.Entity.Relationship)
	}
	if len(payload.Facts) == 0 {
		t.Error("expected facts about Emma")
	}
}

func TestRecallToolByFactID(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	result := callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "The dentist appointment is urgent",
	})
	var remembered struct {
		FactIDs []string `json:"fact_ids"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &remembered); err != nil {
		t.Fatalf("parsing remember payload: %v", err)
	}
	if len(remembered.FactIDs) == 0 {
		t.Fatal("no fact ids returned")
	}

	result = callTool(t, srv, "keeper_recall", map[string]interface{}{
		"user_id": "signal:+15550001",
		"fact_id": remembered.FactIDs[0],
	})
	if result.IsError {
		t.Fatalf("recall failed: %s", getTextContent(t, result))
	}
	var view factView
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &view); err != nil {
		t.Fatalf("parsing fact view: %v", err)
	}
	if view.ID != remembered.FactIDs[0] {
		t.Errorf("fact id = %q, want %q", view.ID, remembered.FactIDs[0])
	}
	if view.Importance != 5 {
		t.Errorf("importance = %d, want 5 for urgent content", view.Importance)
	}
	if len(view.Tags) == 0 {
		t.Error("expected tags on recalled fact")
	}
}

func TestForgetTool(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	result := callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "I parked on level 3",
	})
	var remembered struct {
		FactIDs []string `json:"fact_ids"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &remembered); err != nil {
		t.Fatalf("parsing remember payload: %v", err)
	}

	result = callTool(t, srv, "keeper_forget", map[string]interface{}{
		"user_id": "signal:+15550001",
		"fact_id": remembered.FactIDs[0],
	})
	if result.IsError {
		t.Fatalf("forget failed: %s", getTextContent(t, result))
	}

	result = callTool(t, srv, "keeper_recall", map[string]interface{}{
		"user_id": "signal:+15550001",
		"fact_id": remembered.FactIDs[0],
	})
	if !result.IsError {
		t.Fatal("expected error recalling a deleted fact")
	}
}

func TestForgetToolIsOwnerOnly(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	result := callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "I parked on level 3",
	})
	var remembered struct {
		FactIDs []string `json:"fact_ids"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &remembered); err != nil {
		t.Fatalf("parsing remember payload: %v", err)
	}

	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550002",
		"message": "I like birdwatching",
	})

	result = callTool(t, srv, "keeper_forget", map[string]interface{}{
		"user_id": "signal:+15550002",
		"fact_id": remembered.FactIDs[0],
	})
	if !result.IsError {
		t.Fatal("expected error when a non-owner deletes a fact")
	}
}

func TestEntitiesTool(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "My daughter Emma loves painting",
	})
	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "My son Tom started soccer",
	})

	result := callTool(t, srv, "keeper_entities", map[string]interface{}{
		"user_id": "signal:+15550001",
	})
	if result.IsError {
		t.Fatalf("entities failed: %s", getTextContent(t, result))
	}
	var views []entityView
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &views); err != nil {
		t.Fatalf("parsing entities: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(views))
	}

	result = callTool(t, srv, "keeper_entities", map[string]interface{}{
		"user_id":      "signal:+15550001",
		"relationship": "daughter",
	})
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &views); err != nil {
		t.Fatalf("parsing filtered entities: %v", err)
	}
	if len(views) != 1 || views[0].Name != "Emma" {
		t.Fatalf("expected only Emma, got %v", views)
	}
}

func TestEventsTool(t *testing.T) {
	st := setupTestStore(t)
	oracle := &stubOracle{result: extract.Result{
		Confidence: 0.95,
		Source:     "oracle",
		Facts: []extract.Fact{{
			Content:      "Emma was born on March 15, 2010",
			Type:         "relationship",
			EntityName:   "Emma",
			EntityType:   "person",
			Relationship: "daughter",
		}},
	}}
	srv := NewServer(ServerConfig{Store: st, Oracle: oracle})

	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "My daughter Emma was born on March 15, 2010",
	})

	result := callTool(t, srv, "keeper_events", map[string]interface{}{
		"user_id": "signal:+15550001",
	})
	if result.IsError {
		t.Fatalf("events failed: %s", getTextContent(t, result))
	}
	var views []eventView
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &views); err != nil {
		t.Fatalf("parsing events: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 event, got %d", len(views))
	}
	if views[0].Title != "Emma's Birthday" {
		t.Errorf("title = %q, want Emma's Birthday", views[0].Title)
	}
	if !views[0].AllDay {
		t.Error("expected an all-day event")
	}
}

func TestShareAndRevokeTools(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:owner",
		"message": "I prefer window seats",
	})
	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:viewer",
		"message": "I like birdwatching",
	})

	search := func() []factView {
		res := callTool(t, srv, "keeper_search", map[string]interface{}{
			"user_id": "signal:viewer",
			"query":   "window",
		})
		if res.IsError {
			t.Fatalf("search failed: %s", getTextContent(t, res))
		}
		var views []factView
		if err := json.Unmarshal([]byte(getTextContent(t, res)), &views); err != nil {
			t.Fatalf("parsing search results: %v", err)
		}
		return views
	}

	if got := search(); len(got) != 0 {
		t.Fatalf("viewer should see nothing before the grant, got %d", len(got))
	}

	result := callTool(t, srv, "keeper_share", map[string]interface{}{
		"user_id":   "signal:owner",
		"viewer_id": "signal:viewer",
		"tier":      float64(2),
	})
	if result.IsError {
		t.Fatalf("share failed: %s", getTextContent(t, result))
	}
	if got := search(); len(got) != 1 {
		t.Fatalf("viewer should see the shared fact, got %d", len(got))
	}

	result = callTool(t, srv, "keeper_revoke", map[string]interface{}{
		"user_id":   "signal:owner",
		"viewer_id": "signal:viewer",
	})
	if result.IsError {
		t.Fatalf("revoke failed: %s", getTextContent(t, result))
	}
	if got := search(); len(got) != 0 {
		t.Fatalf("viewer should see nothing after revoke, got %d", len(got))
	}
}

func TestShareToolRejectsBadTier(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:owner",
		"message": "I prefer window seats",
	})
	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:viewer",
		"message": "I like birdwatching",
	})

	result := callTool(t, srv, "keeper_share", map[string]interface{}{
		"user_id":   "signal:owner",
		"viewer_id": "signal:viewer",
		"tier":      float64(7),
	})
	if !result.IsError {
		t.Fatal("expected error for out-of-range tier")
	}
}

func TestFamilyTool(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "I like birdwatching",
	})

	result := callTool(t, srv, "keeper_family", map[string]interface{}{
		"user_id":   "signal:+15550001",
		"action":    "join",
		"family_id": "fam-smith",
		"role":      "parent",
	})
	if result.IsError {
		t.Fatalf("join failed: %s", getTextContent(t, result))
	}

	result = callTool(t, srv, "keeper_family", map[string]interface{}{
		"user_id": "signal:+15550001",
		"action":  "list",
	})
	var families []string
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &families); err != nil {
		t.Fatalf("parsing families: %v", err)
	}
	if len(families) != 1 || families[0] != "fam-smith" {
		t.Fatalf("families = %v, want [fam-smith]", families)
	}

	result = callTool(t, srv, "keeper_family", map[string]interface{}{
		"user_id":   "signal:+15550001",
		"action":    "leave",
		"family_id": "fam-smith",
	})
	if result.IsError {
		t.Fatalf("leave failed: %s", getTextContent(t, result))
	}

	result = callTool(t, srv, "keeper_family", map[string]interface{}{
		"user_id": "signal:+15550001",
		"action":  "list",
	})
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &families); err != nil {
		t.Fatalf("parsing families: %v", err)
	}
	if len(families) != 0 {
		t.Fatalf("families after leave = %v, want none", families)
	}
}

func TestStatsTool(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	callTool(t, srv, "keeper_remember", map[string]interface{}{
		"user_id": "signal:+15550001",
		"message": "I like birdwatching",
	})

	result := callTool(t, srv, "keeper_stats", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("stats failed: %s", getTextContent(t, result))
	}
	var payload struct {
		Facts int64 `json:"facts"`
		Users int64 `json:"users"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing stats: %v", err)
	}
	if payload.Facts == 0 || payload.Users == 0 {
		t.Errorf("expected non-zero counts, got %+v", payload)
	}
}
