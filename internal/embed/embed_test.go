package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{
		Provider:    "ollama",
		Model:       "test-model",
		Endpoint:    server.URL,
		MaxRetries:  0,
		TimeoutSecs: 5,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func vectorReply(t *testing.T, w http.ResponseWriter, vectors map[int][]float32) {
	t.Helper()
	var data []map[string]any
	for idx, vec := range vectors {
		data = append(data, map[string]any{"embedding": vec, "index": idx})
	}
	if err := json.NewEncoder(w).Encode(map[string]any{"data": data}); err != nil {
		t.Fatalf("encoding reply: %v", err)
	}
}

func TestEmbedSingle(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.Input) != 1 || req.Input[0] != "hello" {
			t.Errorf("input = %v", req.Input)
		}
		vectorReply(t, w, map[int][]float32{0: {0.1, 0.2, 0.3}})
	})

	vec, err := client.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("vector length = %d", len(vec))
	}
	if client.Dimensions() != 3 {
		t.Errorf("Dimensions() = %d", client.Dimensions())
	}
}

func TestEmbedEmptyText(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty text")
	})
	if _, err := client.Embed(context.Background(), "   "); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestEmbedBatchPreservesPositions(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Two non-empty inputs; reply out of order.
		vectorReply(t, w, map[int][]float32{1: {2}, 0: {1}})
	})

	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if vecs[1] != nil {
		t.Errorf("empty text should map to nil vector, got %v", vecs[1])
	}
	if len(vecs[0]) != 1 || vecs[0][0] != 1 {
		t.Errorf("vecs[0] = %v", vecs[0])
	}
	if len(vecs[2]) != 1 || vecs[2][0] != 2 {
		t.Errorf("vecs[2] = %v", vecs[2])
	}
}

func TestEmbedPropagatesServerError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if _, err := client.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error from failing endpoint")
	}
}

func TestParseFlag(t *testing.T) {
	config, err := ParseFlag("openai/text-embedding-3-small")
	if err != nil {
		t.Fatalf("ParseFlag: %v", err)
	}
	if config.Provider != "openai" || config.Model != "text-embedding-3-small" {
		t.Errorf("config = %+v", config)
	}
	if config.Endpoint != "https://api.openai.com/v1/embeddings" {
		t.Errorf("endpoint = %q", config.Endpoint)
	}

	if _, err := ParseFlag(""); err == nil {
		t.Error("expected error for empty flag")
	}
	if _, err := ParseFlag("sparkly/model"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestValidateRequiresKeyForHostedProviders(t *testing.T) {
	config := &Config{Provider: "openai", Model: "m", Endpoint: "https://x", MaxRetries: 1, TimeoutSecs: 5}
	if err := config.Validate(); err == nil {
		t.Error("expected missing-key error")
	}
	config.Provider = "ollama"
	if err := config.Validate(); err != nil {
		t.Errorf("ollama should not need a key: %v", err)
	}
}
