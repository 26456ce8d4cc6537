package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type embeddingRequest struct {
	Input      json.RawMessage `json:"input"`
	Model      string          `json:"model"`
	Dimensions int             `json:"dimensions"`
}

func newEmbeddingServer(t *testing.T, requests *[]embeddingRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*requests = append(*requests, req)

		var inputs []string
		if err := json.Unmarshal(req.Input, &inputs); err != nil {
			var single string
			if err := json.Unmarshal(req.Input, &single); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			inputs = []string{single}
		}
		// Return data in reverse order to exercise index-based placement.
		data := make([]map[string]any, 0, len(inputs))
		for i := len(inputs) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(i), float64(len(inputs[i])), 0.5},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	var requests []embeddingRequest
	srv := newEmbeddingServer(t, &requests)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{
		APIKey:     "test",
		APIURL:     srv.URL,
		Model:      "text-embedding-3-small",
		Dimensions: 3,
	}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	emb, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(emb) != 3 || emb[1] != 5 || emb[2] != 0.5 {
		t.Errorf("embedding=%v", emb)
	}
	if len(requests) != 1 {
		t.Fatalf("requests=%d", len(requests))
	}
	if requests[0].Model != "text-embedding-3-small" || requests[0].Dimensions != 3 {
		t.Errorf("request=%+v", requests[0])
	}
	if e.Dimensions() != 3 {
		t.Errorf("Dimensions=%d", e.Dimensions())
	}
}

func TestOpenAIEmbedder_EmbedBatchOrdersByIndex(t *testing.T) {
	var requests []embeddingRequest
	srv := newEmbeddingServer(t, &requests)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test", APIURL: srv.URL, Model: "text-embedding-3-small"}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	embs, err := e.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(embs) != 3 {
		t.Fatalf("len=%d", len(embs))
	}
	for i, want := range []float32{1, 3, 2} {
		if embs[i][0] != float32(i) || embs[i][1] != want {
			t.Errorf("embs[%d]=%v", i, embs[i])
		}
	}
	if requests[0].Dimensions != 0 {
		t.Errorf("dimensions should be omitted when unset, got %d", requests[0].Dimensions)
	}

	empty, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty batch: %v, %v", empty, err)
	}
	if len(requests) != 1 {
		t.Errorf("empty batch should not call the API")
	}
}

func TestOpenAIEmbedder_DefaultModel(t *testing.T) {
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Dimensions() != 1536 {
		t.Errorf("Dimensions=%d, want 1536", e.Dimensions())
	}
	if _, err := NewOpenAIEmbedder(OpenAIConfig{}, nil); err == nil {
		t.Error("expected error without api key")
	}
}

func TestOpenAIEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test", APIURL: srv.URL, Model: "m"}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}
