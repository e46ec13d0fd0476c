package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s, want /api/embeddings", r.URL.Path)
		}

		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q", req.Model)
		}
		if req.Prompt != "wifi password: hunter2" {
			t.Errorf("prompt = %q", req.Prompt)
		}

		w.Write([]byte(`{"embedding": [0.1, -0.2, 0.3]}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	vec, err := client.Generate(context.Background(), "wifi password: hunter2")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	want := []float32{0.1, -0.2, 0.3}
	if len(vec) != len(want) {
		t.Fatalf("len = %d, want %d", len(vec), len(want))
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("vec[%d] = %f, want %f", i, vec[i], want[i])
		}
	}
}

func TestGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Model: "missing"})
	if _, err := client.Generate(context.Background(), "text"); err == nil {
		t.Error("expected error")
	}
}
