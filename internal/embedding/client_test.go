package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEmbedSuccess(t *testing.T) {
	var gotPath string
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "embed-model", 5*time.Second)
	vec, err := c.Embed(context.Background(), "flat white")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vector: got %v", vec)
	}
	if gotPath != "/api/embeddings" {
		t.Errorf("path: got %q", gotPath)
	}
	if gotReq["model"] != "embed-model" || gotReq["prompt"] != "flat white" {
		t.Errorf("request: got %v", gotReq)
	}
}

func TestEmbedStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "embed-model", 5*time.Second)
	if _, err := c.Embed(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbedEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "embed-model", 5*time.Second)
	if _, err := c.Embed(context.Background(), "q"); err == nil {
		t.Fatal("expected error for empty vector")
	}
}
