package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInvokerSuccess(t *testing.T) {
	var gotPath string
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]string{"response": "```json\n{}\n```"})
	}))
	defer srv.Close()

	inv := NewInvoker(srv.URL, "test-model", 5*time.Second)
	out, err := inv.Invoke(context.Background(), "describe this", []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "```json\n{}\n```" {
		t.Errorf("got %q", out)
	}
	if gotPath != "/api/generate" {
		t.Errorf("path: got %q", gotPath)
	}
	if gotReq["model"] != "test-model" {
		t.Errorf("model: got %v", gotReq["model"])
	}
	if gotReq["stream"] != false {
		t.Errorf("stream: got %v", gotReq["stream"])
	}
	images, _ := gotReq["images"].([]any)
	if len(images) != 1 || images[0] != base64.StdEncoding.EncodeToString([]byte("img")) {
		t.Errorf("images: got %v", gotReq["images"])
	}
}

func TestInvokerBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := NewInvoker(srv.URL, "test-model", 5*time.Second)
	_, err := inv.Invoke(context.Background(), "p", nil)
	if kind, ok := KindOf(err); !ok || kind != KindModelUnavailable {
		t.Errorf("expected ModelUnavailable, got %v (%v)", kind, err)
	}
}

func TestInvokerUnreachable(t *testing.T) {
	inv := NewInvoker("http://127.0.0.1:1", "test-model", time.Second)
	_, err := inv.Invoke(context.Background(), "p", nil)
	if kind, ok := KindOf(err); !ok || kind != KindModelUnavailable {
		t.Errorf("expected ModelUnavailable, got %v (%v)", kind, err)
	}
}

func TestInvokerEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": "   \n  "})
	}))
	defer srv.Close()

	inv := NewInvoker(srv.URL, "test-model", 5*time.Second)
	_, err := inv.Invoke(context.Background(), "p", nil)
	if kind, ok := KindOf(err); !ok || kind != KindEmptyModelResponse {
		t.Errorf("expected EmptyModelResponse, got %v (%v)", kind, err)
	}
}
