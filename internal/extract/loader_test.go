package extract

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoaderFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	loader := NewLoader(5*time.Second, 1024)
	data, err := loader.Load(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(data, []byte("image-bytes")) {
		t.Errorf("got %q", data)
	}
}

func TestLoaderFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	loader := NewLoader(5*time.Second, 1024)
	_, err := loader.Load(context.Background(), srv.URL)
	if kind, ok := KindOf(err); !ok || kind != KindRemoteFetchError {
		t.Errorf("expected RemoteFetchError, got %v (%v)", kind, err)
	}
}

func TestLoaderFetchTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	loader := NewLoader(5*time.Second, 1024)
	_, err := loader.Load(context.Background(), srv.URL)
	if kind, ok := KindOf(err); !ok || kind != KindRemoteFetchError {
		t.Errorf("expected RemoteFetchError, got %v (%v)", kind, err)
	}
}

func TestLoaderLocalPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipt.jpg")
	if err := os.WriteFile(path, []byte("local-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(0, 0)

	data, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("bare path: %v", err)
	}
	if !bytes.Equal(data, []byte("local-bytes")) {
		t.Errorf("bare path: got %q", data)
	}

	data, err = loader.Load(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("file url: %v", err)
	}
	if !bytes.Equal(data, []byte("local-bytes")) {
		t.Errorf("file url: got %q", data)
	}
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader(0, 0)
	_, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"))
	if kind, ok := KindOf(err); !ok || kind != KindImageNotFound {
		t.Errorf("expected ImageNotFound, got %v (%v)", kind, err)
	}
}

func TestLoaderUnsupportedSchemeFallsThrough(t *testing.T) {
	loader := NewLoader(0, 0)
	_, err := loader.Load(context.Background(), "ftp://example.com/receipt.jpg")
	if kind, ok := KindOf(err); !ok || kind != KindImageNotFound {
		t.Errorf("expected ImageNotFound, got %v (%v)", kind, err)
	}
}
