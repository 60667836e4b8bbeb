package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Loader resolves an image reference to raw bytes. It accepts http(s)
// URLs, file:// URLs, and bare filesystem paths.
type Loader struct {
	client   *http.Client
	maxBytes int64
}

// NewLoader builds a loader with a bounded fetch timeout and download size.
func NewLoader(timeout time.Duration, maxBytes int64) *Loader {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if maxBytes == 0 {
		maxBytes = 25 * 1024 * 1024
	}
	return &Loader{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Load fetches remote references and reads local ones. Unsupported schemes
// fall through to the local-path branch and fail as a missing file. No
// retry happens at this layer.
func (l *Loader) Load(ctx context.Context, ref string) ([]byte, error) {
	if u, err := url.Parse(ref); err == nil {
		switch u.Scheme {
		case "http", "https":
			return l.fetch(ctx, ref)
		case "file":
			return l.read(u.Path)
		}
	}
	return l.read(ref)
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, classified(KindRemoteFetchError, "build request", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, classified(KindRemoteFetchError, "fetch image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, classified(KindRemoteFetchError, fmt.Sprintf("fetch image: status %d", resp.StatusCode), nil)
	}

	limited := io.LimitReader(resp.Body, l.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, classified(KindRemoteFetchError, "read image body", err)
	}
	if int64(len(body)) > l.maxBytes {
		return nil, classified(KindRemoteFetchError, fmt.Sprintf("image too large (>%d bytes)", l.maxBytes), nil)
	}
	return body, nil
}

func (l *Loader) read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, classified(KindImageNotFound, fmt.Sprintf("receipt image not found at %s", path), err)
	}
	return data, nil
}
