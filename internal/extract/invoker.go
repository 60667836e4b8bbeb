package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Invoker sends a prompt plus an image to an ollama-compatible
// /api/generate endpoint and returns the model's raw text answer.
type Invoker struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewInvoker builds an invoker against the given provider base URL.
func NewInvoker(providerURL, model string, timeout time.Duration) *Invoker {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Invoker{
		endpoint: strings.TrimRight(providerURL, "/") + "/api/generate",
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Invoke performs a single non-streaming generation call. Transport
// failures and non-2xx statuses classify as ModelUnavailable; a successful
// call with no usable text classifies as EmptyModelResponse.
func (v *Invoker) Invoke(ctx context.Context, prompt string, image []byte) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  v.model,
		Prompt: prompt,
		Images: []string{base64.StdEncoding.EncodeToString(image)},
		Stream: false,
	})
	if err != nil {
		return "", classified(KindModelUnavailable, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", classified(KindModelUnavailable, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", classified(KindModelUnavailable, "call model backend", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", classified(KindModelUnavailable,
			fmt.Sprintf("model backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", classified(KindModelUnavailable, "decode model response", err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", classified(KindEmptyModelResponse, "model returned no text", nil)
	}
	return out.Response, nil
}
