package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dbwhisper/dbwhisper/internal/errs"
)

// HTTPEmbedder calls an Ollama-compatible embedding server over HTTP.
// It is safe for concurrent use.
type HTTPEmbedder struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewHTTPEmbedder creates an embedder for the server at endpoint serving
// the named model. The timeout bounds every embedding call.
func NewHTTPEmbedder(endpoint, model string, timeout time.Duration) *HTTPEmbedder {
	return &HTTPEmbedder{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed returns the embedding vector for text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindRetrieval, "cannot encode embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindRetrieval, "cannot build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.ErrKindTimeout, "embedding call cancelled", err)
		}
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "embedding server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.ErrKindRetrieval, fmt.Sprintf("embedding server returned %d", resp.StatusCode))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Wrap(errs.ErrKindRetrieval, "malformed embedding response", err)
	}
	if out.Error != "" {
		return nil, errs.New(errs.ErrKindRetrieval, "embedding failed: "+out.Error)
	}
	if len(out.Embedding) == 0 {
		return nil, errs.New(errs.ErrKindRetrieval, "embedding server returned an empty vector")
	}

	return out.Embedding, nil
}

// Ping embeds a short probe text so that model-loading cost and
// connectivity failures surface here, at a predictable point, instead of
// on the first real document.
func (e *HTTPEmbedder) Ping(ctx context.Context) error {
	_, err := e.Embed(ctx, "ping")
	return err
}
