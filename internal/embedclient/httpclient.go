// Package embedclient provides Embedder implementations against
// OpenAI-compatible embedding endpoints, grounded line-for-line on
// internal/embedding/client.go's request/response shapes and timeout
// handling.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mnemo/internal/mnemoerr"
)

// HTTPClient is an Embedder backed by a raw HTTP call against an
// OpenAI-compatible /embeddings endpoint.
type HTTPClient struct {
	baseURL   string
	path      string
	model     string
	apiKey    string
	apiHeader string
	dimension int
	timeout   time.Duration
	http      *http.Client
}

// HTTPClientOption configures an HTTPClient at construction time.
type HTTPClientOption func(*HTTPClient)

// WithTimeout overrides the default 30s per-call timeout.
func WithTimeout(d time.Duration) HTTPClientOption {
	return func(c *HTTPClient) { c.timeout = d }
}

// WithAPIHeader overrides the header used to carry the API key; "Authorization"
// sends "Bearer <key>", any other name sends the key verbatim under that header.
func WithAPIHeader(name string) HTTPClientOption {
	return func(c *HTTPClient) { c.apiHeader = name }
}

// WithHTTPClient overrides the underlying *http.Client, e.g. to wrap it with
// otelhttp instrumentation.
func WithHTTPClient(h *http.Client) HTTPClientOption {
	return func(c *HTTPClient) { c.http = h }
}

// NewHTTPClient constructs an HTTPClient against baseURL+path, declaring the
// fixed vector dimension the endpoint returns.
func NewHTTPClient(baseURL, path, model, apiKey string, dimension int, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:   baseURL,
		path:      path,
		model:     model,
		apiKey:    apiKey,
		apiHeader: "Authorization",
		dimension: dimension,
		timeout:   30 * time.Second,
		http:      http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Dimension implements ports.Embedder.
func (c *HTTPClient) Dimension() int { return c.dimension }

// Embed implements ports.Embedder, preserving input order in the output.
func (c *HTTPClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no inputs to embed", mnemoerr.ErrValidation)
	}

	body, err := json.Marshal(embedReq{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", mnemoerr.ErrProvider, err)
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", mnemoerr.ErrProvider, err)
	}
	if c.apiHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else if c.apiHeader != "" {
		req.Header.Set(c.apiHeader, c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embeddings request: %v", mnemoerr.ErrProvider, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", mnemoerr.ErrProvider, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: embeddings endpoint returned %s: %s", mnemoerr.ErrProvider, resp.Status, string(respBytes))
	}

	var er embedResp
	if err := json.Unmarshal(respBytes, &er); err != nil {
		return nil, fmt.Errorf("%w: parse embedding response: %v", mnemoerr.ErrProvider, err)
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings, want %d", mnemoerr.ErrProvider, len(er.Data), len(texts))
	}

	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}
