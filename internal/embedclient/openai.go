package embedclient

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/observability"
)

// OpenAI is an Embedder backed by the official openai-go/v2 SDK, for callers
// who want a typed client instead of the raw HTTP path.
type OpenAI struct {
	client    openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// NewOpenAI constructs an OpenAI Embedder. baseURL may point at any
// OpenAI-compatible server.
func NewOpenAI(baseURL, apiKey, model string, dimension int) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithHTTPClient(observability.NewHTTPClient(nil, "embedder"))}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     openai.EmbeddingModel(model),
		dimension: dimension,
	}
}

// Dimension implements ports.Embedder.
func (o *OpenAI) Dimension() int { return o.dimension }

// Embed implements ports.Embedder.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no inputs to embed", mnemoerr.ErrValidation)
	}

	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: o.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai embeddings: %v", mnemoerr.ErrProvider, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings, want %d", mnemoerr.ErrProvider, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}
