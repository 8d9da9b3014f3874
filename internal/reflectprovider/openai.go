// Package reflectprovider implements the Reflector interface against chat
// completion backends, grounded on the teacher's chat-completion request
// shape and JSON-mode action parsing (internal/llm.Provider /
// internal/llm/openai_client.go).
package reflectprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog/log"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/observability"
	"mnemo/internal/ports"
	"mnemo/internal/storage"
)

// OpenAI is a Reflector backed by an OpenAI-compatible chat completions
// endpoint, using JSON mode to get a typed-action array back.
type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
}

// NewOpenAI constructs a chat-completion-backed Reflector. baseURL may
// point at any OpenAI-compatible server (vLLM, llama.cpp, etc.).
func NewOpenAI(baseURL, apiKey, model string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: openai.ChatModel(model)}
}

// reflectAction mirrors ports.ReflectorAction for JSON decoding of the
// model's structured output.
type reflectAction struct {
	Kind         string   `json:"kind"`
	Content      string   `json:"content,omitempty"`
	Markers      []string `json:"markers,omitempty"`
	TargetFactID string   `json:"target_fact_id,omitempty"`
	NewContent   string   `json:"new_content,omitempty"`
	NewMarkers   []string `json:"new_markers,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

type reflectResponse struct {
	Actions []reflectAction `json:"actions"`
}

// Reflect implements ports.Reflector.
func (o *OpenAI) Reflect(ctx context.Context, existing []storage.Fact, turns []storage.Turn) (ports.ReflectorOutput, error) {
	prompt := buildPrompt(existing, turns)

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return ports.ReflectorOutput{}, fmt.Errorf("%w: reflect chat completion: %v", mnemoerr.ErrProvider, err)
	}
	if len(resp.Choices) == 0 {
		return ports.ReflectorOutput{}, fmt.Errorf("%w: reflector returned no choices", mnemoerr.ErrProvider)
	}

	raw := resp.Choices[0].Message.Content
	var parsed reflectResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		log.Debug().Str("raw", string(observability.RedactJSON(json.RawMessage(raw)))).Msg("reflectprovider: unparseable reflector output")
		return ports.ReflectorOutput{RawOutput: raw}, fmt.Errorf("%w: parse reflector output: %v", mnemoerr.ErrProvider, err)
	}

	actions := make([]ports.ReflectorAction, 0, len(parsed.Actions))
	for _, a := range parsed.Actions {
		actions = append(actions, ports.ReflectorAction{
			Kind:         ports.ReflectorActionKind(a.Kind),
			Content:      a.Content,
			Markers:      a.Markers,
			TargetFactID: a.TargetFactID,
			NewContent:   a.NewContent,
			NewMarkers:   a.NewMarkers,
			Reason:       a.Reason,
		})
	}

	return ports.ReflectorOutput{Typed: true, Actions: actions, RawOutput: raw}, nil
}

const systemPrompt = `You consolidate a conversation's new turns against a set of existing facts.
Respond with a JSON object {"actions": [...]} where each action has a "kind"
of "add", "update", "remove", or "keep". "add" actions carry "content" and
"markers"; "update" actions carry "target_fact_id", "new_content", and
"new_markers"; "remove" actions carry "target_fact_id" and "reason"; "keep"
actions carry only "target_fact_id". Only emit actions that are warranted by
the turns provided.`

func buildPrompt(existing []storage.Fact, turns []storage.Turn) string {
	b, _ := json.Marshal(struct {
		ExistingFacts []storage.Fact `json:"existing_facts"`
		Turns         []storage.Turn `json:"turns"`
	}{existing, turns})
	return string(b)
}
