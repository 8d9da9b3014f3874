package reflectprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/ports"
	"mnemo/internal/storage"
)

// Anthropic is a Reflector backed by the Claude messages API, for callers
// preferring Claude as the consolidation model.
type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropic constructs a Claude-backed Reflector.
func NewAnthropic(apiKey, model string) *Anthropic {
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Reflect implements ports.Reflector.
func (a *Anthropic) Reflect(ctx context.Context, existing []storage.Fact, turns []storage.Turn) (ports.ReflectorOutput, error) {
	prompt := buildPrompt(existing, turns)

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return ports.ReflectorOutput{}, fmt.Errorf("%w: reflect anthropic message: %v", mnemoerr.ErrProvider, err)
	}

	var raw string
	for _, block := range msg.Content {
		if block.Type == "text" {
			raw += block.Text
		}
	}

	var parsed reflectResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return ports.ReflectorOutput{RawOutput: raw}, fmt.Errorf("%w: parse reflector output: %v", mnemoerr.ErrProvider, err)
	}

	actions := make([]ports.ReflectorAction, 0, len(parsed.Actions))
	for _, act := range parsed.Actions {
		actions = append(actions, ports.ReflectorAction{
			Kind:         ports.ReflectorActionKind(act.Kind),
			Content:      act.Content,
			Markers:      act.Markers,
			TargetFactID: act.TargetFactID,
			NewContent:   act.NewContent,
			NewMarkers:   act.NewMarkers,
			Reason:       act.Reason,
		})
	}

	return ports.ReflectorOutput{Typed: true, Actions: actions, RawOutput: raw}, nil
}

// extractJSON trims any leading/trailing prose Claude adds around the JSON
// object, taking the substring between the first '{' and the last '}'.
func extractJSON(s string) string {
	start := -1
	end := -1
	for i, r := range s {
		if r == '{' && start == -1 {
			start = i
		}
		if r == '}' {
			end = i
		}
	}
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
