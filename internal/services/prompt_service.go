package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rahu7v3rma/soreal-sub001/internal/llm"
	"github.com/rahu7v3rma/soreal-sub001/internal/observability"
)

// Enhancement is the response of PromptService.Enhance.
type Enhancement struct {
	Prompt         string `json:"prompt"`
	EnhancedPrompt string `json:"enhanced_prompt"`
}

// PromptService rewrites prompts through the LLM.
type PromptService struct {
	Enhancer       llm.Enhancer
	MaxPromptRunes int
}

// Enhance validates the prompt and returns the rewritten version.
func (s *PromptService) Enhance(ctx context.Context, prompt string) (*Enhancement, error) {
	prompt = strings.Join(strings.Fields(prompt), " ")
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(prompt) > s.MaxPromptRunes {
		return nil, ErrPromptTooLong
	}

	ctx, span := observability.Tracer("services/PromptService").Start(ctx, "Enhance",
		trace.WithAttributes(attribute.Int("prompt.runes", utf8.RuneCountInString(prompt))))
	defer span.End()

	out, err := s.Enhancer.Enhance(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return &Enhancement{Prompt: prompt, EnhancedPrompt: out}, nil
}
