// Package llm rewrites short image prompts into detailed ones.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/rahu7v3rma/soreal-sub001/internal/config"
)

// ErrEmptyCompletion is returned when the model answered with no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Enhancer turns a user prompt into a richer image prompt.
type Enhancer interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}

const systemInstruction = `You improve prompts for a text-to-image model.
Rewrite the user's prompt into one vivid paragraph of at most 80 words.
Keep the subject and intent. Add composition, lighting, style and lens details.
Reply with the rewritten prompt only, without quotes or commentary.`

// Gemini implements Enhancer with the Generative Language API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the client. Close it on shutdown.
func NewGemini(ctx context.Context, cfg config.LLMConfig) (*Gemini, error) {
	if cfg.GeminiKey == "" {
		return nil, errors.New("llm: GEMINI_API_KEY not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

// Enhance asks the model for a rewritten prompt.
func (g *Gemini) Enhance(ctx context.Context, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}
	model.SetTemperature(0.8)
	model.SetMaxOutputTokens(256)

	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return firstText(res)
}

// Close releases the underlying client.
func (g *Gemini) Close() error { return g.client.Close() }

func firstText(res *genai.GenerateContentResponse) (string, error) {
	if res == nil {
		return "", ErrEmptyCompletion
	}
	for _, cand := range res.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if s := cleanCompletion(b.String()); s != "" {
			return s, nil
		}
	}
	return "", ErrEmptyCompletion
}

func cleanCompletion(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	return strings.Join(strings.Fields(s), " ")
}

// Static is the fallback used without an API key: it appends a fixed set of
// quality modifiers.
type Static struct{}

var staticModifiers = []string{"highly detailed", "sharp focus", "soft natural lighting", "professional photography"}

// Enhance appends the modifiers the prompt doesn't already contain.
func (Static) Enhance(_ context.Context, prompt string) (string, error) {
	out := strings.TrimRight(strings.TrimSpace(prompt), ".,; ")
	low := strings.ToLower(out)
	for _, m := range staticModifiers {
		if !strings.Contains(low, m) {
			out += ", " + m
		}
	}
	return out, nil
}
