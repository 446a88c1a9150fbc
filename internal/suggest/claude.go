package suggest

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ivlev/slideshow/internal/config"
)

const systemPrompt = `You suggest metadata for short slideshow videos.
Reply with a single JSON object and nothing else, with exactly these string keys:
"title", "description", "recommendedTransition" (one of "fade", "slide", "zoom"), "vibe".`

// Claude asks the Anthropic Messages API for suggestions.
type Claude struct {
	client *anthropic.Client
	model  string
}

func NewClaude(cfg config.SuggestConfig) *Claude {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &Claude{client: &client, model: cfg.Model}
}

func (c *Claude) Suggest(ctx context.Context, imageNames []string, audioName string) (*Suggestion, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 512,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt(imageNames, audioName))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude API call: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	return Parse(text)
}
