// Package suggest asks a language model for a title, description and
// transition style matching the picked files.
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ivlev/slideshow/internal/renderer"
)

// ErrInvalidSuggestion is returned for replies that do not match the schema.
var ErrInvalidSuggestion = errors.New("suggest: invalid suggestion")

// Suggestion is a validated model reply.
type Suggestion struct {
	Title                 string        `json:"title"`
	Description           string        `json:"description"`
	RecommendedTransition renderer.Kind `json:"recommendedTransition"`
	Vibe                  string        `json:"vibe"`
}

// Suggester produces a suggestion for the given file names.
type Suggester interface {
	Suggest(ctx context.Context, imageNames []string, audioName string) (*Suggestion, error)
}

type reply struct {
	Title                 string `json:"title"`
	Description           string `json:"description"`
	RecommendedTransition string `json:"recommendedTransition"`
	Vibe                  string `json:"vibe"`
}

// Parse extracts and validates the JSON object in a model reply. Markdown
// code fences and surrounding prose are tolerated.
func Parse(text string) (*Suggestion, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrInvalidSuggestion)
	}

	var r reply
	dec := json.NewDecoder(strings.NewReader(text[start : end+1]))
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSuggestion, err)
	}

	s := &Suggestion{
		Title:       strings.TrimSpace(r.Title),
		Description: strings.TrimSpace(r.Description),
		Vibe:        strings.TrimSpace(r.Vibe),
	}
	for field, v := range map[string]string{"title": s.Title, "description": s.Description, "vibe": s.Vibe} {
		if v == "" {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidSuggestion, field)
		}
	}

	kind, err := renderer.ParseKind(r.RecommendedTransition)
	if err != nil || kind == renderer.None {
		return nil, fmt.Errorf("%w: transition %q", ErrInvalidSuggestion, r.RecommendedTransition)
	}
	s.RecommendedTransition = kind
	return s, nil
}

func prompt(imageNames []string, audioName string) string {
	return fmt.Sprintf(
		"I have these images: %s and this audio: %s. Suggest a catchy title, a short description for TikTok/YouTube, "+
			"a recommended transition style (fade, slide, zoom) and a few words on the vibe.",
		strings.Join(imageNames, ", "), audioName)
}
