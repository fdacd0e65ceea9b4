// Package llm holds the language model clients used to read recipes.
package llm

import "context"

// Usage counts the tokens a single generation consumed.
type Usage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type ContentResponse struct {
	Content string
	Usage   Usage
}

// TextGenerator answers a prompt with text, JSON in practice.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (ContentResponse, error)
}

type Closer interface {
	Close() error
}
