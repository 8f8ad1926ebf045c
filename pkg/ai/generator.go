package ai

import "context"

// TextGenerator generates text from a system prompt and user prompt.
// An empty apiKey selects the provider's configured default credential.
type TextGenerator interface {
	GenerateText(ctx context.Context, apiKey, systemPrompt, userPrompt string) (string, error)
}

// ImageDescriber answers a prompt about a single inline image.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, apiKey, prompt string, image []byte, mimeType string) (string, error)
}
