package ai

import "context"

// GeminiGenerator wraps GeminiClient with a fixed model. It serves as both a
// TextGenerator and an ImageDescriber.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator builds a Gemini-based generator.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

// GenerateText implements TextGenerator using Gemini.
func (g *GeminiGenerator) GenerateText(ctx context.Context, apiKey, systemPrompt, userPrompt string) (string, error) {
	return g.client.GenerateText(ctx, g.model, apiKey, systemPrompt, userPrompt)
}

// DescribeImage implements ImageDescriber using Gemini.
func (g *GeminiGenerator) DescribeImage(ctx context.Context, apiKey, prompt string, image []byte, mimeType string) (string, error) {
	return g.client.DescribeImage(ctx, g.model, apiKey, prompt, image, mimeType)
}
