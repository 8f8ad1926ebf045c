package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const openAICompatProvider = "openai-compat"

// OpenAICompatGenerator calls any OpenAI-compatible /v1/chat/completions endpoint.
// Works with vLLM, LiteLLM, LocalAI, OpenRouter and self-hosted vision models.
type OpenAICompatGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompatGenerator builds an OpenAI-compatible generator.
// baseURL should include the /v1 prefix, e.g. "http://localhost:8000/v1".
// apiKey can be empty for local models that do not require authentication.
func NewOpenAICompatGenerator(baseURL, apiKey, model string, timeout time.Duration) *OpenAICompatGenerator {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &OpenAICompatGenerator{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GenerateText implements TextGenerator using the OpenAI chat completions API.
func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, apiKey, systemPrompt, userPrompt string) (string, error) {
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})
	return g.complete(ctx, apiKey, messages)
}

// DescribeImage implements ImageDescriber by sending the image as a data URL part.
func (g *OpenAICompatGenerator) DescribeImage(ctx context.Context, apiKey, prompt string, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	messages := []oaiMessage{{
		Role: "user",
		Content: []oaiContentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &oaiImageURL{URL: dataURL}},
		},
	}}
	return g.complete(ctx, apiKey, messages)
}

func (g *OpenAICompatGenerator) complete(ctx context.Context, apiKey string, messages []oaiMessage) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("openai-compat generation model required")
	}
	reqBody := oaiChatRequest{
		Model:    g.model,
		Messages: messages,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := g.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = g.apiKey
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &ServiceError{Provider: openAICompatProvider, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return "", &ServiceError{Provider: openAICompatProvider, StatusCode: resp.StatusCode, Message: msg}
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", &ServiceError{Provider: openAICompatProvider, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(chatResp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	choice := chatResp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		if choice.FinishReason == "content_filter" {
			return "", fmt.Errorf("%w: finish reason %s", ErrBlocked, choice.FinishReason)
		}
		return "", ErrEmptyResponse
	}
	return text, nil
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiChatRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
