package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiProvider       = "gemini"
)

// Harm categories sent with BLOCK_NONE on every request.
var geminiSafetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

var geminiBlockedFinishReasons = map[string]bool{
	"SAFETY":             true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
}

// GeminiClient calls the Google AI Studio (Gemini) API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiClient constructs a client. apiKey is the default credential and may be
// empty when every call supplies its own.
func NewGeminiClient(apiKey string, timeout time.Duration) *GeminiClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiClient{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    defaultGeminiBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
}

// GenerateText returns the generated response for a prompt.
func (c *GeminiClient) GenerateText(ctx context.Context, model, apiKey, systemPrompt, userPrompt string) (string, error) {
	reqBody := c.newRequest([]part{{Text: userPrompt}})
	if strings.TrimSpace(systemPrompt) != "" {
		reqBody.SystemInstruction = &content{
			Parts: []part{{Text: systemPrompt}},
		}
	}
	return c.generate(ctx, model, apiKey, reqBody)
}

// DescribeImage sends the prompt together with the image as inline data.
func (c *GeminiClient) DescribeImage(ctx context.Context, model, apiKey, prompt string, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	reqBody := c.newRequest([]part{
		{Text: prompt},
		{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
	})
	return c.generate(ctx, model, apiKey, reqBody)
}

func (c *GeminiClient) newRequest(parts []part) generateRequest {
	settings := make([]safetySetting, 0, len(geminiSafetyCategories))
	for _, category := range geminiSafetyCategories {
		settings = append(settings, safetySetting{Category: category, Threshold: "BLOCK_NONE"})
	}
	return generateRequest{
		Contents:       []content{{Role: "user", Parts: parts}},
		SafetySettings: settings,
	}
}

func (c *GeminiClient) generate(ctx context.Context, model, apiKey string, reqBody generateRequest) (string, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		return "", ErrMissingAPIKey
	}
	model = normalizeModel(model)
	var resp generateResponse
	if err := c.doJSON(ctx, fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model), key, reqBody, &resp); err != nil {
		return "", err
	}
	if resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", ErrBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	candidate := resp.Candidates[0]
	c.logger.Info("gemini usage",
		"model", model,
		"finish_reason", candidate.FinishReason,
		"prompt_tokens", resp.UsageMetadata.PromptTokenCount,
		"candidate_tokens", resp.UsageMetadata.CandidatesTokenCount,
		"total_tokens", resp.UsageMetadata.TotalTokenCount,
	)
	var sb strings.Builder
	for _, p := range candidate.Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		if geminiBlockedFinishReasons[candidate.FinishReason] {
			return "", fmt.Errorf("%w: finish reason %s", ErrBlocked, candidate.FinishReason)
		}
		return "", ErrEmptyResponse
	}
	return text, nil
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "models/")
	return model
}

func (c *GeminiClient) doJSON(ctx context.Context, url, apiKey string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ServiceError{Provider: geminiProvider, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return &ServiceError{Provider: geminiProvider, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServiceError{Provider: geminiProvider, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateRequest struct {
	Contents          []content       `json:"contents"`
	SystemInstruction *content        `json:"systemInstruction,omitempty"`
	SafetySettings    []safetySetting `json:"safetySettings,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
