package ai

import (
	"context"
	"path"
	"strings"
)

// DescribePrompt is the fixed analytical instruction sent with every image.
const DescribePrompt = "Analyze this image. Describe the primary subjects, the setting, and any actions taking place. Focus on objective details relevant for storytelling."

// Describer turns one normalized JPEG into a short description.
type Describer struct {
	vision ImageDescriber
}

// NewDescriber wraps a vision-capable model.
func NewDescriber(vision ImageDescriber) *Describer {
	return &Describer{vision: vision}
}

// Describe returns the model's description of the image. Files carrying a
// platform-metadata name return ErrSkipped without contacting the model.
func (d *Describer) Describe(ctx context.Context, filename string, jpeg []byte, apiKey string) (string, error) {
	if IsPlatformMetadata(filename) {
		return "", ErrSkipped
	}
	text, err := d.vision.DescribeImage(ctx, apiKey, DescribePrompt, jpeg, "image/jpeg")
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// IsPlatformMetadata reports whether name is an AppleDouble resource-fork file.
func IsPlatformMetadata(name string) bool {
	return strings.HasPrefix(path.Base(strings.ReplaceAll(name, "\\", "/")), "._")
}
