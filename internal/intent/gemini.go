package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxGeminiBody caps how much of an error body is kept for logging.
const maxGeminiBody = 4 << 10

// GeminiGenerator calls a generateContent-style endpoint. The endpoint URL carries the
// model and API key, e.g. .../models/gemini-2.0-flash:generateContent?key=...
type GeminiGenerator struct {
	endpoint string
	client   *http.Client
}

// NewGeminiGenerator creates a generator for endpoint. A nil client uses http.DefaultClient.
func NewGeminiGenerator(endpoint string, client *http.Client) *GeminiGenerator {
	if client == nil {
		client = http.DefaultClient
	}
	return &GeminiGenerator{endpoint: endpoint, client: client}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate posts prompt and returns candidates[0].content.parts[0].text.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.endpoint == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal gemini request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxGeminiBody))
		return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	text := out.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
