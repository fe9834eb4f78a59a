package intent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIGeneratorChatCompletion(t *testing.T) {
	t.Parallel()

	var body struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"test-model",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"type\":\"joke\"}"}}]}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test", Model: "test-model", BaseURL: srv.URL + "/"}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	text, err := gen.Generate(context.Background(), "the prompt")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != `{"type":"joke"}` {
		t.Errorf("unexpected text %q", text)
	}
	if body.Model != "test-model" || len(body.Messages) != 1 || body.Messages[0].Role != "user" || body.Messages[0].Content != "the prompt" {
		t.Errorf("unexpected request body %+v", body)
	}
}

func TestOpenAIGeneratorRequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := NewOpenAIGenerator(OpenAIConfig{}, nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
