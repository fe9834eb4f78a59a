package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ashureev/voice-assistant/internal/config"
	"golang.org/x/net/proxy"
)

// Provider names accepted in GENERATIVE_PROVIDER.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// NewGenerator builds the configured generator. A provider without an endpoint or key
// yields a nil Generator, which the Resolver answers with the misconfiguration intent.
func NewGenerator(cfg config.GenerativeConfig, logger *slog.Logger) (Generator, error) {
	httpClient, err := NewHTTPClient(cfg.ProxyAddr, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case ProviderGemini, "":
		if cfg.GeminiURL == "" {
			logger.Warn("GEMINI_API_URL is missing, intents will report misconfiguration")
			return nil, nil
		}
		return NewGeminiGenerator(cfg.GeminiURL, httpClient), nil
	case ProviderOpenAI:
		gen, err := NewOpenAIGenerator(OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		}, httpClient)
		if errors.Is(err, ErrNotConfigured) {
			logger.Warn("OPENAI_API_KEY is missing, intents will report misconfiguration")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown generative provider %q", cfg.Provider)
	}
}

// NewHTTPClient returns a client for generative calls, dialing through a SOCKS5 proxy
// when socksAddr is set.
func NewHTTPClient(socksAddr string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if socksAddr == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer %s: %w", socksAddr, err)
	}

	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}

	return &http.Client{
		Transport: &http.Transport{DialContext: dialContext},
		Timeout:   timeout,
	}, nil
}
