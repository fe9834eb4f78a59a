// vactl resolves commands from the terminal, either against the configured model
// directly or through a running server's gRPC endpoint.
//
//	vactl -a Jarvis -u Ana "open youtube"
//	vactl -g localhost:9090 "what time is it"
//	vactl -g localhost:9090 health
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ashureev/voice-assistant/internal/assistant"
	"github.com/ashureev/voice-assistant/internal/config"
	"github.com/ashureev/voice-assistant/internal/dispatch"
	"github.com/ashureev/voice-assistant/internal/intent"
	"github.com/ashureev/voice-assistant/internal/observability/logging"
	"github.com/ashureev/voice-assistant/internal/rpc"
	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "SOCKS5 proxy address for model calls")
	logLevel := cli.StringP("log", "l", "warn", "Log level")
	grpcAddr := cli.StringP("grpc", "g", "", "Resolve through a server's gRPC endpoint")
	assistantName := cli.StringP("assistant", "a", assistant.DefaultAssistantName, "Assistant name")
	userName := cli.StringP("user", "u", "", "User name")
	timeout := cli.DurationP("timeout", "t", 30*time.Second, "Request timeout")
	cli.Parse()

	logger := logging.New(os.Stderr, *logLevel, "console")
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil {
		logger.Debug("No env file loaded", "path", *envFile, "err", err)
	}

	utterance := strings.TrimSpace(strings.Join(cli.Args(), " "))
	if utterance == "" {
		fmt.Fprintln(os.Stderr, "usage: vactl [flags] <utterance | health>")
		cli.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		result intent.Intent
		err    error
	)
	if *grpcAddr != "" {
		result, err = remote(ctx, *grpcAddr, utterance, *assistantName, *userName, *timeout, logger)
	} else {
		result, err = local(ctx, *proxyAddr, utterance, *assistantName, *userName, logger)
	}
	if err != nil {
		logger.Error("Resolve failed", "err", err)
		os.Exit(1)
	}
	if utterance == "health" && *grpcAddr != "" {
		fmt.Println("SERVING")
		return
	}

	out := struct {
		intent.Intent
		URL string `json:"url,omitempty"`
	}{Intent: result}
	if u, ok := dispatch.URLFor(result); ok {
		out.URL = u
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("Failed to write result", "err", err)
		os.Exit(1)
	}
	if result.IsFailure() {
		os.Exit(3)
	}
}

func remote(ctx context.Context, addr, utterance, assistantName, userName string, timeout time.Duration, logger *slog.Logger) (intent.Intent, error) {
	cfg := rpc.DefaultClientConfig(addr)
	cfg.RequestTimeout = timeout
	client, err := rpc.NewClient(cfg, logger)
	if err != nil {
		return intent.Intent{}, err
	}
	defer client.Close()

	if utterance == "health" {
		return intent.Intent{}, client.Health(ctx)
	}
	return client.Resolve(ctx, utterance, assistantName, userName)
}

func local(ctx context.Context, proxyAddr, utterance, assistantName, userName string, logger *slog.Logger) (intent.Intent, error) {
	cfg := config.LoadGenerative()
	if proxyAddr != "" {
		cfg.ProxyAddr = proxyAddr
	}
	gen, err := intent.NewGenerator(cfg, logger)
	if err != nil {
		return intent.Intent{}, err
	}
	loc := config.LoadLocation()
	r := intent.NewResolver(gen,
		intent.WithTimeout(cfg.Timeout),
		intent.WithClock(func() time.Time { return time.Now().In(loc) }),
		intent.WithLogger(logger),
	)
	return r.Resolve(ctx, utterance, assistantName, userName), nil
}
