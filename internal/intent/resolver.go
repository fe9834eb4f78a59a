package intent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// DefaultTimeout bounds a single generative call.
const DefaultTimeout = 15 * time.Second

var (
	// ErrNotConfigured is returned by generators that have no endpoint or credentials.
	ErrNotConfigured = errors.New("generative endpoint not configured")
	// ErrEmptyResponse is returned when the endpoint answered without any text.
	ErrEmptyResponse = errors.New("empty response from generative endpoint")
)

// Generator sends a prompt to an external generative text API and returns the raw text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Recorder receives one observation per resolution.
type Recorder interface {
	RecordResolution(intentType, outcome string, elapsed time.Duration)
}

// Resolution outcomes reported to the Recorder.
const (
	OutcomeOK             = "ok"
	OutcomeMisconfigured  = "misconfigured"
	OutcomeGeneratorError = "generator_error"
	OutcomeUnparseable    = "unparseable"
	OutcomeIncomplete     = "incomplete"
	OutcomeUnknownType    = "unknown_type"
)

// Resolver turns utterances into intents. It is safe for concurrent use and keeps no
// state between calls.
type Resolver struct {
	gen     Generator
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	rec     Recorder
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock sets the clock used for date and time answers.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Resolver) { r.rec = rec }
}

// NewResolver creates a resolver backed by gen. A nil gen yields the misconfiguration
// answer for every call.
func NewResolver(gen Generator, opts ...Option) *Resolver {
	r := &Resolver{
		gen:     gen,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve interprets utterance for the given assistant and user. It never fails: every
// failure path is folded into an error or unknown intent carrying a spoken apology.
func (r *Resolver) Resolve(ctx context.Context, utterance, assistantName, userName string) Intent {
	start := time.Now()
	in, outcome := r.resolve(ctx, utterance, assistantName, userName)
	if r.rec != nil {
		r.rec.RecordResolution(string(in.Type), outcome, time.Since(start))
	}
	return in
}

func (r *Resolver) resolve(ctx context.Context, utterance, assistantName, userName string) (Intent, string) {
	if r.gen == nil {
		r.logger.Error("Generative endpoint missing")
		return failure(utterance, MsgMisconfigured), OutcomeMisconfigured
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := r.gen.Generate(ctx, BuildPrompt(utterance, assistantName, userName))
	if errors.Is(err, ErrNotConfigured) {
		r.logger.Error("Generative endpoint missing", "error", err)
		return failure(utterance, MsgMisconfigured), OutcomeMisconfigured
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		r.logger.Error("Generative call failed", "error", err)
		return failure(utterance, MsgProblem), OutcomeGeneratorError
	}

	r.logger.Debug("Generative raw response", "text", text)

	raw, err := parseModelOutput(text)
	if err != nil {
		r.logger.Warn("Unparseable model output", "error", err, "text", text)
		return failure(utterance, MsgProblem), OutcomeUnparseable
	}
	if raw.Type == "" || raw.Response == "" {
		r.logger.Warn("Incomplete model output", "type", raw.Type, "has_response", raw.Response != "")
		return failure(utterance, MsgIncomplete), OutcomeIncomplete
	}

	t, ok := Canonical(raw.Type)
	if !ok {
		r.logger.Info("Model answered with unknown type", "type", raw.Type)
		userInput := raw.UserInput
		if userInput == "" {
			userInput = utterance
		}
		return Intent{Type: TypeUnknown, UserInput: userInput, Response: MsgUnknown}, OutcomeUnknownType
	}

	in := Intent{Type: t, UserInput: raw.UserInput, Response: raw.Response}
	if t.IsClock() {
		in.Response = clockResponse(t, r.now())
	}
	return in, OutcomeOK
}

// clockResponse answers the date and time intents from now.
func clockResponse(t Type, now time.Time) string {
	switch t {
	case TypeGetDate:
		return "Current date is " + now.Format("2006-01-02")
	case TypeGetTime:
		return "Current time is " + now.Format("03:04 PM")
	case TypeGetDay:
		return "Today is " + now.Weekday().String()
	case TypeGetMonth:
		return "Month is " + now.Month().String()
	default:
		return ""
	}
}
