package intent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	delay   time.Duration
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

type fakeRecorder struct {
	outcomes []string
}

func (f *fakeRecorder) RecordResolution(_ string, outcome string, _ time.Duration) {
	f.outcomes = append(f.outcomes, outcome)
}

var fixedNow = time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)

func newTestResolver(gen Generator, opts ...Option) *Resolver {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewResolver(gen, opts...)
}

func TestResolveOverridesClockIntents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{`{"type":"get-time","userInput":"time","response":"anything"}`, "Current time is 02:07 PM"},
		{`{"type":"get-date","userInput":"date","response":"anything"}`, "Current date is 2024-03-05"},
		{`{"type":"get-day","userInput":"day","response":"anything"}`, "Today is Tuesday"},
		{`{"type":"get-month","userInput":"month","response":"anything"}`, "Month is March"},
	}

	for _, tt := range tests {
		r := newTestResolver(&fakeGenerator{text: tt.raw})
		got := r.Resolve(context.Background(), "what time is it", "Nova", "Sam")
		if got.Response != tt.want {
			t.Errorf("Resolve(%s) response = %q, want %q", tt.raw, got.Response, tt.want)
		}
		if got.Response == "anything" {
			t.Errorf("model response leaked through for %s", tt.raw)
		}
	}
}

func TestResolveTimeReflectsRealClock(t *testing.T) {
	t.Parallel()

	r := NewResolver(&fakeGenerator{text: `{"type":"get-time","userInput":"time","response":"anything"}`})
	before := time.Now()
	got := r.Resolve(context.Background(), "time", "Nova", "Sam")
	after := time.Now()

	allowed := map[string]bool{
		"Current time is " + before.Format("03:04 PM"): true,
		"Current time is " + after.Format("03:04 PM"):  true,
	}
	if !allowed[got.Response] {
		t.Fatalf("response %q does not reflect the current time", got.Response)
	}
}

func TestResolveNonJSONYieldsError(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	r := newTestResolver(&fakeGenerator{text: "Sure! The weather is nice today."}, WithRecorder(rec))
	got := r.Resolve(context.Background(), "weather", "Nova", "Sam")

	if got.Type != TypeError {
		t.Fatalf("expected error intent, got %q", got.Type)
	}
	if got.Response != MsgProblem {
		t.Errorf("unexpected response %q", got.Response)
	}
	if got.UserInput != "weather" {
		t.Errorf("expected userInput to carry the utterance, got %q", got.UserInput)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != OutcomeUnparseable {
		t.Errorf("unexpected outcomes %v", rec.outcomes)
	}
}

func TestResolveCaseFoldsType(t *testing.T) {
	t.Parallel()

	tests := map[string]Type{
		"YOUTUBE":       TypeYoutubeSearch,
		"Youtube":       TypeYoutubeSearch,
		"YouTube-Play":  TypeYoutubePlay,
		"Weather-Show":  TypeWeatherShow,
		"Google-SEARCH": TypeGoogleSearch,
	}
	for raw, want := range tests {
		r := newTestResolver(&fakeGenerator{text: `{"type":"` + raw + `","userInput":"lofi","response":"Opening"}`})
		got := r.Resolve(context.Background(), "play lofi", "Nova", "Sam")
		if got.Type != want {
			t.Errorf("type %q folded to %q, want %q", raw, got.Type, want)
		}
		if got.Response != "Opening" {
			t.Errorf("response changed for %q: %q", raw, got.Response)
		}
	}
}

func TestResolveFencedBlock(t *testing.T) {
	t.Parallel()

	text := "Here you go:\n```json\n{\"type\":\"joke\",\"userInput\":\"joke\",\"response\":\"Why did...\"}\n```"
	r := newTestResolver(&fakeGenerator{text: text})
	got := r.Resolve(context.Background(), "tell me a joke", "Nova", "Sam")
	if got.Type != TypeJoke || got.Response != "Why did..." {
		t.Fatalf("unexpected intent %+v", got)
	}
}

func TestResolveMissingFields(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		`{"userInput":"x","response":"y"}`,
		`{"type":"chat","userInput":"x"}`,
		`null`,
	} {
		r := newTestResolver(&fakeGenerator{text: text})
		got := r.Resolve(context.Background(), "hello", "Nova", "Sam")
		if got.Type != TypeError || got.Response != MsgIncomplete {
			t.Errorf("Resolve(%s) = %+v, want incomplete error", text, got)
		}
	}
}

func TestResolveUnknownTypeIsClarification(t *testing.T) {
	t.Parallel()

	r := newTestResolver(&fakeGenerator{text: `{"type":"launch-rocket","userInput":"rocket","response":"3, 2, 1"}`})
	got := r.Resolve(context.Background(), "launch a rocket", "Nova", "Sam")
	if got.Type != TypeUnknown {
		t.Fatalf("expected unknown intent, got %q", got.Type)
	}
	if got.Response != MsgUnknown {
		t.Errorf("unexpected response %q", got.Response)
	}
	if !got.IsFailure() {
		t.Error("expected clarification to count as failure variant")
	}

	padded := newTestResolver(&fakeGenerator{text: `{"type":" google-search","userInput":"go","response":"Searching"}`})
	if got := padded.Resolve(context.Background(), "search go", "Nova", "Sam"); got.Type != TypeUnknown {
		t.Errorf("padded type resolved to %q, want unknown", got.Type)
	}
}

func TestResolveMisconfigured(t *testing.T) {
	t.Parallel()

	r := newTestResolver(nil)
	got := r.Resolve(context.Background(), "hello", "Nova", "Sam")
	if got.Type != TypeError || got.Response != MsgMisconfigured {
		t.Fatalf("nil generator: got %+v", got)
	}

	r = newTestResolver(NewGeminiGenerator("", nil))
	got = r.Resolve(context.Background(), "hello", "Nova", "Sam")
	if got.Response != MsgMisconfigured {
		t.Fatalf("empty endpoint: got %+v", got)
	}
}

func TestResolveGeneratorFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"network", &fakeGenerator{err: errors.New("connection refused")}},
		{"empty", &fakeGenerator{text: "   "}},
		{"empty sentinel", &fakeGenerator{err: ErrEmptyResponse}},
	}
	for _, tt := range tests {
		got := newTestResolver(tt.gen).Resolve(context.Background(), "hello", "Nova", "Sam")
		if got.Type != TypeError || got.Response != MsgProblem {
			t.Errorf("%s: got %+v", tt.name, got)
		}
	}
}

func TestResolveTimeout(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{text: `{"type":"chat","userInput":"hi","response":"hi"}`, delay: time.Second}
	r := newTestResolver(gen, WithTimeout(20*time.Millisecond))

	start := time.Now()
	got := r.Resolve(context.Background(), "hi", "Nova", "Sam")
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("timeout was not enforced")
	}
	if got.Type != TypeError {
		t.Fatalf("expected error intent on timeout, got %+v", got)
	}
}

func TestResolvePromptCarriesNames(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{text: `{"type":"chat","userInput":"hi","response":"hello"}`}
	newTestResolver(gen).Resolve(context.Background(), "who made you", "Nova", "Sam")

	if len(gen.prompts) != 1 {
		t.Fatalf("expected one prompt, got %d", len(gen.prompts))
	}
	p := gen.prompts[0]
	for _, want := range []string{"named Nova", "created by Sam", `"weather-show"`, "User: who made you"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
