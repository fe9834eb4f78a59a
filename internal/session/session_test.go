package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/voice-assistant/internal/assistant"
	"github.com/ashureev/voice-assistant/internal/domain"
	"github.com/ashureev/voice-assistant/internal/identity"
	"github.com/ashureev/voice-assistant/internal/intent"
	"github.com/ashureev/voice-assistant/internal/speech"
	"github.com/ashureev/voice-assistant/internal/store"
	"github.com/ashureev/voice-assistant/internal/turn"
	"github.com/coder/websocket"
)

type fakeAsker struct {
	mu     sync.Mutex
	reqs   []assistant.Request
	result intent.Intent
}

func (a *fakeAsker) Ask(_ context.Context, req assistant.Request) (intent.Intent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reqs = append(a.reqs, req)
	out := a.result
	out.UserInput = req.Command
	return out, nil
}

func (a *fakeAsker) requests() []assistant.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]assistant.Request(nil), a.reqs...)
}

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []string
	open        int
}

func (r *fakeRecorder) RecordTransition(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *fakeRecorder) SessionOpened() { r.mu.Lock(); r.open++; r.mu.Unlock() }
func (r *fakeRecorder) SessionClosed() { r.mu.Lock(); r.open--; r.mu.Unlock() }

func (r *fakeRecorder) opened() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

type testEnv struct {
	srv   *httptest.Server
	mgr   *Manager
	asker *fakeAsker
	rec   *fakeRecorder
	user  *domain.User
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

func newTestEnv(t *testing.T, opts ...func(*Handler)) *testEnv {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	u := &domain.User{Name: "Ana", Email: "ana@x.io", PasswordHash: "h"}
	if err := repo.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	name := "Jarvis"
	if _, err := repo.UpdateAssistant(context.Background(), u.ID, store.AssistantUpdate{AssistantName: &name}); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		mgr:   NewManager(),
		asker: &fakeAsker{result: intent.Intent{Type: intent.TypeGoogleSearch, Response: "Searching Google"}},
		rec:   &fakeRecorder{},
		user:  u,
	}
	h := NewHandler(repo, env.asker, env.mgr, env.rec, "*", true, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.SetTimings(turn.Timings{
		SettleDelay:         10 * time.Millisecond,
		ErrorSettleDelay:    10 * time.Millisecond,
		CaptureRestartDelay: 10 * time.Millisecond,
		CaptureErrorDelay:   10 * time.Millisecond,
		EmptySpeechDelay:    10 * time.Millisecond,
		QuietPeriod:         50 * time.Millisecond,
	})
	for _, opt := range opts {
		opt(h)
	}

	env.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := identity.WithUserID(r.Context(), r.URL.Query().Get("user"))
		ctx = identity.WithSessionID(ctx, r.URL.Query().Get("tab"))
		h.ServeHTTP(w, r.WithContext(ctx))
	}))
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) dial(t *testing.T, tab string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/?user=" + e.user.ID + "&tab=" + tab
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func sendMsg(t *testing.T, c *websocket.Conn, msg ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write %s: %v", msg.Type, err)
	}
}

// expect reads until a message of type typ satisfying match arrives.
func expect(t *testing.T, c *websocket.Conn, typ string, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if msg.Type == typ && (match == nil || match(msg)) {
			return msg
		}
	}
}

func TestConversationOverWebSocket(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.dial(t, "tab-1")

	st := expect(t, c, TypeState, nil)
	if st.State.Phase != turn.PhaseIdle || st.State.AssistantName != "Jarvis" {
		t.Fatalf("initial state = %+v", st.State)
	}

	sendMsg(t, c, ClientMessage{Type: TypeStart, Voices: []speech.Voice{{Name: "Samantha", Lang: "en-US"}}})
	greet := expect(t, c, TypeSpeak, nil)
	if greet.Utterance.Text != "Hello Ana, what can I help you with?" || greet.Utterance.Lang != "en-US" {
		t.Fatalf("greeting = %+v", greet.Utterance)
	}

	sendMsg(t, c, ClientMessage{Type: TypeSpeechEnded, ID: greet.Utterance.ID})
	capture := expect(t, c, TypeCaptureStart, nil)
	if capture.Lang != "en-US" {
		t.Errorf("capture lang = %q", capture.Lang)
	}
	sendMsg(t, c, ClientMessage{Type: TypeCaptureStarted})

	sendMsg(t, c, ClientMessage{Type: TypeTranscript, Text: "Jarvis search golang"})
	expect(t, c, TypeUserText, func(m ServerMessage) bool { return m.Text == "Jarvis search golang" })
	reply := expect(t, c, TypeSpeak, nil)
	if reply.Utterance.Text != "Searching Google" {
		t.Errorf("reply = %+v", reply.Utterance)
	}
	open := expect(t, c, TypeOpen, nil)
	if !strings.HasPrefix(open.URL, "https://www.google.com/search?q=") {
		t.Errorf("open url = %q", open.URL)
	}

	reqs := env.asker.requests()
	if len(reqs) != 1 {
		t.Fatalf("asker requests = %d", len(reqs))
	}
	if reqs[0].Command != "search golang" || reqs[0].Source != "ws" || reqs[0].SessionID != "tab-1" || reqs[0].UserID != env.user.ID {
		t.Errorf("request = %+v", reqs[0])
	}

	sendMsg(t, c, ClientMessage{Type: TypePing})
	expect(t, c, TypePong, nil)

	env.rec.mu.Lock()
	n := len(env.rec.transitions)
	env.rec.mu.Unlock()
	if n == 0 {
		t.Error("no transitions recorded")
	}
}

func TestRateLimitedCommandIsSpokenAsError(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(h *Handler) { h.SetLimiter(denyLimiter{}) })
	c := env.dial(t, "tab-1")
	expect(t, c, TypeState, nil)

	sendMsg(t, c, ClientMessage{Type: TypeStart})
	greet := expect(t, c, TypeSpeak, nil)
	sendMsg(t, c, ClientMessage{Type: TypeSpeechEnded, ID: greet.Utterance.ID})
	expect(t, c, TypeCaptureStart, nil)
	sendMsg(t, c, ClientMessage{Type: TypeCaptureStarted})

	sendMsg(t, c, ClientMessage{Type: TypeTranscript, Text: "Jarvis search golang"})
	reply := expect(t, c, TypeSpeak, nil)
	if reply.Utterance.Text != assistant.MsgRateLimited {
		t.Errorf("reply = %q, want the rate limit message", reply.Utterance.Text)
	}
	if n := len(env.asker.requests()); n != 0 {
		t.Errorf("asker called %d times while throttled", n)
	}
}

func TestCloseSessionEndsConnections(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tabs := []*websocket.Conn{env.dial(t, "tab-1"), env.dial(t, "tab-2")}
	for _, c := range tabs {
		expect(t, c, TypeState, nil)
	}

	env.mgr.CloseSession(env.user.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for i, c := range tabs {
		for {
			if _, _, err := c.Read(ctx); err != nil {
				if ctx.Err() != nil {
					t.Fatalf("tab %d still open", i)
				}
				break
			}
		}
	}
	if got := env.mgr.Count(); got != 0 {
		t.Errorf("live sessions = %d, want 0", got)
	}
}

func TestUnknownMessageIsReported(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.dial(t, "tab-1")
	expect(t, c, TypeState, nil)

	sendMsg(t, c, ClientMessage{Type: "dance"})
	msg := expect(t, c, TypeError, nil)
	if !strings.Contains(msg.Message, "dance") {
		t.Errorf("error message = %q", msg.Message)
	}
}

func TestProfileUpdateReachesSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.dial(t, "tab-1")
	expect(t, c, TypeState, nil)

	env.mgr.UpdateProfile(&domain.User{ID: env.user.ID, Name: "Ana", AssistantName: "Friday", AssistantLanguage: "en-GB"})
	expect(t, c, TypeState, func(m ServerMessage) bool {
		return m.State.AssistantName == "Friday" && m.State.AssistantLanguage == "en-GB"
	})
}

func TestSecondConnectionReplacesFirst(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	first := env.dial(t, "tab-1")
	expect(t, first, TypeState, nil)

	second := env.dial(t, "tab-1")
	expect(t, second, TypeState, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		if _, _, err := first.Read(ctx); err != nil {
			break
		}
	}
	if got := env.mgr.Count(); got != 1 {
		t.Errorf("live sessions = %d, want 1", got)
	}

	_ = second.Close(websocket.StatusNormalClosure, "bye")
	deadline := time.Now().Add(3 * time.Second)
	for env.rec.opened() != 0 || env.mgr.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sessions not released: opened=%d live=%d", env.rec.opened(), env.mgr.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRejectsAnonymous(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil, nil, NewManager(), nil, "*", true, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/assistant", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil, nil, NewManager(), nil, "https://app.example.com", false, nil)
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws/assistant", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestClientMessageEvent(t *testing.T) {
	t.Parallel()
	now := time.Now()
	tests := []struct {
		msg  ClientMessage
		want turn.Event
	}{
		{ClientMessage{Type: TypeStop}, turn.Stop{}},
		{ClientMessage{Type: TypeRestart}, turn.UserRestart{}},
		{ClientMessage{Type: TypeCaptureError, Code: "not-allowed"}, turn.CaptureFailed{Code: "not-allowed"}},
		{ClientMessage{Type: TypeTranscript, Text: "hi"}, turn.TranscriptFinal{Text: "hi", At: now}},
		{ClientMessage{Type: TypeSpeechError, ID: 3, Error: "interrupted"}, turn.PlaybackFailed{ID: 3, Err: "interrupted"}},
	}
	for _, tt := range tests {
		got, err := tt.msg.Event(now)
		if err != nil {
			t.Fatalf("Event(%s) error = %v", tt.msg.Type, err)
		}
		if got != tt.want {
			t.Errorf("Event(%s) = %#v, want %#v", tt.msg.Type, got, tt.want)
		}
	}
	if _, err := (ClientMessage{Type: TypePing}).Event(now); err == nil {
		t.Error("ping converted to an event")
	}
}
