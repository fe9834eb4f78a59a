package turn

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/voice-assistant/internal/intent"
)

// Capture controls continuous speech-to-text on the client device.
type Capture interface {
	Start(lang string) error
	Stop()
}

// Utterance is one piece of synthesized speech.
type Utterance struct {
	ID    uint64 `json:"id"`
	Text  string `json:"text"`
	Lang  string `json:"lang"`
	Voice string `json:"voice,omitempty"`
}

// Output controls text-to-speech playback. Completion is reported back with
// PlaybackEnded or PlaybackFailed carrying the utterance ID.
type Output interface {
	Speak(u Utterance)
	Cancel()
}

// Display shows the transient user and assistant lines.
type Display interface {
	ShowUserText(text string)
	ShowAssistantText(text string)
}

// IntentRequester starts resolution of command for turn. The result must come back
// as an IntentResolved event.
type IntentRequester interface {
	RequestIntent(turn uint64, command string)
}

// Scheduler delivers ev to the machine after d.
type Scheduler interface {
	Schedule(d time.Duration, ev Event)
}

// ResolveFunc resolves a command synchronously.
type ResolveFunc func(ctx context.Context, command string) intent.Intent

type noopDisplay struct{}

func (noopDisplay) ShowUserText(string)      {}
func (noopDisplay) ShowAssistantText(string) {}

// asyncRequester runs resolve on its own goroutine and posts the result.
type asyncRequester struct {
	ctx     context.Context
	resolve ResolveFunc
	post    func(Event) bool
}

func (a *asyncRequester) RequestIntent(turn uint64, command string) {
	go func() {
		in := a.resolve(a.ctx, command)
		a.post(IntentResolved{Turn: turn, Intent: in})
	}()
}

// TimerScheduler delivers events with time.AfterFunc.
type TimerScheduler struct {
	post func(Event) bool

	mu     sync.Mutex
	next   uint64
	timers map[uint64]*time.Timer
	closed bool
}

// NewTimerScheduler creates a scheduler that hands due events to post.
func NewTimerScheduler(post func(Event) bool) *TimerScheduler {
	return &TimerScheduler{post: post, timers: make(map[uint64]*time.Timer)}
}

// Schedule implements Scheduler.
func (s *TimerScheduler) Schedule(d time.Duration, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.next++
	id := s.next
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.post(ev)
		}
	})
}

// Close stops every pending timer.
func (s *TimerScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
