package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/voice-assistant/internal/dispatch"
	"github.com/ashureev/voice-assistant/internal/speech"
)

// Timings are the delays between a turn ending and capture resuming.
type Timings struct {
	// SettleDelay follows a completed reply, letting the room go quiet.
	SettleDelay time.Duration
	// ErrorSettleDelay follows a reply whose playback failed.
	ErrorSettleDelay time.Duration
	// CaptureRestartDelay follows capture ending on its own.
	CaptureRestartDelay time.Duration
	// CaptureErrorDelay follows a non-fatal capture error.
	CaptureErrorDelay time.Duration
	// EmptySpeechDelay follows a request to speak nothing.
	EmptySpeechDelay time.Duration
	// QuietPeriod clears a transcript that did not contain the wake word.
	QuietPeriod time.Duration
}

// DefaultTimings returns the production delays.
func DefaultTimings() Timings {
	return Timings{
		SettleDelay:         800 * time.Millisecond,
		ErrorSettleDelay:    1200 * time.Millisecond,
		CaptureRestartDelay: 1000 * time.Millisecond,
		CaptureErrorDelay:   1200 * time.Millisecond,
		EmptySpeechDelay:    500 * time.Millisecond,
		QuietPeriod:         3 * time.Second,
	}
}

// Profile is the part of the user record a session needs.
type Profile struct {
	UserName          string
	AssistantName     string
	AssistantLanguage string
}

// Ports are the devices and services a Machine drives.
type Ports struct {
	Capture   Capture
	Output    Output
	Display   Display         // optional
	Opener    dispatch.Opener // optional, nil disables URL opening
	Requester IntentRequester // optional when Options.Resolve is set
	Scheduler Scheduler       // optional, defaults to a TimerScheduler
}

// Options configure a Machine.
type Options struct {
	Timings Timings
	Logger  *slog.Logger
	// Resolve backs the default IntentRequester.
	Resolve ResolveFunc
	// OnTransition is called, under the machine lock, after every phase change.
	OnTransition func(from, to Phase)
	// OnState receives a copy of the state after every handled event, under the
	// machine lock.
	OnState func(ConversationState)
	// QueueSize is the capacity of the Post queue.
	QueueSize int
}

// Machine owns the ConversationState of one session. Every mutation happens inside
// Handle, under a single lock, so the no-talking-while-listening invariant holds
// between any two events.
type Machine struct {
	mu         sync.RWMutex
	state      ConversationState
	ports      Ports
	timings    Timings
	dispatcher *dispatch.Dispatcher
	voices     []speech.Voice
	logger     *slog.Logger
	onChange   func(from, to Phase)
	onState    func(ConversationState)

	turn      uint64 // incremented per resolution request
	utterance uint64 // incremented per playback
	textSeq   uint64 // incremented per displayed transcript

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	timers    *TimerScheduler
}

// NewMachine creates a Machine in PhaseIdle.
func NewMachine(p Profile, ports Ports, opts Options) *Machine {
	if opts.Timings == (Timings{}) {
		opts.Timings = DefaultTimings()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if ports.Display == nil {
		ports.Display = noopDisplay{}
	}
	if p.AssistantLanguage == "" {
		p.AssistantLanguage = speech.DefaultLanguage
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		state: ConversationState{
			Phase:             PhaseIdle,
			UserName:          p.UserName,
			AssistantName:     p.AssistantName,
			AssistantLanguage: p.AssistantLanguage,
		},
		timings:  opts.Timings,
		logger:   opts.Logger.With("component", "turn"),
		onChange: opts.OnTransition,
		onState:  opts.OnState,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan Event, opts.QueueSize),
		done:     make(chan struct{}),
	}

	if ports.Scheduler == nil {
		m.timers = NewTimerScheduler(m.Post)
		ports.Scheduler = m.timers
	}
	if ports.Requester == nil && opts.Resolve != nil {
		ports.Requester = &asyncRequester{ctx: ctx, resolve: opts.Resolve, post: m.Post}
	}
	m.ports = ports

	m.dispatcher = dispatch.New(
		dispatch.SpeakerFunc(m.speak),
		ports.Opener,
		dispatch.DelayerFunc(func(d time.Duration, f func()) {
			m.ports.Scheduler.Schedule(d, deferred{fn: f})
		}),
	)
	return m
}

// State returns a copy of the current state.
func (m *Machine) State() ConversationState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Post queues ev for Run. It returns false once the machine has stopped.
func (m *Machine) Post(ev Event) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// Run handles posted events until ctx is done, then stops the session.
func (m *Machine) Run(ctx context.Context) {
	defer m.close()
	for {
		select {
		case <-ctx.Done():
			m.Handle(Stop{})
			return
		case ev := <-m.events:
			m.Handle(ev)
		}
	}
}

func (m *Machine) close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.cancel()
		if m.timers != nil {
			m.timers.Close()
		}
	})
}

// Handle applies one event synchronously.
func (m *Machine) Handle(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onState != nil {
		defer func() { m.onState(m.state) }()
	}

	switch e := ev.(type) {
	case Start:
		m.start(e)
	case Stop:
		m.stop()
	case UserRestart:
		if !m.state.Started {
			m.start(Start{Voices: m.voices})
			return
		}
		m.startCapture(true)
	case CaptureStarted:
		m.captureStarted()
	case CaptureEnded:
		m.state.IsListening = false
		if m.canAutoRestart() {
			m.after(m.timings.CaptureRestartDelay, restartCapture{reason: "capture_ended"})
		}
	case CaptureFailed:
		m.captureFailed(e.Code)
	case TranscriptFinal:
		m.transcript(e.Text)
	case IntentResolved:
		if m.state.Phase != PhaseResolving || e.Turn != m.turn {
			m.logger.Debug("Dropping stale intent", "turn", e.Turn, "current", m.turn, "phase", m.state.Phase)
			return
		}
		m.logger.Info("Intent resolved", "turn", e.Turn, "type", e.Intent.Type)
		m.dispatcher.Dispatch(e.Intent)
	case PlaybackEnded:
		if !m.state.IsSpeaking || e.ID != m.utterance {
			return
		}
		m.finishSpeaking(m.timings.SettleDelay, "playback_ended")
	case PlaybackFailed:
		if !m.state.IsSpeaking || e.ID != m.utterance {
			return
		}
		m.logger.Warn("Playback failed", "id", e.ID, "error", e.Err)
		m.finishSpeaking(m.timings.ErrorSettleDelay, "playback_failed")
	case SettingsChanged:
		if e.AssistantName != "" {
			m.state.AssistantName = e.AssistantName
		}
		if e.AssistantLanguage != "" {
			m.state.AssistantLanguage = e.AssistantLanguage
		}
		if e.UserName != "" {
			m.state.UserName = e.UserName
		}
	case restartCapture:
		m.startCapture(false)
	case clearUserText:
		if e.seq == m.textSeq && !m.state.IsSpeaking && m.state.UserText != "" {
			m.state.UserText = ""
			m.ports.Display.ShowUserText("")
		}
	case deferred:
		if m.state.Started {
			e.fn()
		}
	default:
		m.logger.Warn("Unhandled event", "type", fmt.Sprintf("%T", ev))
	}
}

func (m *Machine) start(e Start) {
	if m.state.Started {
		return
	}
	if e.Voices != nil {
		m.voices = e.Voices
	}
	m.state.Started = true
	m.setPhase(PhaseAwaitingWake)
	m.logger.Info("Session started", "assistant", m.state.AssistantName, "lang", m.state.AssistantLanguage)
	m.speak(fmt.Sprintf("Hello %s, what can I help you with?", m.state.UserName))
}

func (m *Machine) stop() {
	m.ports.Output.Cancel()
	if m.state.IsListening {
		m.ports.Capture.Stop()
	}
	m.state.IsSpeaking = false
	m.state.IsListening = false
	m.state.Started = false
	m.state.UserText = ""
	m.state.AssistantText = ""
	m.turn++ // invalidates any resolution in flight
	if m.state.Phase != PhaseIdle {
		m.setPhase(PhaseAwaitingWake)
	}
}

func (m *Machine) captureStarted() {
	if !m.state.Started || m.state.IsSpeaking || m.state.Phase != PhaseAwaitingWake {
		m.ports.Capture.Stop()
		m.state.IsListening = false
		return
	}
	m.state.IsListening = true
	m.state.MicPermissionDenied = false
}

func (m *Machine) captureFailed(code string) {
	m.state.IsListening = false
	switch {
	case isPermissionDenial(code):
		m.state.MicPermissionDenied = true
		m.logger.Warn("Microphone permission denied", "code", code)
	case code == CodeAborted:
	default:
		m.logger.Warn("Capture error", "code", code)
		if m.canAutoRestart() {
			m.after(m.timings.CaptureErrorDelay, restartCapture{reason: "capture_error"})
		}
	}
}

func (m *Machine) transcript(raw string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return
	}
	if !m.state.Started || m.state.Phase != PhaseAwaitingWake {
		m.logger.Debug("Ignoring transcript", "phase", m.state.Phase)
		return
	}

	m.state.UserText = text
	m.textSeq++
	m.ports.Display.ShowUserText(text)

	name := strings.ToLower(strings.TrimSpace(m.state.AssistantName))
	lower := strings.ToLower(text)
	if name == "" || !strings.Contains(lower, name) {
		m.after(m.timings.QuietPeriod, clearUserText{seq: m.textSeq})
		return
	}

	m.setPhase(PhaseListening)
	m.stopCapture()

	command := strings.TrimSpace(strings.Replace(lower, name, "", 1))
	if command == "" {
		m.speak(fmt.Sprintf("Yes, how can I help you, %s?", m.state.UserName))
		return
	}

	m.turn++
	m.setPhase(PhaseResolving)
	m.logger.Info("Resolving command", "turn", m.turn, "command", command)
	if m.ports.Requester == nil {
		m.logger.Error("No intent requester configured")
		m.speak("")
		return
	}
	m.ports.Requester.RequestIntent(m.turn, command)
}

// speak stops capture and starts playing text, superseding any utterance in flight.
// Empty text returns the session to awaiting_wake.
func (m *Machine) speak(text string) {
	if text == "" {
		if m.state.IsSpeaking {
			m.ports.Output.Cancel()
			m.state.IsSpeaking = false
		}
		m.state.AssistantText = ""
		m.ports.Display.ShowAssistantText("")
		m.setPhase(PhaseAwaitingWake)
		m.after(m.timings.EmptySpeechDelay, restartCapture{reason: "empty_speech"})
		return
	}

	m.ports.Output.Cancel()
	m.stopCapture()

	m.utterance++
	m.state.IsSpeaking = true
	m.setPhase(PhaseSpeaking)
	m.state.AssistantText = text
	m.ports.Display.ShowAssistantText(text)

	u := Utterance{ID: m.utterance, Text: text, Lang: m.state.AssistantLanguage}
	if v, ok := speech.SelectVoice(m.voices, m.state.AssistantLanguage); ok {
		u.Voice = v.Name
	}
	m.ports.Output.Speak(u)
}

func (m *Machine) finishSpeaking(delay time.Duration, reason string) {
	m.state.IsSpeaking = false
	m.state.AssistantText = ""
	m.ports.Display.ShowAssistantText("")
	m.setPhase(PhaseAwaitingWake)
	m.after(delay, restartCapture{reason: reason})
}

// startCapture is a no-op while capture runs or a reply plays. Automatic restarts
// also respect a denied microphone permission; explicit ones do not.
func (m *Machine) startCapture(explicit bool) {
	s := &m.state
	if s.IsListening || s.IsSpeaking {
		return
	}
	if !s.Started || s.Phase != PhaseAwaitingWake {
		return
	}
	if s.MicPermissionDenied && !explicit {
		return
	}
	// Optimistic: a second start before CaptureStarted arrives is suppressed.
	s.IsListening = true
	if err := m.ports.Capture.Start(s.AssistantLanguage); err != nil {
		s.IsListening = false
		m.logger.Warn("Capture start failed", "error", err)
		if m.canAutoRestart() {
			m.after(m.timings.CaptureErrorDelay, restartCapture{reason: "start_failed"})
		}
	}
}

func (m *Machine) stopCapture() {
	if m.state.IsListening {
		m.ports.Capture.Stop()
		m.state.IsListening = false
	}
}

func (m *Machine) canAutoRestart() bool {
	s := m.state
	return s.Started && !s.MicPermissionDenied && !s.IsSpeaking && !s.IsListening && s.Phase == PhaseAwaitingWake
}

func (m *Machine) after(d time.Duration, ev Event) {
	m.ports.Scheduler.Schedule(d, ev)
}

func (m *Machine) setPhase(to Phase) {
	from := m.state.Phase
	if from == to && to != PhaseSpeaking {
		return
	}
	if !CanTransition(from, to) {
		// Unreachable through Handle; guarded so a broken edge shows up in logs.
		m.logger.Error("Illegal phase transition", "from", from, "to", to)
		return
	}
	m.state.Phase = to
	m.logger.Debug("Phase transition", "from", from, "to", to)
	if m.onChange != nil {
		m.onChange(from, to)
	}
}
