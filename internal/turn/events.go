package turn

import (
	"time"

	"github.com/ashureev/voice-assistant/internal/intent"
	"github.com/ashureev/voice-assistant/internal/speech"
)

// Event is anything the Machine reacts to.
type Event interface {
	event()
}

// Start activates the session and plays the greeting.
type Start struct {
	Voices []speech.Voice
}

// Stop deactivates the session, cancelling playback and capture.
type Stop struct{}

// UserRestart is an explicit request to listen again. It is honoured even after the
// microphone permission was denied.
type UserRestart struct{}

// CaptureStarted reports that the capture device is running.
type CaptureStarted struct{}

// CaptureEnded reports that the capture device stopped on its own.
type CaptureEnded struct{}

// CaptureFailed reports a capture device error by its code.
type CaptureFailed struct {
	Code string
}

// TranscriptFinal carries one finalized utterance.
type TranscriptFinal struct {
	Text string
	At   time.Time
}

// IntentResolved carries the intent for the command of turn Turn.
type IntentResolved struct {
	Turn   uint64
	Intent intent.Intent
}

// PlaybackEnded reports that utterance ID finished playing.
type PlaybackEnded struct {
	ID uint64
}

// PlaybackFailed reports that utterance ID could not be played.
type PlaybackFailed struct {
	ID  uint64
	Err string
}

// SettingsChanged updates the profile fields the session depends on. Empty fields
// are left unchanged.
type SettingsChanged struct {
	AssistantName     string
	AssistantLanguage string
	UserName          string
}

// Timer events.
type (
	restartCapture struct{ reason string }
	clearUserText  struct{ seq uint64 }
	deferred       struct{ fn func() }
)

func (Start) event()           {}
func (Stop) event()            {}
func (UserRestart) event()     {}
func (CaptureStarted) event()  {}
func (CaptureEnded) event()    {}
func (CaptureFailed) event()   {}
func (TranscriptFinal) event() {}
func (IntentResolved) event()  {}
func (PlaybackEnded) event()   {}
func (PlaybackFailed) event()  {}
func (SettingsChanged) event() {}
func (restartCapture) event()  {}
func (clearUserText) event()   {}
func (deferred) event()        {}

// Capture error codes that mean the user refused microphone access.
const (
	CodeNotAllowed       = "not-allowed"
	CodePermissionDenied = "permission-denied"
	CodeAborted          = "aborted"
)

func isPermissionDenial(code string) bool {
	return code == CodeNotAllowed || code == CodePermissionDenied
}
