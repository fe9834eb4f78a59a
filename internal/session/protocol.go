package session

import (
	"fmt"
	"time"

	"github.com/ashureev/voice-assistant/internal/speech"
	"github.com/ashureev/voice-assistant/internal/turn"
)

// Client message types.
const (
	TypeStart          = "start"
	TypeStop           = "stop"
	TypeRestart        = "restart"
	TypeCaptureStarted = "capture.started"
	TypeCaptureEnded   = "capture.ended"
	TypeCaptureError   = "capture.error"
	TypeTranscript     = "transcript"
	TypeSpeechEnded    = "speech.ended"
	TypeSpeechError    = "speech.error"
	TypePing           = "ping"
)

// Server message types.
const (
	TypeState         = "state"
	TypeCaptureStart  = "capture.start"
	TypeCaptureStop   = "capture.stop"
	TypeSpeak         = "speak"
	TypeSpeechCancel  = "speech.cancel"
	TypeOpen          = "open"
	TypeUserText      = "user_text"
	TypeAssistantText = "assistant_text"
	TypePong          = "pong"
	TypeError         = "error"
)

// ClientMessage is a frame sent by the browser.
type ClientMessage struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Code   string         `json:"code,omitempty"`
	ID     uint64         `json:"id,omitempty"`
	Error  string         `json:"error,omitempty"`
	Voices []speech.Voice `json:"voices,omitempty"`
}

// ServerMessage is a frame sent to the browser.
type ServerMessage struct {
	Type      string                  `json:"type"`
	State     *turn.ConversationState `json:"state,omitempty"`
	Lang      string                  `json:"lang,omitempty"`
	Utterance *turn.Utterance         `json:"utterance,omitempty"`
	URL       string                  `json:"url,omitempty"`
	Text      string                  `json:"text,omitempty"`
	Message   string                  `json:"message,omitempty"`
}

// Event converts a client message into a machine event. Ping has no event.
func (m ClientMessage) Event(now time.Time) (turn.Event, error) {
	switch m.Type {
	case TypeStart:
		return turn.Start{Voices: m.Voices}, nil
	case TypeStop:
		return turn.Stop{}, nil
	case TypeRestart:
		return turn.UserRestart{}, nil
	case TypeCaptureStarted:
		return turn.CaptureStarted{}, nil
	case TypeCaptureEnded:
		return turn.CaptureEnded{}, nil
	case TypeCaptureError:
		return turn.CaptureFailed{Code: m.Code}, nil
	case TypeTranscript:
		return turn.TranscriptFinal{Text: m.Text, At: now}, nil
	case TypeSpeechEnded:
		return turn.PlaybackEnded{ID: m.ID}, nil
	case TypeSpeechError:
		return turn.PlaybackFailed{ID: m.ID, Err: m.Error}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}
}
