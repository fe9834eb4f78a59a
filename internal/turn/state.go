// Package turn implements the conversational turn-taking state machine: it keeps
// listening and speaking mutually exclusive, gates commands on the wake word and
// drives capture restarts after playback and device errors.
package turn

import (
	"fmt"
	"strings"
)

// Phase is the position of a session in the turn cycle.
type Phase int

const (
	// PhaseIdle - session not started yet.
	PhaseIdle Phase = iota
	// PhaseAwaitingWake - capture runs, transcripts are checked for the wake word.
	PhaseAwaitingWake
	// PhaseListening - wake word heard, command being extracted.
	PhaseListening
	// PhaseResolving - waiting for the intent of the command.
	PhaseResolving
	// PhaseSpeaking - a reply is being played.
	PhaseSpeaking
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingWake:
		return "awaiting_wake"
	case PhaseListening:
		return "listening"
	case PhaseResolving:
		return "resolving"
	case PhaseSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for c := PhaseIdle; c <= PhaseSpeaking; c++ {
		if strings.EqualFold(string(b), c.String()) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(b))
}

// edges is the complete transition table.
//
//	idle ──► awaiting_wake ──► listening ──► resolving ──► speaking ──► awaiting_wake
//	              │                 │            │             ▲  │
//	              └── greeting ─────┴── prompt ──┼─────────────┘  └─ new playback
//	                                             └── nothing to say ──► awaiting_wake
var edges = map[Phase][]Phase{
	PhaseIdle:         {PhaseAwaitingWake},
	PhaseAwaitingWake: {PhaseListening, PhaseSpeaking},
	PhaseListening:    {PhaseResolving, PhaseSpeaking},
	PhaseResolving:    {PhaseSpeaking, PhaseAwaitingWake},
	PhaseSpeaking:     {PhaseSpeaking, PhaseAwaitingWake},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Phase) bool {
	for _, p := range edges[from] {
		if p == to {
			return true
		}
	}
	return false
}

// ConversationState is the single mutable state of a session. Only the Machine writes it.
type ConversationState struct {
	Phase               Phase  `json:"phase"`
	IsSpeaking          bool   `json:"isSpeaking"`
	IsListening         bool   `json:"isListening"`
	MicPermissionDenied bool   `json:"micPermissionDenied"`
	Started             bool   `json:"started"`
	AssistantName       string `json:"assistantName"`
	AssistantLanguage   string `json:"assistantLanguage"`
	UserName            string `json:"userName"`
	UserText            string `json:"userText"`
	AssistantText       string `json:"assistantText"`
}
