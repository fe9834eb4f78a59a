package turn

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/ashureev/voice-assistant/internal/intent"
	"github.com/ashureev/voice-assistant/internal/speech"
)

// errorCounter counts error records, which the machine emits on an illegal edge.
type errorCounter struct {
	n atomic.Int64
}

func (c *errorCounter) Enabled(_ context.Context, l slog.Level) bool { return l >= slog.LevelError }
func (c *errorCounter) Handle(context.Context, slog.Record) error {
	c.n.Add(1)
	return nil
}
func (c *errorCounter) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *errorCounter) WithGroup(string) slog.Handler      { return c }

func TestRandomInterleavingsKeepInvariants(t *testing.T) {
	t.Parallel()

	transcripts := []string{"", "hello there", "Jarvis", "jarvis open youtube", "JARVIS what's the time", "ok jarvis tell me a joke"}
	codes := []string{CodeNotAllowed, CodePermissionDenied, CodeAborted, "network", "no-speech"}
	types := intent.Types()

	for seed := uint64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewPCG(seed, 42))
		h := newHarness(t)
		errs := &errorCounter{}
		h.m.logger = slog.New(errs)

		for step := 0; step < 2000; step++ {
			var ev Event
			switch rng.IntN(13) {
			case 0:
				ev = Start{Voices: []speech.Voice{{Name: "v", Lang: "en-US"}}}
			case 1:
				if rng.IntN(8) == 0 {
					ev = Stop{}
				} else {
					ev = UserRestart{}
				}
			case 2:
				ev = UserRestart{}
			case 3:
				ev = CaptureStarted{}
			case 4:
				ev = CaptureEnded{}
			case 5:
				ev = CaptureFailed{Code: codes[rng.IntN(len(codes))]}
			case 6, 7:
				ev = TranscriptFinal{Text: transcripts[rng.IntN(len(transcripts))]}
			case 8:
				if len(h.req.requests) == 0 {
					continue
				}
				r := h.req.requests[rng.IntN(len(h.req.requests))]
				in := intent.Intent{Type: types[rng.IntN(len(types))], UserInput: r.command}
				if rng.IntN(5) > 0 {
					in.Response = "reply"
				}
				ev = IntentResolved{Turn: r.turn, Intent: in}
			case 9:
				ev = PlaybackEnded{ID: h.m.utterance - uint64(rng.IntN(2))}
			case 10:
				ev = PlaybackFailed{ID: h.m.utterance, Err: "interrupted"}
			case 11, 12:
				if len(h.sched.pending) == 0 {
					continue
				}
				i := rng.IntN(len(h.sched.pending))
				ev = h.sched.pending[i].ev
				h.sched.pending = append(h.sched.pending[:i], h.sched.pending[i+1:]...)
			}

			h.m.Handle(ev)
			st := h.m.State()

			if st.IsSpeaking && st.IsListening {
				t.Fatalf("seed %d step %d: speaking and listening after %T: %+v", seed, step, ev, st)
			}
			if st.IsSpeaking != (st.Phase == PhaseSpeaking) {
				t.Fatalf("seed %d step %d: IsSpeaking=%v in phase %v after %T", seed, step, st.IsSpeaking, st.Phase, ev)
			}
			if st.IsListening && st.Phase != PhaseAwaitingWake {
				t.Fatalf("seed %d step %d: listening in phase %v after %T", seed, step, st.Phase, ev)
			}
			if st.Phase == PhaseListening {
				t.Fatalf("seed %d step %d: listening phase observable between events", seed, step)
			}
		}

		for i, tr := range h.transitions {
			if !CanTransition(tr[0], tr[1]) {
				t.Fatalf("seed %d: transition %d %v -> %v not in table", seed, i, tr[0], tr[1])
			}
		}
		if n := errs.n.Load(); n != 0 {
			t.Fatalf("seed %d: %d error records, illegal transitions attempted", seed, n)
		}
	}
}
