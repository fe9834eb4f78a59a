// Package dispatch maps a resolved intent to its side effects: the spoken reply and,
// for some types, a web resource opened in a new browsing context.
package dispatch

import (
	"net/url"
	"time"

	"github.com/ashureev/voice-assistant/internal/intent"
)

// OpenDelay separates the start of speech from opening a URL, so playback is already
// audible when the new browsing context takes focus.
const OpenDelay = 500 * time.Millisecond

// Speaker plays text.
type Speaker interface {
	Speak(text string)
}

// SpeakerFunc adapts a function to Speaker.
type SpeakerFunc func(text string)

// Speak calls f(text).
func (f SpeakerFunc) Speak(text string) { f(text) }

// Opener opens a URL in a new browsing context.
type Opener interface {
	Open(url string)
}

// Delayer runs f after d. Implementations must not block the caller.
type Delayer interface {
	After(d time.Duration, f func())
}

// DelayerFunc adapts a function to Delayer.
type DelayerFunc func(d time.Duration, f func())

// After calls fn(d, f).
func (fn DelayerFunc) After(d time.Duration, f func()) { fn(d, f) }

// Dispatcher applies intents.
type Dispatcher struct {
	speaker Speaker
	opener  Opener
	delayer Delayer
}

// New creates a Dispatcher.
func New(speaker Speaker, opener Opener, delayer Delayer) *Dispatcher {
	return &Dispatcher{speaker: speaker, opener: opener, delayer: delayer}
}

// Dispatch speaks the response and schedules the URL open, if the type has one.
func (d *Dispatcher) Dispatch(in intent.Intent) {
	d.speaker.Speak(in.Response)

	target, ok := URLFor(in)
	if !ok || d.opener == nil {
		return
	}
	d.delayer.After(OpenDelay, func() { d.opener.Open(target) })
}

type link func(query string) string

func fixed(u string) link {
	return func(string) string { return u }
}

func googleSearch(q string) string {
	return "https://www.google.com/search?q=" + q
}

func youtubeResults(q string) string {
	return "https://www.youtube.com/results?search_query=" + q
}

// links is total over intent.Types(): a nil entry means speech only.
var links = map[intent.Type]link{
	intent.TypeGoogleSearch:   googleSearch,
	intent.TypeCalculatorOpen: fixed("https://www.google.com/search?q=calculator"),
	intent.TypeInstagramOpen:  fixed("https://www.instagram.com/"),
	intent.TypeFacebookOpen:   fixed("https://www.facebook.com/"),
	intent.TypeWeatherShow:    fixed("https://www.google.com/search?q=weather"),
	intent.TypeYoutubeSearch:  youtubeResults,
	intent.TypeYoutubePlay:    youtubeResults,

	intent.TypeChat:            nil,
	intent.TypeGetTime:         nil,
	intent.TypeGetDate:         nil,
	intent.TypeGetDay:          nil,
	intent.TypeGetMonth:        nil,
	intent.TypeNewsShow:        nil,
	intent.TypeJoke:            nil,
	intent.TypeQuote:           nil,
	intent.TypeWikipediaSearch: nil,
	intent.TypeWhatsappOpen:    nil,
	intent.TypeMapsOpen:        nil,
	intent.TypeDefine:          nil,
	intent.TypeSummarize:       nil,
	intent.TypeTranslate:       nil,
	intent.TypeError:           nil,
	intent.TypeUnknown:         nil,
}

// URLFor returns the resource to open for in, with UserInput percent-encoded as the query.
func URLFor(in intent.Intent) (string, bool) {
	l := links[in.Type]
	if l == nil {
		return "", false
	}
	return l(url.QueryEscape(in.UserInput)), true
}
