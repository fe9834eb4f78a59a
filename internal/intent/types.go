// Package intent turns a spoken command into a typed, validated Intent.
package intent

import "strings"

// Type is the closed set of intent kinds the assistant understands.
type Type string

const (
	TypeChat            Type = "chat"
	TypeGoogleSearch    Type = "google-search"
	TypeYoutubeSearch   Type = "youtube-search"
	TypeYoutubePlay     Type = "youtube-play"
	TypeGetTime         Type = "get-time"
	TypeGetDate         Type = "get-date"
	TypeGetDay          Type = "get-day"
	TypeGetMonth        Type = "get-month"
	TypeCalculatorOpen  Type = "calculator-open"
	TypeInstagramOpen   Type = "instagram-open"
	TypeFacebookOpen    Type = "facebook-open"
	TypeWeatherShow     Type = "weather-show"
	TypeNewsShow        Type = "news-show"
	TypeJoke            Type = "joke"
	TypeQuote           Type = "quote"
	TypeWikipediaSearch Type = "wikipedia-search"
	TypeWhatsappOpen    Type = "whatsapp-open"
	TypeMapsOpen        Type = "maps-open"
	TypeDefine          Type = "define"
	TypeSummarize       Type = "summarize"
	TypeTranslate       Type = "translate"

	// TypeError marks a pipeline failure (misconfiguration, network, unparseable output).
	TypeError Type = "error"
	// TypeUnknown marks a well-formed answer whose type is outside the whitelist.
	TypeUnknown Type = "unknown"
)

// Whitelist lists the types the model may answer with, in prompt order.
var Whitelist = []Type{
	TypeChat, TypeGoogleSearch, TypeYoutubeSearch, TypeYoutubePlay,
	TypeGetTime, TypeGetDate, TypeGetDay, TypeGetMonth,
	TypeCalculatorOpen, TypeInstagramOpen, TypeFacebookOpen, TypeWeatherShow,
	TypeNewsShow, TypeJoke, TypeQuote, TypeWikipediaSearch,
	TypeWhatsappOpen, TypeMapsOpen, TypeDefine, TypeSummarize, TypeTranslate,
}

// Types returns every Type, including the pipeline variants.
func Types() []Type {
	all := make([]Type, 0, len(Whitelist)+2)
	all = append(all, Whitelist...)
	return append(all, TypeError, TypeUnknown)
}

var folded = func() map[string]Type {
	m := make(map[string]Type, len(Whitelist)+1)
	for _, t := range Whitelist {
		m[string(t)] = t
	}
	// Older prompts advertised the media search as plain "Youtube".
	m["youtube"] = TypeYoutubeSearch
	return m
}()

// Canonical case-folds raw against the whitelist. Case is the only normalization.
func Canonical(raw string) (Type, bool) {
	t, ok := folded[strings.ToLower(raw)]
	return t, ok
}

// IsClock reports whether t is answered from the local clock rather than the model.
func (t Type) IsClock() bool {
	switch t {
	case TypeGetTime, TypeGetDate, TypeGetDay, TypeGetMonth:
		return true
	}
	return false
}

// Intent is the structured result of interpreting an utterance.
type Intent struct {
	Type      Type   `json:"type"`
	UserInput string `json:"userInput"`
	Response  string `json:"response"`
}

// IsFailure reports whether the intent is one of the pipeline variants.
func (i Intent) IsFailure() bool {
	return i.Type == TypeError || i.Type == TypeUnknown
}

// User-facing sentences for the failure paths.
const (
	MsgMisconfigured = "Server misconfiguration. Please contact admin."
	MsgProblem       = "Sorry, the assistant ran into a problem. Please try again later."
	MsgIncomplete    = "Assistant didn't understand properly. Please repeat."
	MsgUnknown       = "I didn't understand that command."
)

func failure(utterance, msg string) Intent {
	return Intent{Type: TypeError, UserInput: utterance, Response: msg}
}
