// Package speech holds the device-independent parts of speech output.
package speech

import "strings"

// DefaultLanguage is used when the profile has no assistant language.
const DefaultLanguage = "en-US"

// Voice is a synthesis voice reported by the client device.
type Voice struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// Family returns the general language of a BCP 47 tag ("en" for "en-GB").
func Family(lang string) string {
	lang = strings.ReplaceAll(lang, "_", "-")
	if i := strings.IndexByte(lang, '-'); i >= 0 {
		return strings.ToLower(lang[:i])
	}
	return strings.ToLower(lang)
}

// SelectVoice picks the voice whose tag equals lang, else the first voice of the same
// language family. ok is false when neither exists and the device default must be used.
func SelectVoice(voices []Voice, lang string) (Voice, bool) {
	if lang == "" {
		lang = DefaultLanguage
	}
	for _, v := range voices {
		if strings.EqualFold(v.Lang, lang) {
			return v, true
		}
	}
	family := Family(lang)
	for _, v := range voices {
		if Family(v.Lang) == family {
			return v, true
		}
	}
	return Voice{}, false
}
