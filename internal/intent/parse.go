package intent

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	fencedJSON = regexp.MustCompile("```json\\s*([\\s\\S]*?)\\s*```")
	bareObject = regexp.MustCompile(`\{[\s\S]*\}`)

	errUnparseable = errors.New("model output is not a JSON object")
)

// rawIntent keeps fields untyped so a missing type can be told apart from an unknown one.
type rawIntent struct {
	Type      string `json:"type"`
	UserInput string `json:"userInput"`
	Response  string `json:"response"`
}

// parseModelOutput decodes the generated text, falling back to a fenced block and then
// to the outermost braces.
func parseModelOutput(text string) (rawIntent, error) {
	var out rawIntent
	text = strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}
	if m := fencedJSON.FindStringSubmatch(text); len(m) == 2 {
		if err := json.Unmarshal([]byte(m[1]), &out); err == nil {
			return out, nil
		}
	}
	if m := bareObject.FindString(text); m != "" {
		if err := json.Unmarshal([]byte(m), &out); err == nil {
			return out, nil
		}
	}
	return rawIntent{}, errUnparseable
}
