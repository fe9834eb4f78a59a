package intent

import (
	"fmt"
	"strings"
)

// BuildPrompt composes the single prompt sent to the generative endpoint.
func BuildPrompt(utterance, assistantName, userName string) string {
	quoted := make([]string, len(Whitelist))
	for i, t := range Whitelist {
		quoted[i] = fmt.Sprintf("%q", string(t))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a smart, friendly, and multilingual voice assistant named %s, created by %s.\n", assistantName, userName)
	b.WriteString("Respond in this **strict JSON** format only:\n\n")
	b.WriteString("{\n")
	fmt.Fprintf(&b, "  \"type\": %s,\n", strings.Join(quoted, " | "))
	b.WriteString("  \"userInput\": \"<essential part of user request>\",\n")
	b.WriteString("  \"response\": \"<spoken reply>\"\n")
	b.WriteString("}\n\n")
	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- If user asks who created you, say %q.\n", userName)
	b.WriteString("- For searches, put only the search query in userInput, without your own name.\n")
	b.WriteString("- Respond ONLY as JSON. No extra text.\n")
	b.WriteString("- Keep the reply short and friendly for speaking.\n\n")
	fmt.Fprintf(&b, "User: %s", utterance)
	return b.String()
}
