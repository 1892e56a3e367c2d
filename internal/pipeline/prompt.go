package pipeline

import (
	"fmt"
	"strings"

	"github.com/longregen/clara/internal/search"
	"github.com/longregen/clara/pkg/protocol"
)

// ambientMarker opens the wrapper the ambient listener builds around
// indirect triggers. Utterances starting with it skip search injection and
// the empty-response retry.
const ambientMarker = "[Ambient conversation context:"

// systemPrompt is the fixed instruction sent first on every run. The reply
// is spoken aloud, so it bans markdown, bounds length, and demands an
// emotion tag before every sentence.
func systemPrompt(wakeName, ownerName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a warm voice assistant. You speak Spanish and English; always answer in the language the user spoke.\n", wakeName)
	if ownerName != "" {
		fmt.Fprintf(&b, "Your owner is %s.\n", ownerName)
	}
	b.WriteString("Your replies are spoken aloud:\n")
	b.WriteString("- Never use markdown, bullet points, or headings. Plain sentences only. Code may appear inside triple backticks when the user explicitly asks for code.\n")
	b.WriteString("- Keep answers to 1-3 short sentences unless the user asks for detail.\n")
	fmt.Fprintf(&b, "- Tag EVERY sentence with its emotion immediately before it, like [[emotion:happy]]. Valid emotions: %s.\n", strings.Join(protocol.Emotions, ", "))
	b.WriteString("- Never repeat the same emotion tag on two consecutive sentences.\n")
	b.WriteString("- To offer quick choices, end the reply with [[buttons:option one|option two]].\n")
	return b.String()
}

// searchBlock renders search results as a synthetic addition to the user
// text, instructing the model to cite briefly.
func searchBlock(query string, results []search.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n[Web search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s - %s (%s)\n", i+1, r.Title, r.Snippet, r.URL)
	}
	b.WriteString("Use these results if relevant and cite the source briefly in speech.]")
	return b.String()
}
