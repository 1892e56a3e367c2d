package pipeline

import "strings"

// maxSentenceLength forces a break when the model refuses to punctuate.
const maxSentenceLength = 10000

// nextSentence splits the first complete sentence off the rolling buffer.
// A sentence ends at [.!?] followed by a space or the start of the next
// emotion tag. Returns ("", text) when the buffer holds no complete sentence
// yet; the tail is flushed separately when the stream ends.
func nextSentence(text string) (sentence, remaining string) {
	if text == "" {
		return "", ""
	}

	for i, char := range text {
		if char != '.' && char != '!' && char != '?' {
			continue
		}
		rest := text[i+1:]
		if rest == "" {
			// boundary may continue (e.g. "..." or "?!"), wait for more
			return "", text
		}
		if rest[0] == ' ' || strings.HasPrefix(rest, "[[") {
			return strings.TrimSpace(text[:i+1]), strings.TrimSpace(rest)
		}
	}

	if len(text) > maxSentenceLength {
		cut := strings.LastIndex(text[:maxSentenceLength], " ")
		if cut <= 0 {
			cut = maxSentenceLength
		}
		return strings.TrimSpace(text[:cut]), strings.TrimSpace(text[cut:])
	}
	return "", text
}
