package ambient

import "strings"

// Trigger reasons, in the order they are checked.
const (
	reasonName           = "name"
	reasonWakePhrase     = "wake_phrase"
	reasonQuestion       = "question"
	reasonOpinionRequest = "opinion_request"
)

const wakePhraseMaxLength = 80

var wakeLeadIns = []string{
	"hey", "oye", "che", "hola", "escucha", "okay", "ok", "listen", "oi",
}

var questionPhrases = []string{
	"what do you think", "do you know", "can you", "could you", "tell me",
	"qué opinas", "qué piensas", "sabes", "puedes", "podrías", "dime",
}

var opinionPhrases = []string{
	"what about you", "your opinion", "y tú", "y vos", "tu opinión",
}

// decide computes whether an accepted ambient utterance warrants a reply.
func decide(text, wakeName string) (string, bool) {
	folded := foldForMatch(text)

	if wakeName != "" && strings.Contains(folded, foldForMatch(wakeName)) {
		return reasonName, true
	}
	if len(text) < wakePhraseMaxLength {
		for _, lead := range wakeLeadIns {
			if strings.HasPrefix(folded, lead+" ") || strings.HasPrefix(folded, lead+",") {
				return reasonWakePhrase, true
			}
		}
	}
	for _, phrase := range opinionPhrases {
		if strings.Contains(folded, foldForMatch(phrase)) {
			return reasonOpinionRequest, true
		}
	}
	for _, phrase := range questionPhrases {
		if strings.Contains(folded, foldForMatch(phrase)) {
			return reasonQuestion, true
		}
	}
	return "", false
}

var accentFold = map[rune]rune{
	'á': 'a', 'à': 'a', 'ä': 'a', 'â': 'a',
	'é': 'e', 'è': 'e', 'ë': 'e', 'ê': 'e',
	'í': 'i', 'ì': 'i', 'ï': 'i', 'î': 'i',
	'ó': 'o', 'ò': 'o', 'ö': 'o', 'ô': 'o',
	'ú': 'u', 'ù': 'u', 'ü': 'u', 'û': 'u',
	'ñ': 'n', 'ç': 'c',
}

// foldForMatch lowercases and strips Spanish accents, one rune to one rune,
// so indices found on folded text line up with the original rune slice.
func foldForMatch(s string) string {
	return strings.Map(func(r rune) rune {
		r = toLowerRune(r)
		if f, ok := accentFold[r]; ok {
			return f
		}
		return r
	}, s)
}

func toLowerRune(r rune) rune {
	return []rune(strings.ToLower(string(r)))[0]
}

// stripWakeName removes the first occurrence of the wake-name, with any
// trailing comma or colon, matching case- and accent-insensitively.
func stripWakeName(text, wakeName string) string {
	if wakeName == "" {
		return text
	}
	textRunes := []rune(text)
	foldedText := []rune(foldForMatch(text))
	foldedWake := []rune(foldForMatch(wakeName))

	idx := runeIndex(foldedText, foldedWake)
	if idx < 0 {
		return text
	}
	end := idx + len(foldedWake)
	for end < len(textRunes) && (textRunes[end] == ',' || textRunes[end] == ':' || textRunes[end] == ' ') {
		end++
	}
	start := idx
	for start > 0 && textRunes[start-1] == ' ' {
		start--
	}
	before := strings.TrimSpace(string(textRunes[:start]))
	// "Che jarvis, ..." sheds the lead-in along with the name.
	for _, lead := range wakeLeadIns {
		if foldForMatch(before) == lead {
			before = ""
			break
		}
	}
	out := strings.TrimSpace(before + " " + string(textRunes[end:]))
	return strings.TrimLeft(out, ",:; ")
}

func runeIndex(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
