package asr

import (
	"strings"
	"unicode"
)

// hallucinationPhrases are transcripts whisper-family models produce from
// silence or music: broadcast sign-offs and subtitle credits in both
// supported languages. Matching is whole-transcript after normalisation.
var hallucinationPhrases = []string{
	"thanks for watching",
	"thank you for watching",
	"please subscribe",
	"don't forget to subscribe",
	"subtitles by the amara.org community",
	"subtitles created by the community",
	"see you in the next video",
	"gracias por ver",
	"gracias por ver el video",
	"no olvides suscribirte",
	"suscríbete al canal",
	"subtítulos realizados por la comunidad de amara.org",
	"nos vemos en el próximo video",
	"hasta la próxima",
}

// Garbage reports whether a transcript is an artefact rather than speech. It
// is the second-layer filter behind the confidence thresholds: hallucination
// phrases, a single short phrase repeated over and over, heavy script mixing,
// and a vocabulary that is nearly all duplicates.
func Garbage(text string) bool {
	normalized := normalize(text)
	if normalized == "" {
		return true
	}

	stripped := strings.TrimRight(normalized, ".!?¡¿ ")
	for _, phrase := range hallucinationPhrases {
		if stripped == phrase {
			return true
		}
	}

	words := strings.Fields(normalized)
	if repetitiveShortPhrase(words) {
		return true
	}
	if mixedScriptRatio(text) > 0.3 {
		return true
	}
	if len(words) >= 8 && duplicationRatio(words) > 0.8 {
		return true
	}
	return false
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// repetitiveShortPhrase detects outputs like "ya ya ya ya ya" where a one- or
// two-word unit accounts for the whole transcript.
func repetitiveShortPhrase(words []string) bool {
	if len(words) < 4 {
		return false
	}
	for unit := 1; unit <= 2; unit++ {
		if len(words)%unit != 0 {
			continue
		}
		repeated := true
		for i := unit; i < len(words); i++ {
			if words[i] != words[i%unit] {
				repeated = false
				break
			}
		}
		if repeated {
			return true
		}
	}
	return false
}

// mixedScriptRatio is the fraction of letters outside the Latin script.
// Spanish and English are both Latin, so a high ratio means the model
// wandered into another language entirely.
func mixedScriptRatio(text string) float64 {
	var letters, foreign int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if !unicode.Is(unicode.Latin, r) {
			foreign++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(foreign) / float64(letters)
}

// duplicationRatio is 1 minus the distinct-word fraction.
func duplicationRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	distinct := make(map[string]struct{}, len(words))
	for _, w := range words {
		distinct[strings.Trim(w, ".,!?¿¡")] = struct{}{}
	}
	return 1 - float64(len(distinct))/float64(len(words))
}
