package ambient

import (
	"regexp"
	"strings"
)

var selfIntroPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:me llamo|mi nombre es|soy)\s+([\p{L}]+)`),
	regexp.MustCompile(`(?i)\b(?:my name is|i am|i'm|call me)\s+([\p{L}]+)`),
}

// Words the intro patterns routinely capture that are not names.
var introBlacklist = map[string]bool{
	"yo": true, "aquí": true, "bien": true, "muy": true, "el": true,
	"la": true, "un": true, "una": true, "de": true, "tu": true,
	"not": true, "sure": true, "sorry": true, "here": true, "good": true,
	"fine": true, "okay": true, "just": true, "so": true, "the": true,
	"going": true, "gonna": true,
}

// selfIntroducedName extracts a plausible name from a self-introduction.
// Bounded to 2-20 characters and filtered against common false positives.
func selfIntroducedName(text string) (string, bool) {
	for _, re := range selfIntroPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		candidate := strings.TrimSpace(m[1])
		if len(candidate) < 2 || len(candidate) > 20 {
			continue
		}
		if introBlacklist[strings.ToLower(candidate)] {
			continue
		}
		return capitalize(candidate), true
	}
	return "", false
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
	return string(runes)
}

// anonymousLabel reports whether the speaker-ID service returned an
// auto-generated placeholder rather than an enrolled name.
func anonymousLabel(label string) bool {
	lower := strings.ToLower(label)
	return label == "" || lower == "unknown" || strings.HasPrefix(lower, "speaker")
}
