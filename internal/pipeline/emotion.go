package pipeline

import (
	"regexp"
	"strings"

	"github.com/longregen/clara/pkg/protocol"
)

var emotionTagRe = regexp.MustCompile(`^\s*\[\[emotion:([a-z]+)\]\]\s*`)

// parseEmotion strips a leading [[emotion:<label>]] tag. Labels outside the
// closed set are stripped but reported as absent so the keyword fallback runs.
func parseEmotion(sentence string) (emotion, cleaned string, found bool) {
	m := emotionTagRe.FindStringSubmatch(sentence)
	if m == nil {
		return "", sentence, false
	}
	cleaned = sentence[len(m[0]):]
	if !protocol.ValidEmotion(m[1]) {
		return "", cleaned, false
	}
	return m[1], cleaned, true
}

// stripEmotionTags removes every emotion tag, for history commits and
// post-stream extraction over the full text.
var anyEmotionTagRe = regexp.MustCompile(`\[\[emotion:[a-z]+\]\]\s*`)

func stripEmotionTags(text string) string {
	return strings.TrimSpace(anyEmotionTagRe.ReplaceAllString(text, ""))
}

// emotionLexicon maps keywords in both supported languages to a label. The
// first hit wins, scanning in a fixed order so results are deterministic.
var emotionLexicon = []struct {
	label string
	words []string
}{
	{protocol.EmotionLaughing, []string{"jaja", "jeje", "haha", "lol", "qué risa", "hilarious", "divertid"}},
	{protocol.EmotionHappy, []string{"genial", "me alegro", "perfecto", "excelente", "great", "awesome", "wonderful", "glad", "fantástico", "enhorabuena", "congrat"}},
	{protocol.EmotionSad, []string{"lo siento", "lamento", "triste", "sorry", "sadly", "unfortunately", "lamentablemente", "qué pena"}},
	{protocol.EmotionSurprised, []string{"increíble", "no puedo creer", "vaya", "wow", "incredible", "unbelievable", "sorprendente", "amazing"}},
	{protocol.EmotionConfused, []string{"no entiendo", "no estoy seguro", "confus", "not sure", "i don't understand", "no sé bien"}},
	{protocol.EmotionThinking, []string{"déjame pensar", "veamos", "hmm", "let me think", "considering", "déjame ver", "a ver"}},
	{protocol.EmotionAngry, []string{"qué rabia", "molesto", "indignante", "outrageous", "frustrating", "annoying"}},
	{protocol.EmotionLove, []string{"me encanta", "te quiero", "encantador", "i love", "lovely", "adorable", "cariño"}},
}

// deriveEmotion guesses a label for an untagged sentence: keyword lexicon
// first, then punctuation, then neutral.
func deriveEmotion(text string) string {
	lower := strings.ToLower(text)
	for _, entry := range emotionLexicon {
		for _, word := range entry.words {
			if strings.Contains(lower, word) {
				return entry.label
			}
		}
	}
	switch {
	case strings.HasSuffix(text, "!") || strings.HasPrefix(text, "¡"):
		return protocol.EmotionSurprised
	case strings.HasSuffix(text, "?") || strings.HasPrefix(text, "¿"):
		return protocol.EmotionThinking
	}
	return protocol.EmotionNeutral
}
