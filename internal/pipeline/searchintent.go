package pipeline

import (
	"regexp"
	"strings"
)

// maxQueryLength bounds the extracted search query.
const maxQueryLength = 80

// Explicit search verbs in both languages.
var searchVerbRe = regexp.MustCompile(`(?i)^(?:please |por favor )?(?:search|google|look up|find out|busca(?:r|me)?|googlea|averigua|investiga)\b`)

// Interrogative openers that usually want fresh facts.
var interrogativeRe = regexp.MustCompile(`(?i)^¿?(?:what is|what are|who is|who was|how to|where is|when is|qué es|quién es|quién fue|cómo se|dónde está|cuándo es)\b`)

// Named-category questions: current events, prices, weather, time, places.
var categoryRe = regexp.MustCompile(`(?i)\b(?:news|noticias|price of|precio de|weather|clima|tiempo en|what time|qué hora|hora en|capital of|capital de|population of|población de)\b`)

// Lead-ins stripped before the query is extracted.
var queryLeadRe = regexp.MustCompile(`(?i)^¿?(?:please |por favor )?(?:search (?:for |the web for )?|google |look up |find out (?:about )?|busca(?:r|me)? |googlea |averigua |investiga |can you |puedes |podrías |tell me |dime )+`)

// detectSearchIntent applies the deterministic pattern test and extracts a
// bounded query string. Ambient-context wrappers never trigger injection;
// the caller checks for the marker before calling.
func detectSearchIntent(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}

	if !searchVerbRe.MatchString(trimmed) &&
		!interrogativeRe.MatchString(trimmed) &&
		!categoryRe.MatchString(trimmed) {
		return "", false
	}

	query := queryLeadRe.ReplaceAllString(trimmed, "")
	query = strings.Trim(query, " ?¿¡!.")
	if query == "" {
		query = strings.Trim(trimmed, " ?¿¡!.")
	}
	if len(query) > maxQueryLength {
		cut := strings.LastIndex(query[:maxQueryLength], " ")
		if cut <= 0 {
			cut = maxQueryLength
		}
		query = query[:cut]
	}
	return query, true
}
