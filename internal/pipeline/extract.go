package pipeline

import (
	"regexp"
	"strings"

	"github.com/longregen/clara/pkg/protocol"
)

// artifactMinLength is the code-block size below which content stays inline
// in the spoken reply.
const artifactMinLength = 200

type artifact struct {
	Content  string
	Language string
	Title    string
}

var fencedBlockRe = regexp.MustCompile("(?s)```([a-zA-Z0-9+#-]*)[ \t]*\n(.*?)```")

// extractArtifacts pulls long fenced code blocks out of the full reply text
// for out-of-band display.
func extractArtifacts(text string) []artifact {
	var out []artifact
	for _, m := range fencedBlockRe.FindAllStringSubmatch(text, -1) {
		content := strings.TrimRight(m[2], "\n")
		if len(content) <= artifactMinLength {
			continue
		}
		language := m[1]
		title := "Code"
		if language != "" {
			title = strings.ToUpper(language[:1]) + language[1:] + " snippet"
		}
		out = append(out, artifact{Content: content, Language: language, Title: title})
	}
	return out
}

var buttonsRe = regexp.MustCompile(`\[\[buttons:([^\]]+)\]\]\s*$`)

// extractButtons parses a trailing [[buttons:opt1|opt2|...]] block. Returns
// the text with the block removed and the parsed options.
func extractButtons(text string) (string, []protocol.ButtonOption) {
	m := buttonsRe.FindStringSubmatch(text)
	if m == nil {
		return text, nil
	}

	var options []protocol.ButtonOption
	for _, raw := range strings.Split(m[1], "|") {
		opt := strings.TrimSpace(raw)
		if opt == "" {
			continue
		}
		options = append(options, protocol.ButtonOption{Text: opt, Value: opt})
	}
	cleaned := strings.TrimSpace(strings.TrimSuffix(text, m[0]))
	return cleaned, options
}
