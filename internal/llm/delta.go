package llm

import "strings"

// deltaTracker converts a stream of text events into incremental deltas.
// Some model servers send the full accumulated text on every event, others
// send only the new suffix; a tracker tells them apart by checking whether
// the event starts with everything observed so far.
type deltaTracker struct {
	seen string
}

// Next returns the incremental portion of event text.
func (d *deltaTracker) Next(text string) string {
	if d.seen != "" && strings.HasPrefix(text, d.seen) {
		inc := text[len(d.seen):]
		d.seen = text
		return inc
	}
	d.seen += text
	return text
}
