package pipeline

import "testing"

func TestNextSentence(t *testing.T) {
	cases := []struct {
		name      string
		in        string
		sentence  string
		remaining string
	}{
		{"no boundary", "Hola mundo", "", "Hola mundo"},
		{"period space", "Hola. Qué tal", "Hola.", "Qué tal"},
		{"question space", "¿Vienes? Claro", "¿Vienes?", "Claro"},
		{"exclamation space", "¡Vamos! Ahora", "¡Vamos!", "Ahora"},
		{"boundary before emotion tag", "Listo.[[emotion:happy]] Sigo", "Listo.", "[[emotion:happy]] Sigo"},
		{"trailing period waits", "Esto sigue.", "", "Esto sigue."},
		{"decimal number no break", "Cuesta 3.50 euros", "", "Cuesta 3.50 euros"},
		{"empty", "", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sentence, remaining := nextSentence(tc.in)
			if sentence != tc.sentence || remaining != tc.remaining {
				t.Errorf("nextSentence(%q) = (%q, %q), want (%q, %q)",
					tc.in, sentence, remaining, tc.sentence, tc.remaining)
			}
		})
	}
}

func TestNextSentenceDrainsBuffer(t *testing.T) {
	text := "Uno. Dos. Tres"
	var sentences []string
	for {
		sentence, remaining := nextSentence(text)
		if sentence == "" {
			break
		}
		sentences = append(sentences, sentence)
		text = remaining
	}
	if len(sentences) != 2 || sentences[0] != "Uno." || sentences[1] != "Dos." {
		t.Errorf("unexpected sentences %q (tail %q)", sentences, text)
	}
	if text != "Tres" {
		t.Errorf("tail: got %q", text)
	}
}
