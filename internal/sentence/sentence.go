// Package sentence splits OCR text into speakable narration units.
package sentence

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMinLength is the rune length below which a piece is treated as OCR
// noise and merged into the previous sentence.
const DefaultMinLength = 10

// Sentence is one indivisible narrated unit.
type Sentence struct {
	Index int
	Text  string
}

// Split breaks text after '.', '!' or '?' followed by whitespace, trims the
// pieces and greedily merges every piece shorter than minLength into the
// sentence before it. The first piece is always kept on its own.
func Split(text string, minLength int) []Sentence {
	pieces := pieces(text)
	if len(pieces) == 0 {
		return nil
	}

	merged := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		if len(merged) > 0 && utf8.RuneCountInString(piece) < minLength {
			merged[len(merged)-1] += " " + piece
			continue
		}
		merged = append(merged, piece)
	}

	out := make([]Sentence, len(merged))
	for i, s := range merged {
		out[i] = Sentence{Index: i, Text: s}
	}
	return out
}

// Texts returns the text of each sentence in order.
func Texts(sentences []Sentence) []string {
	out := make([]string, len(sentences))
	for i, s := range sentences {
		out[i] = s.Text
	}
	return out
}

func pieces(text string) []string {
	var out []string
	add := func(raw string) {
		if s := strings.TrimSpace(raw); s != "" {
			out = append(out, s)
		}
	}

	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		next := i + size
		if isTerminal(r) && next < len(text) {
			ws, _ := utf8.DecodeRuneInString(text[next:])
			if unicode.IsSpace(ws) {
				add(text[start:next])
				j := next
				for j < len(text) {
					r2, s2 := utf8.DecodeRuneInString(text[j:])
					if !unicode.IsSpace(r2) {
						break
					}
					j += s2
				}
				start = j
				i = j
				continue
			}
		}
		i = next
	}
	add(text[start:])
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
