package reader

import (
	"strings"

	"github.com/loqalabs/loqa-reader/internal/sentence"
)

// Session is the mutable progress of one reading pass. History is always
// the first Index sentences; only Advance moves either.
type Session struct {
	ID        string
	sentences []sentence.Sentence
	index     int
	history   []string
}

func NewSession(id string, sentences []sentence.Sentence) *Session {
	return &Session{ID: id, sentences: sentences}
}

func (s *Session) Len() int   { return len(s.sentences) }
func (s *Session) Index() int { return s.index }
func (s *Session) Done() bool { return s.index >= len(s.sentences) }

// Current returns the sentence that a resume replays.
func (s *Session) Current() (sentence.Sentence, bool) {
	if s.Done() {
		return sentence.Sentence{}, false
	}
	return s.sentences[s.index], true
}

// Advance marks the current sentence as fully narrated.
func (s *Session) Advance() {
	if s.Done() {
		return
	}
	s.history = append(s.history, s.sentences[s.index].Text)
	s.index++
}

// History returns a copy of the narrated sentences.
func (s *Session) History() []string {
	return append([]string(nil), s.history...)
}

// HistoryText joins the narrated sentences with single spaces.
func (s *Session) HistoryText() string {
	return strings.Join(s.history, " ")
}
