package reader

import (
	"reflect"
	"testing"

	"github.com/loqalabs/loqa-reader/internal/sentence"
)

func TestSessionHistoryIsPrefix(t *testing.T) {
	sentences := sentence.Split("First sentence here. Second sentence here. Third sentence here.", sentence.DefaultMinLength)
	s := NewSession("id", sentences)
	texts := sentence.Texts(sentences)
	for i := 0; i <= len(sentences); i++ {
		if s.Index() != i {
			t.Fatalf("index %d, want %d", s.Index(), i)
		}
		if !reflect.DeepEqual(s.History(), append([]string(nil), texts[:i]...)) {
			t.Fatalf("history %v is not prefix %v", s.History(), texts[:i])
		}
		s.Advance()
	}
	if !s.Done() {
		t.Fatal("expected session done")
	}
	s.Advance()
	if s.Index() != len(sentences) {
		t.Fatalf("advance past end moved index to %d", s.Index())
	}
	if _, ok := s.Current(); ok {
		t.Fatal("expected no current sentence")
	}
	if got := s.HistoryText(); got != "First sentence here. Second sentence here. Third sentence here." {
		t.Fatalf("unexpected history text %q", got)
	}
}

func TestHistoryIsACopy(t *testing.T) {
	s := NewSession("id", sentence.Split("Something long enough. Another long one.", 10))
	s.Advance()
	h := s.History()
	h[0] = "tampered"
	if s.History()[0] == "tampered" {
		t.Fatal("history leaked internal slice")
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to State }{
		{Reading, PauseMenu}, {Reading, VoiceControl}, {Reading, Terminated},
		{PauseMenu, Reading}, {PauseMenu, SummarySub}, {PauseMenu, Terminated},
		{SummarySub, PauseMenu}, {SummarySub, VoiceControl}, {SummarySub, Terminated},
		{VoiceControl, Reading}, {VoiceControl, SummarySub}, {VoiceControl, Terminated},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}
	denied := []struct{ from, to State }{
		{Reading, SummarySub}, {Terminated, Reading}, {PauseMenu, VoiceControl}, {VoiceControl, PauseMenu},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}
