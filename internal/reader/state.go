package reader

import "fmt"

// State is a controller state.
type State int

const (
	Reading State = iota
	PauseMenu
	SummarySub
	VoiceControl
	Terminated
)

func (s State) String() string {
	switch s {
	case Reading:
		return "reading"
	case PauseMenu:
		return "pause_menu"
	case SummarySub:
		return "summary"
	case VoiceControl:
		return "voice_control"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	Reading:      {PauseMenu, VoiceControl, Terminated},
	PauseMenu:    {Reading, SummarySub, Terminated},
	SummarySub:   {PauseMenu, VoiceControl, Terminated},
	VoiceControl: {Reading, SummarySub, Terminated},
}

// CanTransition reports whether the controller may move from one state to
// another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeQuit      Outcome = "quit"
	OutcomeEmpty     Outcome = "empty"
	OutcomeCancelled Outcome = "cancelled"
)

// Result describes a finished Run.
type Result struct {
	SessionID string
	Outcome   Outcome
	// Narrated is how many sentences were played to the end.
	Narrated int
	// Skipped counts sentences passed over because synthesis failed.
	Skipped int
}
