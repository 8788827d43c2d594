package engine

import "fmt"

type Phase uint8

const (
	PhaseLobby Phase = iota
	PhaseRound
	PhaseMeeting
	PhaseGameOver
	PhaseDeleted
)

func (p Phase) String() string {
	switch p {
	case PhaseLobby:
		return "lobby"
	case PhaseRound:
		return "round"
	case PhaseMeeting:
		return "meeting"
	case PhaseGameOver:
		return "gameover"
	case PhaseDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for c := PhaseLobby; c <= PhaseDeleted; c++ {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// DerivePhase computes the phase from the record. A nil session means the
// document no longer exists. Stale flags are disambiguated by precedence:
// GameOver, then Meeting, then Round, then Lobby.
func DerivePhase(s *Session) Phase {
	switch {
	case s == nil:
		return PhaseDeleted
	case s.GameEnded:
		return PhaseGameOver
	case s.GameStarted && s.MeetingCalled:
		return PhaseMeeting
	case s.GameStarted:
		return PhaseRound
	default:
		return PhaseLobby
	}
}

var transitions = map[Phase][]Phase{
	PhaseLobby:    {PhaseRound},
	PhaseRound:    {PhaseMeeting, PhaseGameOver, PhaseLobby},
	PhaseMeeting:  {PhaseRound, PhaseGameOver, PhaseLobby},
	PhaseGameOver: {PhaseLobby},
}

// CanTransition reports whether to is directly reachable from from. Every
// phase may move to Deleted and staying put is always allowed.
func CanTransition(from, to Phase) bool {
	if from == to || to == PhaseDeleted {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
