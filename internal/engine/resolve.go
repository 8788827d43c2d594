package engine

import (
	"fmt"
	"slices"
)

type Outcome string

const (
	OutcomeNoOne    Outcome = "no_one"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeVotedOut Outcome = "voted_out"
)

const (
	MsgTie     = "No one was voted out due to a tie."
	MsgSkipped = "The vote was skipped."
)

type Resolution struct {
	Outcome Outcome
	Target  string
	Message string
	Counts  map[string]int
}

// AllAliveVoted reports whether every alive player has a vote recorded.
func AllAliveVoted(s Session) bool {
	alive := s.AlivePlayers()
	if len(alive) == 0 {
		return false
	}
	return aliveVotesCast(s) == len(alive)
}

func aliveVotesCast(s Session) int {
	n := 0
	for voter := range s.Votes {
		if s.IsAlive(voter) {
			n++
		}
	}
	return n
}

// TallyVotes counts the votes of alive voters. A tie for the top count or
// a top count of one means no one leaves; a unique "skip" majority skips.
func TallyVotes(s Session) Resolution {
	counts := make(map[string]int)
	for voter, target := range s.Votes {
		if !s.IsAlive(voter) {
			continue
		}
		counts[target]++
	}

	highest := 0
	var leaders []string
	for target, n := range counts {
		switch {
		case n > highest:
			highest = n
			leaders = []string{target}
		case n == highest:
			leaders = append(leaders, target)
		}
	}
	slices.Sort(leaders)

	res := Resolution{Counts: counts}
	switch {
	case len(leaders) != 1 || highest <= 1:
		res.Outcome = OutcomeNoOne
		res.Message = MsgTie
	case leaders[0] == SkipVote:
		res.Outcome = OutcomeSkipped
		res.Message = MsgSkipped
	default:
		res.Outcome = OutcomeVotedOut
		res.Target = leaders[0]
		if s.Roles[res.Target] == RoleImposter {
			res.Message = fmt.Sprintf("%s was an Imposter and was voted out!", res.Target)
		} else {
			res.Message = fmt.Sprintf("%s was not an Imposter and was voted out.", res.Target)
		}
	}
	return res
}

// VerdictAfterVote applies the post-meeting win rule.
func VerdictAfterVote(s Session) Winner {
	if len(s.Roles) == 0 {
		return WinnerNone
	}
	imposters, crewmates := s.AliveCounts()
	switch {
	case imposters == 0:
		return WinnerCrewmates
	case crewmates <= 1:
		return WinnerImposters
	}
	return WinnerNone
}

// VerdictAfterKill applies the kill win rule: Imposters win once they
// match the alive crewmates.
func VerdictAfterKill(s Session) Winner {
	if len(s.Roles) == 0 {
		return WinnerNone
	}
	imposters, crewmates := s.AliveCounts()
	if imposters > 0 && imposters >= crewmates {
		return WinnerImposters
	}
	return WinnerNone
}

// TasksComplete reports whether every crewmate finished all assigned tasks.
func TasksComplete(s Session) bool {
	crew := s.Crewmates()
	if len(crew) == 0 {
		return false
	}
	for _, c := range crew {
		if len(s.CompletedTasks[c]) != len(s.AssignedTasks[c]) {
			return false
		}
	}
	return true
}

// Verdict evaluates the win conditions that can hold at any point of a
// round: every task done, or no imposter left in the game. Imposter parity
// only ends the game on a kill, see VerdictAfterKill.
func Verdict(s Session) Winner {
	if len(s.Roles) == 0 {
		return WinnerNone
	}
	if TasksComplete(s) {
		return WinnerCrewmates
	}
	if imposters, _ := s.AliveCounts(); imposters == 0 {
		return WinnerCrewmates
	}
	return WinnerNone
}

// PlayerResult is the per-player game over headline.
func PlayerResult(s Session, player string) string {
	role, ok := s.Roles[player]
	switch {
	case !ok || s.Winner == WinnerNone:
		return ""
	case role == RoleCrewmate && s.Winner == WinnerCrewmates,
		role == RoleImposter && s.Winner == WinnerImposters:
		return "You Win!"
	default:
		return "You Lose!"
	}
}
