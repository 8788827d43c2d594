package client

import (
	"slices"
	"time"

	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
)

type ExitReason string

const (
	ExitNone    ExitReason = ""
	ExitKicked  ExitReason = "kicked"
	ExitDeleted ExitReason = "deleted"
	ExitLeft    ExitReason = "left"
	ExitLost    ExitReason = "lost"
)

// View is what one player may see of the session. Roles of other players
// are only included once the game is over, or for fellow imposters.
type View struct {
	Code      string          `json:"code"`
	Player    string          `json:"player"`
	Version   int64           `json:"version"`
	Phase     engine.Phase    `json:"phase"`
	Round     int             `json:"round"`
	Creator   string          `json:"creator"`
	IsCreator bool            `json:"isCreator"`
	Players   []string        `json:"players"`
	Tasks     []string        `json:"tasks"`
	Settings  engine.Settings `json:"settings"`

	Role         engine.Role            `json:"role,omitempty"`
	RoleRevealed bool                   `json:"roleRevealed"`
	Alive        bool                   `json:"alive"`
	Imposters    []string               `json:"imposters,omitempty"`
	Roles        map[string]engine.Role `json:"roles,omitempty"`
	MyTasks      []string               `json:"myTasks,omitempty"`
	MyCompleted  []string               `json:"myCompleted,omitempty"`
	KillList     []string               `json:"killList"`

	MeetingCaller string   `json:"meetingCaller,omitempty"`
	Voted         []string `json:"voted,omitempty"`
	MyVote        string   `json:"myVote,omitempty"`
	VotingResult  string   `json:"votingResult,omitempty"`

	SabotageActive     bool   `json:"sabotageActive"`
	SabotagedPlayer    string `json:"sabotagedPlayer,omitempty"`
	SabotagingImposter string `json:"sabotagingImposter,omitempty"`
	BlockedBySabotage  bool   `json:"blockedBySabotage"`

	CanKill     bool `json:"canKill"`
	CanSabotage bool `json:"canSabotage"`

	CountdownUntil        time.Time `json:"countdownUntil,omitzero"`
	KillCooldownUntil     time.Time `json:"killCooldownUntil,omitzero"`
	SabotageCooldownUntil time.Time `json:"sabotageCooldownUntil,omitzero"`
	ResultUntil           time.Time `json:"resultUntil,omitzero"`

	Winner engine.Winner `json:"winner,omitempty"`
	Result string        `json:"result,omitempty"`

	Exit   ExitReason `json:"exit,omitempty"`
	Notice string     `json:"notice,omitempty"`
}

func (c *Client) view() View {
	v := View{
		Code:    c.code,
		Player:  c.player,
		Version: c.snap.Version,
		Phase:   c.phase,
		Exit:    c.exit,
		Notice:  c.notice,
	}
	if c.sess == nil || c.exit != ExitNone {
		return v
	}
	s := *c.sess

	v.Round = s.Round
	v.Creator = s.Creator
	v.IsCreator = s.Creator == c.player
	v.Players = slices.Clone(s.Players)
	v.Tasks = slices.Clone(s.Tasks)
	v.Settings = s.Settings()
	v.KillList = slices.Clone(s.KillList)
	v.Alive = s.IsAlive(c.player)

	inGame := c.phase == engine.PhaseRound || c.phase == engine.PhaseMeeting || c.phase == engine.PhaseGameOver
	if inGame {
		v.Role = s.Roles[c.player]
		v.RoleRevealed = !c.running(timerCountdown)
		v.MyTasks = slices.Clone(s.AssignedTasks[c.player])
		v.MyCompleted = slices.Clone(s.CompletedTasks[c.player])
		if v.Role == engine.RoleImposter {
			for p, role := range s.Roles {
				if role == engine.RoleImposter {
					v.Imposters = append(v.Imposters, p)
				}
			}
			slices.Sort(v.Imposters)
		}
	}

	if c.phase == engine.PhaseMeeting || s.VotingResult != "" {
		v.MeetingCaller = s.MeetingCaller
		v.MyVote = s.Votes[c.player]
		v.VotingResult = s.VotingResult
		for voter := range s.Votes {
			v.Voted = append(v.Voted, voter)
		}
		slices.Sort(v.Voted)
	}

	if c.phase == engine.PhaseRound {
		v.SabotageActive = s.SabotageActive
		v.SabotagedPlayer = s.SabotagedPlayer
		v.SabotagingImposter = s.SabotagingImposter
		v.BlockedBySabotage = s.SabotageActive && s.SabotagedPlayer == c.player

		ready := v.RoleRevealed
		v.CanKill = ready && v.Role == engine.RoleImposter && v.Alive && !c.running(timerKillCooldown)
		v.CanSabotage = ready && v.Role == engine.RoleImposter && !v.Alive && s.HasPlayer(c.player) &&
			!s.SabotageActive && !c.running(timerSabotageCooldown)
	}

	if c.phase == engine.PhaseGameOver {
		v.Winner = s.Winner
		v.Result = engine.PlayerResult(s, c.player)
		v.Roles = make(map[string]engine.Role, len(s.Roles))
		for p, role := range s.Roles {
			v.Roles[p] = role
		}
	}

	v.CountdownUntil = c.deadline(timerCountdown)
	v.KillCooldownUntil = c.deadline(timerKillCooldown)
	v.SabotageCooldownUntil = c.deadline(timerSabotageCooldown)
	v.ResultUntil = c.deadline(timerResult)
	return v
}
