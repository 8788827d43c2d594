package engine

import (
	"slices"
	"strings"
)

type Role string

const (
	RoleCrewmate Role = "Crewmate"
	RoleImposter Role = "Imposter"
)

func (r Role) Valid() bool { return r == RoleCrewmate || r == RoleImposter }

type Winner string

const (
	WinnerNone      Winner = ""
	WinnerCrewmates Winner = "Crewmates"
	WinnerImposters Winner = "Imposters"
)

type SabotageType string

const SabotageFindMe SabotageType = "FindMe"

// SkipVote is the vote target meaning "vote to skip".
const SkipVote = "skip"

const (
	MaxPlayers         = 15
	MinPlayers         = 2
	MinKillCooldownSec = 10
	MaxKillCooldownSec = 30
)

// Document field names.
const (
	FieldPlayers             = "players"
	FieldCreator             = "creator"
	FieldTasks               = "tasks"
	FieldTasksPerCrewmate    = "tasksPerCrewmate"
	FieldImposterCount       = "imposterCount"
	FieldKillCooldownSeconds = "killCooldownSeconds"
	FieldImposterHistory     = "imposterHistory"
	FieldRoles               = "roles"
	FieldAssignedTasks       = "assignedTasks"
	FieldCompletedTasks      = "completedTasks"
	FieldKillList            = "killList"
	FieldMeetingCalled       = "meetingCalled"
	FieldMeetingCaller       = "meetingCaller"
	FieldVotes               = "votes"
	FieldVotingResult        = "votingResult"
	FieldSabotageActive      = "sabotageActive"
	FieldSabotagedPlayer     = "sabotagedPlayer"
	FieldSabotagingImposter  = "sabotagingImposter"
	FieldSabotageType        = "sabotageType"
	FieldGameStarted         = "gameStarted"
	FieldGameEnded           = "gameEnded"
	FieldWinner              = "winner"
	FieldRound               = "round"
)

// Session is the shared game record for one game code.
type Session struct {
	Players             []string            `json:"players"`
	Creator             string              `json:"creator"`
	Tasks               []string            `json:"tasks"`
	TasksPerCrewmate    int                 `json:"tasksPerCrewmate"`
	ImposterCount       int                 `json:"imposterCount"`
	KillCooldownSeconds int                 `json:"killCooldownSeconds"`
	ImposterHistory     map[string]int      `json:"imposterHistory"`
	Roles               map[string]Role     `json:"roles"`
	AssignedTasks       map[string][]string `json:"assignedTasks"`
	CompletedTasks      map[string][]string `json:"completedTasks"`
	KillList            []string            `json:"killList"`
	MeetingCalled       bool                `json:"meetingCalled"`
	MeetingCaller       string              `json:"meetingCaller"`
	Votes               map[string]string   `json:"votes"`
	VotingResult        string              `json:"votingResult,omitempty"`
	SabotageActive      bool                `json:"sabotageActive"`
	SabotagedPlayer     string              `json:"sabotagedPlayer"`
	SabotagingImposter  string              `json:"sabotagingImposter"`
	SabotageType        SabotageType        `json:"sabotageType"`
	GameStarted         bool                `json:"gameStarted"`
	GameEnded           bool                `json:"gameEnded"`
	Winner              Winner              `json:"winner"`
	Round               int                 `json:"round"`
}

// Settings are the creator-tunable lobby scalars.
type Settings struct {
	TasksPerCrewmate    int `json:"tasksPerCrewmate"`
	ImposterCount       int `json:"imposterCount"`
	KillCooldownSeconds int `json:"killCooldownSeconds"`
}

var DefaultSettings = Settings{TasksPerCrewmate: 2, ImposterCount: 1, KillCooldownSeconds: 20}

func (st Settings) Validate() error {
	switch {
	case st.TasksPerCrewmate < 1:
		return ErrInvalidConfig
	case st.ImposterCount < 1:
		return ErrInvalidImposterCount
	case st.KillCooldownSeconds < MinKillCooldownSec || st.KillCooldownSeconds > MaxKillCooldownSec:
		return ErrInvalidConfig
	}
	return nil
}

// NewSession builds the record written when creator opens a new game.
func NewSession(creator string, settings Settings, tasks []string) Session {
	return Session{
		Players:             []string{creator},
		Creator:             creator,
		Tasks:               dedupe(tasks),
		TasksPerCrewmate:    settings.TasksPerCrewmate,
		ImposterCount:       settings.ImposterCount,
		KillCooldownSeconds: settings.KillCooldownSeconds,
		ImposterHistory:     map[string]int{},
		Roles:               map[string]Role{},
		AssignedTasks:       map[string][]string{},
		CompletedTasks:      map[string][]string{},
		KillList:            []string{},
		Votes:               map[string]string{},
	}
}

func (s Session) Settings() Settings {
	return Settings{
		TasksPerCrewmate:    s.TasksPerCrewmate,
		ImposterCount:       s.ImposterCount,
		KillCooldownSeconds: s.KillCooldownSeconds,
	}
}

func (s Session) HasPlayer(name string) bool { return slices.Contains(s.Players, name) }

func (s Session) IsDead(name string) bool { return slices.Contains(s.KillList, name) }

// IsAlive reports whether name is still in the game: present in players
// and not on the kill list.
func (s Session) IsAlive(name string) bool { return s.HasPlayer(name) && !s.IsDead(name) }

func (s Session) AlivePlayers() []string {
	alive := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		if !s.IsDead(p) {
			alive = append(alive, p)
		}
	}
	return alive
}

// AliveCounts counts alive players per role. Role holders that left the
// session count as not alive.
func (s Session) AliveCounts() (imposters, crewmates int) {
	for p, role := range s.Roles {
		if !s.IsAlive(p) {
			continue
		}
		switch role {
		case RoleImposter:
			imposters++
		case RoleCrewmate:
			crewmates++
		}
	}
	return imposters, crewmates
}

func (s Session) Crewmates() []string {
	var out []string
	for p, role := range s.Roles {
		if role == RoleCrewmate {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// Validate checks the record invariants that hold regardless of phase.
func (s Session) Validate() error {
	if s.Creator == "" {
		return ErrEmptyName
	}
	if len(dedupe(s.Players)) != len(s.Players) {
		return ErrInvalidRecord
	}
	if len(dedupe(s.KillList)) != len(s.KillList) {
		return ErrInvalidRecord
	}
	for _, dead := range s.KillList {
		if _, ok := s.Roles[dead]; !ok && !s.HasPlayer(dead) {
			return ErrInvalidRecord
		}
	}
	for p, role := range s.Roles {
		if !role.Valid() {
			return ErrInvalidRecord
		}
		if role == RoleImposter && len(s.AssignedTasks[p]) > 0 {
			return ErrInvalidRecord
		}
	}
	for p, assigned := range s.AssignedTasks {
		if len(dedupe(assigned)) != len(assigned) {
			return ErrInvalidRecord
		}
		// the lobby may drop tasks still held by the last round
		for _, t := range assigned {
			if s.GameStarted && !slices.Contains(s.Tasks, t) {
				return ErrInvalidRecord
			}
		}
		for _, done := range s.CompletedTasks[p] {
			if !slices.Contains(assigned, done) {
				return ErrInvalidRecord
			}
		}
	}
	for _, n := range s.ImposterHistory {
		if n < 0 {
			return ErrInvalidRecord
		}
	}
	if s.GameEnded && s.Winner != WinnerCrewmates && s.Winner != WinnerImposters {
		return ErrInvalidRecord
	}
	return nil
}

// NormalizeName trims a player name and rejects empty or reserved names.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if strings.EqualFold(name, SkipVote) {
		return "", ErrReservedName
	}
	return name, nil
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
