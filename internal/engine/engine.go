package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
)

// ErrValidation is the parent of every error raised before a write is
// issued. Callers surface these to the acting player only.
var ErrValidation = errors.New("validation")

var (
	ErrEmptyName            = fmt.Errorf("%w: player name is required", ErrValidation)
	ErrReservedName         = fmt.Errorf("%w: player name is reserved", ErrValidation)
	ErrLobbyFull            = fmt.Errorf("%w: lobby is full", ErrValidation)
	ErrNotCreator           = fmt.Errorf("%w: only the creator can do that", ErrValidation)
	ErrWrongPhase           = fmt.Errorf("%w: not allowed in this phase", ErrValidation)
	ErrUnknownPlayer        = fmt.Errorf("%w: unknown player", ErrValidation)
	ErrInvalidTarget        = fmt.Errorf("%w: invalid target", ErrValidation)
	ErrTooFewPlayers        = fmt.Errorf("%w: at least %d players are required", ErrValidation, MinPlayers)
	ErrTooFewTasks          = fmt.Errorf("%w: not enough tasks for each crewmate", ErrValidation)
	ErrInvalidImposterCount = fmt.Errorf("%w: imposter count must leave at least one crewmate", ErrValidation)
	ErrInvalidConfig        = fmt.Errorf("%w: invalid settings", ErrValidation)
	ErrEmptyTask            = fmt.Errorf("%w: task description is required", ErrValidation)
	ErrNotAssigned          = fmt.Errorf("%w: task is not assigned to you", ErrValidation)
	ErrTaskBlocked          = fmt.Errorf("%w: tasks are blocked by sabotage", ErrValidation)
	ErrAlreadyVoted         = fmt.Errorf("%w: vote already submitted", ErrValidation)
	ErrDeadPlayer           = fmt.Errorf("%w: dead players cannot do that", ErrValidation)
	ErrNotImposter          = fmt.Errorf("%w: only imposters can do that", ErrValidation)
	ErrSabotageActive       = fmt.Errorf("%w: a sabotage is already active", ErrValidation)
	ErrNoSabotage           = fmt.Errorf("%w: no sabotage to resolve", ErrValidation)
	ErrVotingIncomplete     = fmt.Errorf("%w: not every alive player has voted", ErrValidation)
	ErrAlreadyResolved      = fmt.Errorf("%w: meeting already resolved", ErrValidation)
	ErrNotResolved          = fmt.Errorf("%w: meeting has no result yet", ErrValidation)
	ErrNoWinner             = fmt.Errorf("%w: no win condition holds", ErrValidation)
	ErrInvalidRecord        = fmt.Errorf("%w: session record violates an invariant", ErrValidation)
	ErrUnsupportedCommand   = fmt.Errorf("%w: unsupported command", ErrValidation)
)

type CommandType string

const (
	CmdJoin             CommandType = "Join"
	CmdLeave            CommandType = "Leave"
	CmdStartGame        CommandType = "StartGame"
	CmdAddTask          CommandType = "AddTask"
	CmdRemoveTask       CommandType = "RemoveTask"
	CmdConfigure        CommandType = "Configure"
	CmdToggleTask       CommandType = "ToggleTask"
	CmdToggleDeath      CommandType = "ToggleDeath"
	CmdCallMeeting      CommandType = "CallMeeting"
	CmdSubmitVote       CommandType = "SubmitVote"
	CmdResolveVotes     CommandType = "ResolveVotes"
	CmdConcludeMeeting  CommandType = "ConcludeMeeting"
	CmdDeclareWinner    CommandType = "DeclareWinner"
	CmdInitiateSabotage CommandType = "InitiateSabotage"
	CmdResolveSabotage  CommandType = "ResolveSabotage"
	CmdKickPlayer       CommandType = "KickPlayer"
	CmdFinishGame       CommandType = "FinishGame"
	CmdEndRound         CommandType = "EndRound"
	CmdReturnToLobby    CommandType = "ReturnToLobby"
)

/*
	CmdStartGame      -> EvtRoundStarted
	CmdToggleDeath    -> EvtPlayerKilled | EvtKillUndone, maybe EvtGameEnded
	CmdToggleTask     -> EvtTaskToggled, maybe EvtGameEnded
	CmdCallMeeting    -> EvtMeetingCalled (+ EvtSabotageResolved when one was active)
	CmdResolveVotes   -> EvtVotedOut | EvtVoteSkipped | EvtNoOneVotedOut, maybe EvtGameEnded
	CmdResolveSabotage-> EvtSabotageResolved
*/

type Command struct {
	Type     CommandType
	Actor    string
	Target   string
	Task     string
	Settings Settings
}

type EventType string

const (
	EvtPlayerJoined     EventType = "PlayerJoined"
	EvtPlayerLeft       EventType = "PlayerLeft"
	EvtRoundStarted     EventType = "RoundStarted"
	EvtTasksChanged     EventType = "TasksChanged"
	EvtSettingsChanged  EventType = "SettingsChanged"
	EvtTaskToggled      EventType = "TaskToggled"
	EvtPlayerKilled     EventType = "PlayerKilled"
	EvtKillUndone       EventType = "KillUndone"
	EvtMeetingCalled    EventType = "MeetingCalled"
	EvtVoteSubmitted    EventType = "VoteSubmitted"
	EvtVotedOut         EventType = "VotedOut"
	EvtVoteSkipped      EventType = "VoteSkipped"
	EvtNoOneVotedOut    EventType = "NoOneVotedOut"
	EvtMeetingConcluded EventType = "MeetingConcluded"
	EvtSabotageStarted  EventType = "SabotageStarted"
	EvtSabotageResolved EventType = "SabotageResolved"
	EvtPlayerKicked     EventType = "PlayerKicked"
	EvtSessionFinished  EventType = "SessionFinished"
	EvtReturnedToLobby  EventType = "ReturnedToLobby"
	EvtGameEnded        EventType = "GameEnded"
)

type Event struct {
	Type    EventType
	Player  string
	Target  string
	Winner  Winner
	Message string
}

// Apply validates cmd against snapshot s and returns the partial-field
// update that performs it. It never mutates s. rng may be nil.
func Apply(s Session, cmd Command, rng *rand.Rand) ([]Event, Update, error) {
	phase := DerivePhase(&s)

	switch cmd.Type {
	case CmdJoin:
		name, err := NormalizeName(cmd.Actor)
		if err != nil {
			return nil, Update{}, err
		}
		if s.HasPlayer(name) {
			return nil, Update{}, nil
		}
		if len(s.Players) >= MaxPlayers {
			return nil, Update{}, ErrLobbyFull
		}
		u := Update{}.Union(Field(FieldPlayers), name)
		return []Event{{Type: EvtPlayerJoined, Player: name}}, u, nil

	case CmdLeave:
		if !s.HasPlayer(cmd.Actor) {
			return nil, Update{}, ErrUnknownPlayer
		}
		u := Update{}.Remove(Field(FieldPlayers), cmd.Actor)
		return []Event{{Type: EvtPlayerLeft, Player: cmd.Actor}}, u, nil

	case CmdStartGame:
		if err := requireCreator(s, cmd); err != nil {
			return nil, Update{}, err
		}
		if phase != PhaseLobby {
			return nil, Update{}, ErrWrongPhase
		}
		return startGame(s, rng)

	case CmdAddTask, CmdRemoveTask:
		if err := requireCreator(s, cmd); err != nil {
			return nil, Update{}, err
		}
		if phase != PhaseLobby {
			return nil, Update{}, ErrWrongPhase
		}
		task := strings.TrimSpace(cmd.Task)
		if task == "" {
			return nil, Update{}, ErrEmptyTask
		}
		u := Update{}.Union(Field(FieldTasks), task)
		if cmd.Type == CmdRemoveTask {
			u = Update{}.Remove(Field(FieldTasks), task)
		}
		return []Event{{Type: EvtTasksChanged, Player: cmd.Actor}}, u, nil

	case CmdConfigure:
		if err := requireCreator(s, cmd); err != nil {
			return nil, Update{}, err
		}
		if phase != PhaseLobby {
			return nil, Update{}, ErrWrongPhase
		}
		if err := cmd.Settings.Validate(); err != nil {
			return nil, Update{}, err
		}
		u := Update{}.
			Set(Field(FieldTasksPerCrewmate), cmd.Settings.TasksPerCrewmate).
			Set(Field(FieldImposterCount), cmd.Settings.ImposterCount).
			Set(Field(FieldKillCooldownSeconds), cmd.Settings.KillCooldownSeconds)
		return []Event{{Type: EvtSettingsChanged, Player: cmd.Actor}}, u, nil

	case CmdToggleTask:
		if phase != PhaseRound {
			return nil, Update{}, ErrWrongPhase
		}
		return toggleTask(s, cmd)

	case CmdToggleDeath:
		if phase != PhaseRound {
			return nil, Update{}, ErrWrongPhase
		}
		return toggleDeath(s, cmd)

	case CmdCallMeeting:
		if phase != PhaseRound {
			return nil, Update{}, ErrWrongPhase
		}
		if !s.HasPlayer(cmd.Actor) {
			return nil, Update{}, ErrUnknownPlayer
		}
		events := []Event{{Type: EvtMeetingCalled, Player: cmd.Actor}}
		if s.SabotageActive {
			events = append(events, Event{Type: EvtSabotageResolved, Player: s.SabotagingImposter, Target: s.SabotagedPlayer})
		}
		u := Update{}.
			Set(Field(FieldMeetingCalled), true).
			Set(Field(FieldMeetingCaller), cmd.Actor).
			Set(Field(FieldVotes), map[string]string{}).
			Delete(Field(FieldVotingResult))
		u = clearSabotage(u)
		return events, u, nil

	case CmdSubmitVote:
		if phase != PhaseMeeting || s.VotingResult != "" {
			return nil, Update{}, ErrWrongPhase
		}
		if !s.HasPlayer(cmd.Actor) {
			return nil, Update{}, ErrUnknownPlayer
		}
		if s.IsDead(cmd.Actor) {
			return nil, Update{}, ErrDeadPlayer
		}
		if _, voted := s.Votes[cmd.Actor]; voted {
			return nil, Update{}, ErrAlreadyVoted
		}
		if cmd.Target != SkipVote && !s.IsAlive(cmd.Target) {
			return nil, Update{}, ErrInvalidTarget
		}
		u := Update{}.Set(Field(FieldVotes, cmd.Actor), cmd.Target)
		return []Event{{Type: EvtVoteSubmitted, Player: cmd.Actor, Target: cmd.Target}}, u, nil

	case CmdResolveVotes:
		if phase != PhaseMeeting {
			return nil, Update{}, ErrWrongPhase
		}
		if s.VotingResult != "" {
			return nil, Update{}, ErrAlreadyResolved
		}
		if !AllAliveVoted(s) {
			return nil, Update{}, ErrVotingIncomplete
		}
		return resolveVotes(s)

	case CmdConcludeMeeting:
		if phase != PhaseMeeting && phase != PhaseGameOver {
			return nil, Update{}, ErrWrongPhase
		}
		if s.VotingResult == "" {
			return nil, Update{}, ErrNotResolved
		}
		u := Update{}.
			Set(Field(FieldMeetingCalled), false).
			Set(Field(FieldMeetingCaller), "").
			Set(Field(FieldVotes), map[string]string{}).
			Delete(Field(FieldVotingResult))
		return []Event{{Type: EvtMeetingConcluded, Message: s.VotingResult}}, u, nil

	case CmdDeclareWinner:
		if phase != PhaseRound {
			return nil, Update{}, ErrWrongPhase
		}
		w := Verdict(s)
		if w == WinnerNone {
			return nil, Update{}, ErrNoWinner
		}
		return []Event{{Type: EvtGameEnded, Winner: w}}, endGame(Update{}, w), nil

	case CmdInitiateSabotage:
		if phase != PhaseRound {
			return nil, Update{}, ErrWrongPhase
		}
		if s.Roles[cmd.Actor] != RoleImposter {
			return nil, Update{}, ErrNotImposter
		}
		if !s.IsDead(cmd.Actor) {
			return nil, Update{}, ErrInvalidTarget
		}
		if s.SabotageActive {
			return nil, Update{}, ErrSabotageActive
		}
		if s.Roles[cmd.Target] != RoleCrewmate || !s.IsAlive(cmd.Target) {
			return nil, Update{}, ErrInvalidTarget
		}
		u := Update{}.
			Set(Field(FieldSabotageActive), true).
			Set(Field(FieldSabotagedPlayer), cmd.Target).
			Set(Field(FieldSabotagingImposter), cmd.Actor).
			Set(Field(FieldSabotageType), string(SabotageFindMe))
		return []Event{{Type: EvtSabotageStarted, Player: cmd.Actor, Target: cmd.Target}}, u, nil

	case CmdResolveSabotage:
		if phase != PhaseRound {
			return nil, Update{}, ErrWrongPhase
		}
		if !s.SabotageActive {
			return nil, Update{}, ErrNoSabotage
		}
		if s.SabotagingImposter != cmd.Actor {
			return nil, Update{}, ErrNotImposter
		}
		ev := Event{Type: EvtSabotageResolved, Player: cmd.Actor, Target: s.SabotagedPlayer}
		return []Event{ev}, clearSabotage(Update{}), nil

	case CmdKickPlayer:
		if err := requireCreator(s, cmd); err != nil {
			return nil, Update{}, err
		}
		if cmd.Target == s.Creator || !s.HasPlayer(cmd.Target) {
			return nil, Update{}, ErrInvalidTarget
		}
		u := Update{}.Remove(Field(FieldPlayers), cmd.Target)
		return []Event{{Type: EvtPlayerKicked, Player: cmd.Actor, Target: cmd.Target}}, u, nil

	case CmdFinishGame:
		if err := requireCreator(s, cmd); err != nil {
			return nil, Update{}, err
		}
		return []Event{{Type: EvtSessionFinished, Player: cmd.Actor}}, Update{DeleteDoc: true}, nil

	case CmdEndRound:
		if err := requireCreator(s, cmd); err != nil {
			return nil, Update{}, err
		}
		if phase != PhaseRound && phase != PhaseMeeting {
			return nil, Update{}, ErrWrongPhase
		}
		u := Update{}.
			Set(Field(FieldGameStarted), false).
			Set(Field(FieldMeetingCalled), false).
			Set(Field(FieldMeetingCaller), "").
			Set(Field(FieldVotes), map[string]string{}).
			Delete(Field(FieldVotingResult))
		return []Event{{Type: EvtReturnedToLobby, Player: cmd.Actor}}, clearSabotage(u), nil

	case CmdReturnToLobby:
		if err := requireCreator(s, cmd); err != nil {
			return nil, Update{}, err
		}
		if phase != PhaseGameOver {
			return nil, Update{}, ErrWrongPhase
		}
		u := Update{}.
			Set(Field(FieldGameStarted), false).
			Set(Field(FieldGameEnded), false)
		return []Event{{Type: EvtReturnedToLobby, Player: cmd.Actor}}, u, nil

	default:
		return nil, Update{}, ErrUnsupportedCommand
	}
}

func requireCreator(s Session, cmd Command) error {
	if cmd.Actor == "" || cmd.Actor != s.Creator {
		return ErrNotCreator
	}
	return nil
}

func startGame(s Session, rng *rand.Rand) ([]Event, Update, error) {
	if len(s.Players) < MinPlayers {
		return nil, Update{}, ErrTooFewPlayers
	}
	if err := s.Settings().Validate(); err != nil {
		return nil, Update{}, err
	}
	if len(dedupe(s.Tasks)) < s.TasksPerCrewmate {
		return nil, Update{}, ErrTooFewTasks
	}

	imposters, err := SelectImposters(rng, s.Players, s.ImposterHistory, s.ImposterCount)
	if err != nil {
		return nil, Update{}, err
	}

	roles := make(map[string]string, len(s.Players))
	var crewmates []string
	for _, p := range s.Players {
		if slices.Contains(imposters, p) {
			roles[p] = string(RoleImposter)
			continue
		}
		roles[p] = string(RoleCrewmate)
		crewmates = append(crewmates, p)
	}

	assigned, err := AssignTasksEvenly(rng, crewmates, s.Tasks, s.TasksPerCrewmate)
	if err != nil {
		return nil, Update{}, err
	}

	completed := make(map[string][]string, len(crewmates))
	for _, c := range crewmates {
		completed[c] = []string{}
	}

	u := Update{}.
		Set(Field(FieldRoles), roles).
		Set(Field(FieldAssignedTasks), assigned).
		Set(Field(FieldCompletedTasks), completed).
		Set(Field(FieldKillList), []string{}).
		Set(Field(FieldVotes), map[string]string{}).
		Set(Field(FieldMeetingCalled), false).
		Set(Field(FieldMeetingCaller), "").
		Delete(Field(FieldVotingResult)).
		Set(Field(FieldGameStarted), true).
		Set(Field(FieldGameEnded), false).
		Set(Field(FieldWinner), string(WinnerNone)).
		Increment(Field(FieldRound), 1)
	u = clearSabotage(u)
	for _, imp := range imposters {
		u = u.Increment(Field(FieldImposterHistory, imp), 1)
	}

	events := []Event{{Type: EvtRoundStarted, Player: s.Creator}}
	return events, u, nil
}

func toggleTask(s Session, cmd Command) ([]Event, Update, error) {
	if s.Roles[cmd.Actor] != RoleCrewmate {
		return nil, Update{}, ErrNotAssigned
	}
	if !slices.Contains(s.AssignedTasks[cmd.Actor], cmd.Task) {
		return nil, Update{}, ErrNotAssigned
	}
	if s.SabotageActive && s.SabotagedPlayer == cmd.Actor {
		return nil, Update{}, ErrTaskBlocked
	}

	path := Field(FieldCompletedTasks, cmd.Actor)
	done := slices.Clone(s.CompletedTasks[cmd.Actor])
	var u Update
	if slices.Contains(done, cmd.Task) {
		u = u.Remove(path, cmd.Task)
		done = slices.DeleteFunc(done, func(t string) bool { return t == cmd.Task })
	} else {
		u = u.Union(path, cmd.Task)
		done = append(done, cmd.Task)
	}
	events := []Event{{Type: EvtTaskToggled, Player: cmd.Actor, Target: cmd.Task}}

	next := s
	next.CompletedTasks = cloneLists(s.CompletedTasks)
	next.CompletedTasks[cmd.Actor] = done
	if TasksComplete(next) {
		u = endGame(u, WinnerCrewmates)
		events = append(events, Event{Type: EvtGameEnded, Winner: WinnerCrewmates})
	}
	return events, u, nil
}

func toggleDeath(s Session, cmd Command) ([]Event, Update, error) {
	if s.Roles[cmd.Actor] != RoleImposter {
		return nil, Update{}, ErrNotImposter
	}
	if s.IsDead(cmd.Actor) {
		return nil, Update{}, ErrDeadPlayer
	}
	if s.Roles[cmd.Target] != RoleCrewmate {
		return nil, Update{}, ErrInvalidTarget
	}

	if s.IsDead(cmd.Target) {
		u := Update{}.Remove(Field(FieldKillList), cmd.Target)
		return []Event{{Type: EvtKillUndone, Player: cmd.Actor, Target: cmd.Target}}, u, nil
	}
	if !s.HasPlayer(cmd.Target) {
		return nil, Update{}, ErrInvalidTarget
	}

	u := Update{}.Union(Field(FieldKillList), cmd.Target)
	events := []Event{{Type: EvtPlayerKilled, Player: cmd.Actor, Target: cmd.Target}}

	next := s
	next.KillList = append(slices.Clone(s.KillList), cmd.Target)
	if w := VerdictAfterKill(next); w != WinnerNone {
		u = endGame(u, w)
		events = append(events, Event{Type: EvtGameEnded, Winner: w})
	}
	return events, u, nil
}

func resolveVotes(s Session) ([]Event, Update, error) {
	res := TallyVotes(s)
	u := Update{}.Set(Field(FieldVotingResult), res.Message)

	var events []Event
	next := s
	switch res.Outcome {
	case OutcomeVotedOut:
		u = u.Union(Field(FieldKillList), res.Target)
		if !s.IsDead(res.Target) {
			next.KillList = append(slices.Clone(s.KillList), res.Target)
		}
		events = append(events, Event{Type: EvtVotedOut, Target: res.Target, Message: res.Message})
	case OutcomeSkipped:
		events = append(events, Event{Type: EvtVoteSkipped, Message: res.Message})
	default:
		events = append(events, Event{Type: EvtNoOneVotedOut, Message: res.Message})
	}

	if w := VerdictAfterVote(next); w != WinnerNone {
		u = endGame(u, w)
		events = append(events, Event{Type: EvtGameEnded, Winner: w})
	}
	return events, u, nil
}

func endGame(u Update, w Winner) Update {
	return u.Set(Field(FieldGameEnded), true).Set(Field(FieldWinner), string(w))
}

func clearSabotage(u Update) Update {
	return u.
		Set(Field(FieldSabotageActive), false).
		Set(Field(FieldSabotagedPlayer), "").
		Set(Field(FieldSabotagingImposter), "").
		Set(Field(FieldSabotageType), "")
}

func cloneLists(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}
