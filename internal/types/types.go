// Package types holds the JSON messages exchanged over the websocket.
//
// Client -> server: one ClientMessage per frame. Type is one of StartGame,
// AddTask, RemoveTask, Configure, ToggleTask, ToggleDeath, CallMeeting,
// Vote, Sabotage, ResolveSabotage, Kick, FinishGame, EndRound,
// ReturnToLobby, Leave or Foreground.
//
// Server -> client: a "View" message after every change, and an "Error"
// message answering a rejected action. Retryable errors can be resent
// unchanged.
package types

import "github.com/DoyleJ11/fake-tasker-backend/internal/client"

type ClientMessage struct {
	Type                string `json:"type"`
	Target              string `json:"target,omitempty"`
	Task                string `json:"task,omitempty"`
	TasksPerCrewmate    int    `json:"tasksPerCrewmate,omitempty"`
	ImposterCount       int    `json:"imposterCount,omitempty"`
	KillCooldownSeconds int    `json:"killCooldownSeconds,omitempty"`
}

type ServerMessage struct {
	Type      string       `json:"type"` // "View" | "Error"
	Version   int64        `json:"version,omitempty"`
	View      *client.View `json:"view,omitempty"`
	Error     string       `json:"error,omitempty"`
	Retryable bool         `json:"retryable,omitempty"`
}

// SessionInfo answers the REST session endpoints.
type SessionInfo struct {
	Code    string   `json:"code"`
	Creator string   `json:"creator"`
	Players []string `json:"players"`
	Phase   string   `json:"phase"`
	JoinURL string   `json:"joinUrl,omitempty"`
}

type CreateSessionRequest struct {
	Creator             string   `json:"creator"`
	Tasks               []string `json:"tasks,omitempty"`
	TasksPerCrewmate    int      `json:"tasksPerCrewmate,omitempty"`
	ImposterCount       int      `json:"imposterCount,omitempty"`
	KillCooldownSeconds int      `json:"killCooldownSeconds,omitempty"`
}

type JoinSessionRequest struct {
	Player string `json:"player"`
}
