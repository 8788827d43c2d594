package client

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/DoyleJ11/fake-tasker-backend/internal/codec"
	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
	"github.com/DoyleJ11/fake-tasker-backend/internal/hub"
	"github.com/DoyleJ11/fake-tasker-backend/internal/store"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const code = "GAME01"

type table struct {
	hub     *hub.Hub
	mock    *clock.Mock
	clients map[string]*Client
}

func newTable(t *testing.T) *table {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &table{hub: hub.NewHub(ctx), mock: clock.NewMock(), clients: map[string]*Client{}}
}

func (tb *table) connect(t *testing.T, player string, countdown time.Duration) *Client {
	t.Helper()
	c := New(tb.hub, code, player, Options{
		Clock:     tb.mock,
		Rand:      rand.New(rand.NewPCG(42, 7)),
		Countdown: countdown,
	})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	tb.clients[player] = c
	return c
}

// lobby creates the session with ann as creator and connects everyone.
func (tb *table) lobby(t *testing.T, settings engine.Settings, tasks []string, players ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, CreateSession(ctx, tb.hub, code, players[0], settings, tasks))
	for _, p := range players[1:] {
		require.NoError(t, JoinSession(ctx, tb.hub, code, p))
	}
	for _, p := range players {
		tb.connect(t, p, 3*time.Second)
	}
	tb.all(t, func(v View) bool { return len(v.Players) == len(players) })
}

// seed writes a session directly and connects the given players.
func (tb *table) seed(t *testing.T, s engine.Session, connect ...string) {
	t.Helper()
	fields, err := codec.ToFields(s)
	require.NoError(t, err)
	require.NoError(t, tb.hub.Create(context.Background(), code, fields))
	for _, p := range connect {
		tb.connect(t, p, 0)
	}
}

func (tb *table) all(t *testing.T, pred func(View) bool) {
	t.Helper()
	for _, c := range tb.clients {
		waitView(t, c, pred)
	}
}

func (tb *table) roles(t *testing.T) (imposter string, crew []string) {
	t.Helper()
	for name, c := range tb.clients {
		v, err := c.View(context.Background())
		require.NoError(t, err)
		if v.Role == engine.RoleImposter {
			imposter = name
		} else {
			crew = append(crew, name)
		}
	}
	require.NotEmpty(t, imposter)
	return imposter, crew
}

func waitView(t *testing.T, c *Client, pred func(View) bool) View {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if v, err := c.View(context.Background()); err == nil && pred(v) {
			return v
		}
		select {
		case v, ok := <-c.Views():
			if ok && pred(v) {
				return v
			}
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			v, _ := c.View(context.Background())
			t.Fatalf("view for %s never matched; last %+v", c.player, v)
		}
	}
}

// waitExit drains views until the loop exits and returns the last one.
func waitExit(t *testing.T, c *Client) View {
	t.Helper()
	var last View
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-c.Views():
			if !ok {
				return last
			}
			last = v
		case <-deadline:
			t.Fatalf("client %s did not exit", c.player)
		}
	}
}

func isPhase(p engine.Phase) func(View) bool {
	return func(v View) bool { return v.Phase == p }
}

func startRound(t *testing.T, tb *table) {
	t.Helper()
	require.NoError(t, tb.clients["ann"].StartGame(context.Background()))
	tb.all(t, func(v View) bool { return v.Phase == engine.PhaseRound && !v.CountdownUntil.IsZero() })
	tb.mock.Add(3 * time.Second)
	tb.all(t, func(v View) bool { return v.RoleRevealed })
}

var fourPlayers = []string{"ann", "bob", "cat", "dan"}

func TestStart_UnknownCode(t *testing.T) {
	tb := newTable(t)
	c := New(tb.hub, "NOPE00", "ann", Options{Clock: tb.mock})
	assert.ErrorIs(t, c.Start(context.Background()), store.ErrNotFound)
	c.Close()
	assert.ErrorIs(t, JoinSession(context.Background(), tb.hub, "NOPE00", "ann"), store.ErrNotFound)
}

func TestGame_TasksWin(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	tb.lobby(t, engine.Settings{TasksPerCrewmate: 1, ImposterCount: 1, KillCooldownSeconds: 10},
		[]string{"a", "b"}, fourPlayers...)

	v := waitView(t, tb.clients["ann"], isPhase(engine.PhaseLobby))
	assert.True(t, v.IsCreator)
	assert.ErrorIs(t, tb.clients["bob"].StartGame(ctx), engine.ErrNotCreator)

	require.NoError(t, tb.clients["ann"].StartGame(ctx))
	tb.all(t, func(v View) bool { return v.Phase == engine.PhaseRound && !v.RoleRevealed })

	imposter, crew := tb.roles(t)
	require.Len(t, crew, 3)

	first := tb.clients[crew[0]]
	task := waitView(t, first, isPhase(engine.PhaseRound)).MyTasks[0]
	assert.ErrorIs(t, first.ToggleTask(ctx, task), ErrCountdown)

	tb.mock.Add(3 * time.Second)
	tb.all(t, func(v View) bool { return v.RoleRevealed })

	for _, name := range crew {
		c := tb.clients[name]
		v := waitView(t, c, isPhase(engine.PhaseRound))
		require.Len(t, v.MyTasks, 1)
		require.NoError(t, c.ToggleTask(ctx, v.MyTasks[0]))
	}

	tb.all(t, isPhase(engine.PhaseGameOver))
	for name, c := range tb.clients {
		v := waitView(t, c, isPhase(engine.PhaseGameOver))
		assert.Equal(t, engine.WinnerCrewmates, v.Winner)
		if name == imposter {
			assert.Equal(t, "You Lose!", v.Result)
		} else {
			assert.Equal(t, "You Win!", v.Result)
		}
		assert.Equal(t, engine.RoleImposter, v.Roles[imposter])
	}

	require.NoError(t, tb.clients["ann"].ReturnToLobby(ctx))
	tb.all(t, isPhase(engine.PhaseLobby))
}

func TestGame_MeetingResolvesAndResumes(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	tb.lobby(t, engine.Settings{TasksPerCrewmate: 1, ImposterCount: 1, KillCooldownSeconds: 10},
		[]string{"a", "b"}, fourPlayers...)
	startRound(t, tb)

	require.NoError(t, tb.clients["cat"].CallMeeting(ctx))
	tb.all(t, isPhase(engine.PhaseMeeting))

	v := waitView(t, tb.clients["bob"], isPhase(engine.PhaseMeeting))
	assert.Equal(t, "cat", v.MeetingCaller)

	for _, p := range fourPlayers {
		require.NoError(t, tb.clients[p].Vote(ctx, engine.SkipVote))
	}
	assert.ErrorIs(t, tb.clients["ann"].Vote(ctx, "bob"), engine.ErrValidation)

	tb.all(t, func(v View) bool { return v.VotingResult == engine.MsgSkipped && !v.ResultUntil.IsZero() })

	tb.mock.Add(5 * time.Second)
	tb.all(t, func(v View) bool { return v.Phase == engine.PhaseRound && v.VotingResult == "" })

	snap, err := tb.hub.Get(ctx, code)
	require.NoError(t, err)
	sess, err := snap.Session()
	require.NoError(t, err)
	assert.Empty(t, sess.Votes)
	assert.Empty(t, sess.KillList)
}

func TestGame_VotingOutImposterEndsGame(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	tb.lobby(t, engine.Settings{TasksPerCrewmate: 1, ImposterCount: 1, KillCooldownSeconds: 10},
		[]string{"a", "b"}, fourPlayers...)
	startRound(t, tb)
	imposter, crew := tb.roles(t)

	require.NoError(t, tb.clients[crew[0]].CallMeeting(ctx))
	tb.all(t, isPhase(engine.PhaseMeeting))

	require.NoError(t, tb.clients[imposter].Vote(ctx, crew[0]))
	for _, p := range crew {
		require.NoError(t, tb.clients[p].Vote(ctx, imposter))
	}

	tb.all(t, func(v View) bool {
		return v.Phase == engine.PhaseGameOver && v.Winner == engine.WinnerCrewmates && v.VotingResult != ""
	})
	v := waitView(t, tb.clients[crew[1]], isPhase(engine.PhaseGameOver))
	assert.Equal(t, imposter+" was an Imposter and was voted out!", v.VotingResult)

	tb.mock.Add(5 * time.Second)
	tb.all(t, func(v View) bool { return v.Phase == engine.PhaseGameOver && v.VotingResult == "" })
}

func TestGame_KillCooldown(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	tb.lobby(t, engine.Settings{TasksPerCrewmate: 1, ImposterCount: 1, KillCooldownSeconds: 10},
		[]string{"a", "b"}, fourPlayers...)
	startRound(t, tb)
	imposter, crew := tb.roles(t)
	imp := tb.clients[imposter]

	assert.True(t, waitView(t, imp, isPhase(engine.PhaseRound)).CanKill)
	assert.ErrorIs(t, tb.clients[crew[0]].ToggleDeath(ctx, crew[1]), engine.ErrNotImposter)

	require.NoError(t, imp.ToggleDeath(ctx, crew[0]))
	v := waitView(t, imp, func(v View) bool { return len(v.KillList) == 1 })
	assert.False(t, v.CanKill)
	assert.False(t, v.KillCooldownUntil.IsZero())
	assert.ErrorIs(t, imp.ToggleDeath(ctx, crew[1]), ErrKillCooldown)

	// undoing the kill cancels its cooldown
	require.NoError(t, imp.ToggleDeath(ctx, crew[0]))
	waitView(t, imp, func(v View) bool { return len(v.KillList) == 0 && v.CanKill })

	require.NoError(t, imp.ToggleDeath(ctx, crew[1]))
	waitView(t, imp, func(v View) bool { return len(v.KillList) == 1 && !v.CanKill })

	tb.mock.Add(10 * time.Second)
	waitView(t, imp, func(v View) bool { return v.CanKill })

	dead := waitView(t, tb.clients[crew[1]], func(v View) bool { return len(v.KillList) == 1 })
	assert.False(t, dead.Alive)
}

func TestGame_KillsWin(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	tb.lobby(t, engine.Settings{TasksPerCrewmate: 1, ImposterCount: 1, KillCooldownSeconds: 10},
		[]string{"a", "b"}, "ann", "bob", "cat")
	startRound(t, tb)
	imposter, crew := tb.roles(t)

	require.NoError(t, tb.clients[imposter].ToggleDeath(ctx, crew[0]))
	tb.all(t, func(v View) bool { return v.Phase == engine.PhaseGameOver && v.Winner == engine.WinnerImposters })
}

func roundSession() engine.Session {
	s := engine.NewSession("ann", engine.DefaultSettings, []string{"a", "b", "c"})
	s.Players = []string{"ann", "bob", "cat", "dan", "eve"}
	s.Roles = map[string]engine.Role{
		"ann": engine.RoleImposter,
		"eve": engine.RoleImposter,
		"bob": engine.RoleCrewmate,
		"cat": engine.RoleCrewmate,
		"dan": engine.RoleCrewmate,
	}
	s.AssignedTasks = map[string][]string{"bob": {"a", "b"}, "cat": {"b", "c"}, "dan": {"a", "c"}}
	s.CompletedTasks = map[string][]string{"bob": {}, "cat": {}, "dan": {}}
	s.GameStarted = true
	s.Round = 1
	return s
}

func TestGame_Sabotage(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	s := roundSession()
	s.KillList = []string{"ann"}
	tb.seed(t, s, "ann", "bob")
	imp, bob := tb.clients["ann"], tb.clients["bob"]

	v := waitView(t, imp, isPhase(engine.PhaseRound))
	assert.True(t, v.CanSabotage)
	assert.False(t, v.CanKill)

	require.NoError(t, imp.InitiateSabotage(ctx, "bob"))
	waitView(t, bob, func(v View) bool { return v.BlockedBySabotage })
	assert.ErrorIs(t, bob.ToggleTask(ctx, "a"), engine.ErrTaskBlocked)

	require.NoError(t, imp.ResolveSabotage(ctx))
	v = waitView(t, imp, func(v View) bool { return !v.SabotageActive })
	assert.False(t, v.CanSabotage)
	assert.False(t, v.SabotageCooldownUntil.IsZero())
	assert.ErrorIs(t, imp.InitiateSabotage(ctx, "cat"), ErrSabotageCooldown)

	waitView(t, bob, func(v View) bool { return !v.BlockedBySabotage })
	require.NoError(t, bob.ToggleTask(ctx, "a"))

	tb.mock.Add(120 * time.Second)
	waitView(t, imp, func(v View) bool { return v.CanSabotage })
	require.NoError(t, imp.InitiateSabotage(ctx, "cat"))
}

func TestGame_DeclaresWinnerWhenImpostersLeave(t *testing.T) {
	tb := newTable(t)
	s := roundSession()
	tb.seed(t, s, "bob", "cat")

	_, err := tb.hub.Update(context.Background(), code,
		engine.Update{}.Remove(engine.Field(engine.FieldPlayers), "ann", "eve"))
	require.NoError(t, err)

	tb.all(t, func(v View) bool { return v.Phase == engine.PhaseGameOver && v.Winner == engine.WinnerCrewmates })
}

func TestSession_KickedPlayerExits(t *testing.T) {
	tb := newTable(t)
	tb.lobby(t, engine.DefaultSettings, []string{"a", "b"}, "ann", "bob", "cat")

	require.NoError(t, tb.clients["ann"].Kick(context.Background(), "bob"))

	last := waitExit(t, tb.clients["bob"])
	assert.Equal(t, ExitKicked, last.Exit)
	assert.NotEmpty(t, last.Notice)

	v := waitView(t, tb.clients["cat"], func(v View) bool { return len(v.Players) == 2 })
	assert.Equal(t, []string{"ann", "cat"}, v.Players)
	assert.ErrorIs(t, tb.clients["bob"].StartGame(context.Background()), ErrClosed)
}

func TestSession_LeaveExitsQuietly(t *testing.T) {
	tb := newTable(t)
	tb.lobby(t, engine.DefaultSettings, []string{"a", "b"}, "ann", "bob")

	require.NoError(t, tb.clients["bob"].Leave(context.Background()))
	assert.Equal(t, ExitLeft, waitExit(t, tb.clients["bob"]).Exit)
}

func TestSession_FinishDeletesForEveryone(t *testing.T) {
	tb := newTable(t)
	tb.lobby(t, engine.DefaultSettings, []string{"a", "b"}, "ann", "bob")

	assert.ErrorIs(t, tb.clients["bob"].FinishGame(context.Background()), engine.ErrNotCreator)
	require.NoError(t, tb.clients["ann"].FinishGame(context.Background()))

	for _, name := range []string{"ann", "bob"} {
		last := waitExit(t, tb.clients[name])
		assert.Equal(t, ExitDeleted, last.Exit)
		assert.Equal(t, engine.PhaseDeleted, last.Phase)
	}
}

func TestForeground_ResyncsMissedState(t *testing.T) {
	tb := newTable(t)
	tb.lobby(t, engine.DefaultSettings, []string{"a", "b"}, "ann", "bob")
	bob := tb.clients["bob"]

	require.NoError(t, bob.Foreground(context.Background()))
	v := waitView(t, bob, isPhase(engine.PhaseLobby))
	assert.Equal(t, []string{"ann", "bob"}, v.Players)

	require.NoError(t, tb.hub.Delete(context.Background(), code))
	assert.Equal(t, ExitDeleted, waitExit(t, bob).Exit)
}

func TestGame_ParityAfterVoteKeepsRoundGoing(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	players := []string{"ann", "bob", "cat", "dan", "eve"}
	tb.seed(t, roundSession(), players...)

	require.NoError(t, tb.clients["bob"].CallMeeting(ctx))
	tb.all(t, isPhase(engine.PhaseMeeting))
	for _, p := range players {
		target := "dan"
		if p == "dan" {
			target = "bob"
		}
		require.NoError(t, tb.clients[p].Vote(ctx, target))
	}

	tb.all(t, func(v View) bool { return v.VotingResult != "" })
	v := waitView(t, tb.clients["bob"], isPhase(engine.PhaseMeeting))
	assert.Equal(t, []string{"dan"}, v.KillList)

	tb.mock.Add(5 * time.Second)
	tb.all(t, func(v View) bool { return v.Phase == engine.PhaseRound && v.VotingResult == "" })

	// give every client a chance to act on the concluded meeting
	time.Sleep(50 * time.Millisecond)
	for _, c := range tb.clients {
		v, err := c.View(ctx)
		require.NoError(t, err)
		assert.Equal(t, engine.PhaseRound, v.Phase)
		assert.Equal(t, engine.WinnerNone, v.Winner)
	}
	snap, err := tb.hub.Get(ctx, code)
	require.NoError(t, err)
	sess, err := snap.Session()
	require.NoError(t, err)
	assert.False(t, sess.GameEnded)

	require.NoError(t, tb.clients["ann"].ToggleDeath(ctx, "bob"))
	tb.all(t, func(v View) bool { return v.Phase == engine.PhaseGameOver && v.Winner == engine.WinnerImposters })
}

func TestReconnectMidRoundSkipsCountdown(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	fields, err := codec.ToFields(roundSession())
	require.NoError(t, err)
	require.NoError(t, tb.hub.Create(ctx, code, fields))

	bob := tb.connect(t, "bob", 3*time.Second)
	v := waitView(t, bob, isPhase(engine.PhaseRound))
	assert.True(t, v.RoleRevealed)
	assert.True(t, v.CountdownUntil.IsZero())
	require.NoError(t, bob.ToggleTask(ctx, "a"))
	waitView(t, bob, func(v View) bool { return len(v.MyCompleted) == 1 })
}

func TestInconsistentRecordTriggersNoDuties(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	s := roundSession()
	s.Players = []string{"bob", "cat", "dan"}
	s.KillList = []string{"cat", "cat"}
	tb.seed(t, s, "bob")

	waitView(t, tb.clients["bob"], isPhase(engine.PhaseRound))
	time.Sleep(50 * time.Millisecond)
	snap, err := tb.hub.Get(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, false, snap.Fields[engine.FieldGameEnded])

	_, err = tb.hub.Update(ctx, code, engine.Update{}.Set(engine.Field(engine.FieldKillList), []string{"cat"}))
	require.NoError(t, err)
	waitView(t, tb.clients["bob"], func(v View) bool {
		return v.Phase == engine.PhaseGameOver && v.Winner == engine.WinnerCrewmates
	})
}
