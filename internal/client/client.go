// Package client is the per-player sync loop. It subscribes to one
// session, re-derives the phase and the player's view from every snapshot,
// runs the local timers (countdown, cooldowns, result display) and turns
// player actions into partial-field writes.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/DoyleJ11/fake-tasker-backend/internal/document"
	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
	"github.com/DoyleJ11/fake-tasker-backend/internal/store"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

var (
	ErrWriteFailure     = errors.New("write failed, try again")
	ErrSessionLost      = errors.New("session lost")
	ErrClosed           = errors.New("client closed")
	ErrKillCooldown     = fmt.Errorf("%w: kill cooldown active", engine.ErrValidation)
	ErrSabotageCooldown = fmt.Errorf("%w: sabotage cooldown active", engine.ErrValidation)
	ErrCountdown        = fmt.Errorf("%w: the round is about to start", engine.ErrValidation)
)

type Options struct {
	Clock            clock.Clock
	Rand             *rand.Rand
	ResultDisplay    time.Duration
	SabotageCooldown time.Duration
	Countdown        time.Duration
	WriteTimeout     time.Duration
}

func DefaultOptions() Options {
	return Options{
		Clock:            clock.New(),
		ResultDisplay:    5 * time.Second,
		SabotageCooldown: 120 * time.Second,
		Countdown:        3 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

type msg interface{ isClientMsg() }

type snapshotMsg struct{ snap document.Snapshot }

type actionMsg struct {
	cmd   engine.Command
	reply chan plan
}

type appliedMsg struct {
	cmd    engine.Command
	events []engine.Event
}

type timerMsg struct {
	kind timerKind
	gen  uint64
}

type viewMsg struct{ reply chan View }

type lostMsg struct{}

func (snapshotMsg) isClientMsg() {}
func (actionMsg) isClientMsg()   {}
func (appliedMsg) isClientMsg()  {}
func (timerMsg) isClientMsg()    {}
func (viewMsg) isClientMsg()     {}
func (lostMsg) isClientMsg()     {}

type plan struct {
	update engine.Update
	events []engine.Event
	err    error
}

type duty string

const (
	dutyResolveVotes    duty = "resolve-votes"
	dutyDeclareWinner   duty = "declare-winner"
	dutyConcludeMeeting duty = "conclude-meeting"
)

// Client follows one session on behalf of one player. All state below the
// inbox is owned by the loop goroutine.
type Client struct {
	store  store.Store
	code   string
	player string
	opts   Options
	log    *zap.Logger

	inbox  chan msg
	views  chan View
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	snap     document.Snapshot
	sess     *engine.Session
	phase    engine.Phase
	round    int
	seenSelf bool
	leaving  bool
	exit     ExitReason
	notice   string

	timers      map[timerKind]*timer
	gen         uint64
	lastKill    string
	resultArmed bool
	attempted   map[duty]int64
}

func New(st store.Store, code, player string, opts Options) *Client {
	def := DefaultOptions()
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	if opts.ResultDisplay <= 0 {
		opts.ResultDisplay = def.ResultDisplay
	}
	if opts.SabotageCooldown <= 0 {
		opts.SabotageCooldown = def.SabotageCooldown
	}
	if opts.Countdown < 0 {
		opts.Countdown = 0
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	return &Client{
		store:     st,
		code:      code,
		player:    player,
		opts:      opts,
		log:       zap.L().With(zap.String("code", code), zap.String("player", player)),
		inbox:     make(chan msg, 64),
		views:     make(chan View, 1),
		done:      make(chan struct{}),
		timers:    make(map[timerKind]*timer),
		attempted: make(map[duty]int64),
	}
}

// Start subscribes to the session and runs the loop until ctx is done,
// Close is called, or the session ends for this player.
func (c *Client) Start(ctx context.Context) error {
	sub, unsubscribe, err := c.store.Subscribe(ctx, c.code)
	if err != nil {
		return err
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	go c.pump(sub)
	go c.loop(unsubscribe)
	return nil
}

// Views delivers the latest view after every change. Intermediate views
// may be skipped. The channel is closed when the loop exits.
func (c *Client) Views() <-chan View { return c.views }

// Done is closed when the loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close stops the loop and waits for it. It is a no-op if Start never
// succeeded.
func (c *Client) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Client) pump(sub <-chan document.Snapshot) {
	for {
		select {
		case snap, ok := <-sub:
			if !ok {
				c.post(lostMsg{})
				return
			}
			c.post(snapshotMsg{snap: snap})
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) post(m msg) bool {
	select {
	case c.inbox <- m:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) loop(unsubscribe func()) {
	defer close(c.done)
	defer close(c.views)
	defer unsubscribe()
	defer c.stopTimers()

	for {
		select {
		case <-c.ctx.Done():
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case snapshotMsg:
				c.onSnapshot(msg.snap)

			case actionMsg:
				msg.reply <- c.prepare(msg.cmd)

			case appliedMsg:
				c.onApplied(msg.cmd, msg.events)

			case timerMsg:
				c.onTimer(msg.kind, msg.gen)

			case viewMsg:
				msg.reply <- c.view()

			case lostMsg:
				if c.exit == ExitNone {
					c.leave(ExitLost, "Connection to the game was lost.")
				}
			}
			if c.exit != ExitNone {
				c.publish()
				c.cancel()
				return
			}
			c.publish()
		}
	}
}

func (c *Client) publish() {
	v := c.view()
	for {
		select {
		case c.views <- v:
			return
		default:
		}
		select {
		case <-c.views:
		default:
		}
	}
}

func (c *Client) leave(reason ExitReason, notice string) {
	c.exit = reason
	c.notice = notice
	c.log.Info("left session", zap.String("reason", string(reason)))
}

func (c *Client) onSnapshot(snap document.Snapshot) {
	if !snap.Exists {
		c.sess = nil
		c.phase = engine.PhaseDeleted
		c.leave(ExitDeleted, "The game has ended.")
		return
	}
	if snap.Version <= c.snap.Version {
		return
	}
	sess, err := snap.Session()
	if err != nil {
		c.log.Warn("undecodable snapshot", zap.Int64("version", snap.Version), zap.Error(err))
		return
	}
	c.snap = snap
	c.sess = sess
	valid := true
	if err := sess.Validate(); err != nil {
		valid = false
		c.log.Warn("inconsistent session record", zap.Int64("version", snap.Version), zap.Error(err))
	}

	if !sess.HasPlayer(c.player) {
		switch {
		case c.leaving:
			c.leave(ExitLeft, "")
		case c.seenSelf:
			c.leave(ExitKicked, "You were removed from the game.")
		}
		return
	}
	first := !c.seenSelf
	c.seenSelf = true

	prev, next := c.phase, engine.DerivePhase(sess)
	if prev != next && !engine.CanTransition(prev, next) {
		c.log.Debug("phase skipped ahead", zap.Stringer("from", prev), zap.Stringer("to", next))
	}
	c.phase = next

	// joining a round already in progress skips the countdown
	if next == engine.PhaseRound && !first && (prev == engine.PhaseLobby || sess.Round != c.round) {
		c.startRound()
	}
	c.round = sess.Round
	if next == engine.PhaseLobby || next == engine.PhaseGameOver {
		c.stop(timerCountdown)
		c.stop(timerKillCooldown)
		c.stop(timerSabotageCooldown)
		c.lastKill = ""
	}

	switch {
	case sess.VotingResult != "" && !c.resultArmed:
		c.resultArmed = true
		c.start(timerResult, c.opts.ResultDisplay)
	case sess.VotingResult == "" && c.resultArmed:
		c.resultArmed = false
		c.stop(timerResult)
	}

	if valid {
		c.runDuties()
	}
}

func (c *Client) startRound() {
	c.stopTimers()
	c.lastKill = ""
	c.resultArmed = false
	if c.opts.Countdown > 0 {
		c.start(timerCountdown, c.opts.Countdown)
	}
}

// runDuties issues the writes any client may perform on the session's
// behalf. Each is attempted once per observed version and written
// conditionally, so racing clients cannot disagree. Records failing
// Validate never trigger them.
func (c *Client) runDuties() {
	s := *c.sess
	switch c.phase {
	case engine.PhaseMeeting:
		if s.VotingResult == "" && engine.AllAliveVoted(s) {
			c.attempt(dutyResolveVotes, engine.CmdResolveVotes)
		}
	case engine.PhaseRound:
		if engine.Verdict(s) != engine.WinnerNone {
			c.attempt(dutyDeclareWinner, engine.CmdDeclareWinner)
		}
	}
}

func (c *Client) attempt(d duty, cmd engine.CommandType) {
	if c.attempted[d] == c.snap.Version {
		return
	}
	c.attempted[d] = c.snap.Version
	go c.perform(d, engine.Command{Type: cmd, Actor: c.player})
}

func (c *Client) onApplied(cmd engine.Command, events []engine.Event) {
	for _, ev := range events {
		if ev.Player != c.player {
			continue
		}
		switch ev.Type {
		case engine.EvtPlayerKilled:
			c.lastKill = ev.Target
			secs := engine.DefaultSettings.KillCooldownSeconds
			if c.sess != nil && c.sess.KillCooldownSeconds > 0 {
				secs = c.sess.KillCooldownSeconds
			}
			c.start(timerKillCooldown, time.Duration(secs)*time.Second)

		case engine.EvtKillUndone:
			if ev.Target == c.lastKill && c.running(timerKillCooldown) {
				c.stop(timerKillCooldown)
			}
			c.lastKill = ""

		case engine.EvtSabotageResolved:
			if cmd.Type == engine.CmdResolveSabotage {
				c.start(timerSabotageCooldown, c.opts.SabotageCooldown)
			}
		}
	}
}

func (c *Client) onTimer(kind timerKind, gen uint64) {
	t, ok := c.timers[kind]
	if !ok || t.gen != gen {
		return
	}
	delete(c.timers, kind)

	if kind == timerResult && c.sess != nil && c.sess.VotingResult != "" {
		c.attempt(dutyConcludeMeeting, engine.CmdConcludeMeeting)
	}
}

// View returns the current view.
func (c *Client) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case c.inbox <- viewMsg{reply: reply}:
	case <-c.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}
