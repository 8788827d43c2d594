package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/fake-tasker-backend/internal/codec"
	"github.com/DoyleJ11/fake-tasker-backend/internal/document"
	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
	"github.com/DoyleJ11/fake-tasker-backend/internal/store"
	"go.uber.org/zap"
)

const dutyAttempts = 3

// CreateSession writes a new lobby owned by creator.
func CreateSession(ctx context.Context, st store.Store, code, creator string, settings engine.Settings, tasks []string) error {
	name, err := engine.NormalizeName(creator)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	fields, err := codec.ToFields(engine.NewSession(name, settings, tasks))
	if err != nil {
		return err
	}
	return st.Create(ctx, code, fields)
}

// JoinSession adds player to an existing session. Joining again is a
// no-op.
func JoinSession(ctx context.Context, st store.Store, code, player string) error {
	snap, err := st.Get(ctx, code)
	if err != nil {
		return err
	}
	sess, err := snap.Session()
	if err != nil {
		return err
	}
	_, u, err := engine.Apply(*sess, engine.Command{Type: engine.CmdJoin, Actor: player}, nil)
	if err != nil || u.IsZero() {
		return err
	}
	_, err = st.Update(ctx, code, u)
	return err
}

// Do validates cmd against the latest snapshot and writes it. Validation
// errors wrap engine.ErrValidation; store failures wrap ErrWriteFailure.
func (c *Client) Do(ctx context.Context, cmd engine.Command) error {
	cmd.Actor = c.player

	reply := make(chan plan, 1)
	select {
	case c.inbox <- actionMsg{cmd: cmd, reply: reply}:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	var p plan
	select {
	case p = <-reply:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	if p.err != nil || p.update.IsZero() {
		return p.err
	}

	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if _, err := c.store.Update(wctx, c.code, p.update); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionLost
		}
		c.log.Warn("write failed", zap.String("command", string(cmd.Type)), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}

	c.post(appliedMsg{cmd: cmd, events: p.events})
	return nil
}

// prepare runs in the loop: local checks first, then the engine.
func (c *Client) prepare(cmd engine.Command) plan {
	if c.sess == nil {
		return plan{err: ErrSessionLost}
	}
	s := *c.sess

	if c.running(timerCountdown) {
		switch cmd.Type {
		case engine.CmdToggleTask, engine.CmdToggleDeath, engine.CmdCallMeeting, engine.CmdInitiateSabotage:
			return plan{err: ErrCountdown}
		}
	}

	switch cmd.Type {
	case engine.CmdToggleDeath:
		if s.IsDead(cmd.Target) {
			if cmd.Target != c.lastKill {
				return plan{err: engine.ErrInvalidTarget}
			}
		} else if c.running(timerKillCooldown) {
			return plan{err: ErrKillCooldown}
		}
	case engine.CmdInitiateSabotage:
		if c.running(timerSabotageCooldown) {
			return plan{err: ErrSabotageCooldown}
		}
	}

	events, u, err := engine.Apply(s, cmd, c.opts.Rand)
	if err == nil && cmd.Type == engine.CmdLeave {
		c.leaving = true
	}
	return plan{update: u, events: events, err: err}
}

// perform carries out a duty against a fresh read, conditioned on the
// version it read. A validation error means another client already did it.
func (c *Client) perform(d duty, cmd engine.Command) {
	for range dutyAttempts {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
		err := c.performOnce(ctx, cmd)
		cancel()

		switch {
		case err == nil:
			c.log.Debug("duty done", zap.String("duty", string(d)))
			return
		case errors.Is(err, store.ErrConflict):
			continue
		case errors.Is(err, engine.ErrValidation), errors.Is(err, store.ErrNotFound), c.ctx.Err() != nil:
			return
		default:
			c.log.Warn("duty failed", zap.String("duty", string(d)), zap.Error(err))
			return
		}
	}
}

func (c *Client) performOnce(ctx context.Context, cmd engine.Command) error {
	snap, err := c.store.Get(ctx, c.code)
	if err != nil {
		return err
	}
	sess, err := snap.Session()
	if err != nil {
		return err
	}
	_, u, err := engine.Apply(*sess, cmd, nil)
	if err != nil {
		return err
	}
	_, err = c.store.Update(ctx, c.code, u.Conditional(snap.Version))
	return err
}

// Foreground re-reads the session, for when notifications may have been
// missed while the player was away.
func (c *Client) Foreground(ctx context.Context) error {
	snap, err := c.store.Get(ctx, c.code)
	switch {
	case errors.Is(err, store.ErrNotFound):
		snap = document.Snapshot{Code: c.code}
	case err != nil:
		return err
	}
	select {
	case c.inbox <- snapshotMsg{snap: snap}:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) StartGame(ctx context.Context) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdStartGame})
}

func (c *Client) AddTask(ctx context.Context, task string) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdAddTask, Task: task})
}

func (c *Client) RemoveTask(ctx context.Context, task string) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdRemoveTask, Task: task})
}

func (c *Client) Configure(ctx context.Context, settings engine.Settings) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdConfigure, Settings: settings})
}

func (c *Client) ToggleTask(ctx context.Context, task string) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdToggleTask, Task: task})
}

func (c *Client) ToggleDeath(ctx context.Context, target string) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdToggleDeath, Target: target})
}

func (c *Client) CallMeeting(ctx context.Context) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdCallMeeting})
}

func (c *Client) Vote(ctx context.Context, target string) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdSubmitVote, Target: target})
}

func (c *Client) InitiateSabotage(ctx context.Context, target string) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdInitiateSabotage, Target: target})
}

func (c *Client) ResolveSabotage(ctx context.Context) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdResolveSabotage})
}

func (c *Client) Kick(ctx context.Context, target string) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdKickPlayer, Target: target})
}

func (c *Client) FinishGame(ctx context.Context) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdFinishGame})
}

func (c *Client) EndRound(ctx context.Context) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdEndRound})
}

func (c *Client) ReturnToLobby(ctx context.Context) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdReturnToLobby})
}

func (c *Client) Leave(ctx context.Context) error {
	return c.Do(ctx, engine.Command{Type: engine.CmdLeave})
}
