package client

import (
	"time"

	"github.com/benbjohnson/clock"
)

type timerKind string

const (
	timerCountdown        timerKind = "countdown"
	timerKillCooldown     timerKind = "kill-cooldown"
	timerSabotageCooldown timerKind = "sabotage-cooldown"
	timerResult           timerKind = "result-display"
)

type timer struct {
	gen   uint64
	t     *clock.Timer
	until time.Time
}

// start (re)arms kind. A fire from an earlier arming is ignored by gen.
func (c *Client) start(kind timerKind, d time.Duration) {
	c.stop(kind)
	c.gen++
	gen := c.gen
	c.timers[kind] = &timer{
		gen:   gen,
		until: c.opts.Clock.Now().Add(d),
		t: c.opts.Clock.AfterFunc(d, func() {
			c.post(timerMsg{kind: kind, gen: gen})
		}),
	}
}

func (c *Client) stop(kind timerKind) {
	if t, ok := c.timers[kind]; ok {
		t.t.Stop()
		delete(c.timers, kind)
	}
}

func (c *Client) stopTimers() {
	for kind := range c.timers {
		c.stop(kind)
	}
}

func (c *Client) running(kind timerKind) bool {
	_, ok := c.timers[kind]
	return ok
}

func (c *Client) deadline(kind timerKind) time.Time {
	if t, ok := c.timers[kind]; ok {
		return t.until
	}
	return time.Time{}
}
