// Package presence removes players whose connection dropped without a
// clean leave, once a grace period passes without them reconnecting.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/fake-tasker-backend/internal/document"
	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

type Updater interface {
	Update(ctx context.Context, code string, u engine.Update) (document.Snapshot, error)
}

type key struct{ code, player string }

type removal struct{ timer *clock.Timer }

type Tracker struct {
	store   Updater
	clock   clock.Clock
	grace   time.Duration
	timeout time.Duration

	mu      sync.Mutex
	conns   map[key]int
	pending map[key]*removal
}

func New(store Updater, clk clock.Clock, grace, writeTimeout time.Duration) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		store:   store,
		clock:   clk,
		grace:   grace,
		timeout: writeTimeout,
		conns:   make(map[key]int),
		pending: make(map[key]*removal),
	}
}

// Connect marks player present in code. The returned release must be
// called once when the connection ends; clean=false schedules removal.
func (t *Tracker) Connect(code, player string) (release func(clean bool)) {
	k := key{code, player}

	t.mu.Lock()
	t.conns[k]++
	if r, ok := t.pending[k]; ok {
		r.timer.Stop()
		delete(t.pending, k)
	}
	t.mu.Unlock()

	var once sync.Once
	return func(clean bool) {
		once.Do(func() { t.release(k, clean) })
	}
}

func (t *Tracker) release(k key, clean bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conns[k]--
	if t.conns[k] > 0 {
		return
	}
	delete(t.conns, k)
	if clean {
		return
	}

	r := &removal{}
	r.timer = t.clock.AfterFunc(t.grace, func() { t.expire(k, r) })
	t.pending[k] = r
}

func (t *Tracker) expire(k key, r *removal) {
	t.mu.Lock()
	if t.pending[k] != r || t.conns[k] > 0 {
		t.mu.Unlock()
		return
	}
	delete(t.pending, k)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	_, err := t.store.Update(ctx, k.code, engine.Update{}.Remove(engine.Field(engine.FieldPlayers), k.player))
	switch {
	case errors.Is(err, document.ErrNotFound):
	case err != nil:
		zap.L().Warn("presence removal failed",
			zap.String("code", k.code), zap.String("player", k.player), zap.Error(err))
	default:
		zap.L().Info("removed disconnected player",
			zap.String("code", k.code), zap.String("player", k.player))
	}
}

// Pending reports how many removals are scheduled.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
