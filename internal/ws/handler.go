package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/DoyleJ11/fake-tasker-backend/internal/client"
	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
	"github.com/DoyleJ11/fake-tasker-backend/internal/presence"
	"github.com/DoyleJ11/fake-tasker-backend/internal/store"
	"github.com/DoyleJ11/fake-tasker-backend/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeTimeout   = 3 * time.Second
	pingInterval   = 20 * time.Second
	maxMessageSize = 4096
)

var errUnknownType = errors.New("unknown type")

type Options struct {
	Client         client.Options
	OriginPatterns []string
}

// Handler serves GET /ws?code=&player=. Each connection runs its own
// client loop for that player.
func Handler(st store.Store, tracker *presence.Tracker, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		player := r.URL.Query().Get("player")
		if code == "" || player == "" {
			http.Error(w, "missing code or player", http.StatusBadRequest)
			return
		}

		snap, err := st.Get(r.Context(), code)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "invalid code", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to load session", http.StatusInternalServerError)
			return
		}
		sess, err := snap.Session()
		if err != nil {
			http.Error(w, "failed to load session", http.StatusInternalServerError)
			return
		}
		if !sess.HasPlayer(player) {
			http.Error(w, "not in this session", http.StatusForbidden)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(maxMessageSize)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		p := &peer{
			conn: conn,
			errs: make(chan types.ServerMessage, 8),
			log: zap.L().With(
				zap.String("conn", uuid.NewString()),
				zap.String("code", code),
				zap.String("player", player),
			),
		}

		release := tracker.Connect(code, player)
		defer func() { release(p.clean.Load()) }()

		p.client = client.New(st, code, player, opts.Client)
		if err := p.client.Start(ctx); err != nil {
			p.log.Warn("subscribe failed", zap.Error(err))
			conn.Close(websocket.StatusInternalError, "subscribe failed")
			return
		}
		defer p.client.Close()

		p.log.Info("connected")
		go p.writeLoop(ctx)
		go p.heartbeat(ctx, cancel)
		p.readLoop(ctx)
		p.log.Info("disconnected", zap.Bool("clean", p.clean.Load()))
	}
}

type peer struct {
	conn   *websocket.Conn
	client *client.Client
	errs   chan types.ServerMessage
	log    *zap.Logger

	// clean is set once the player left the session on purpose, was kicked,
	// or the session was deleted.
	clean atomic.Bool
}

func (p *peer) writeLoop(ctx context.Context) {
	for {
		select {
		case v, ok := <-p.client.Views():
			if !ok {
				return
			}
			if err := p.write(ctx, types.ServerMessage{Type: "View", Version: v.Version, View: &v}); err != nil {
				return
			}
			if v.Exit != client.ExitNone {
				p.clean.Store(v.Exit != client.ExitLost)
				p.conn.Close(websocket.StatusNormalClosure, string(v.Exit))
				return
			}

		case m := <-p.errs:
			if err := p.write(ctx, m); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (p *peer) write(ctx context.Context, m types.ServerMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, p.conn, m)
}

func (p *peer) heartbeat(ctx context.Context, cancel context.CancelFunc) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := p.conn.Ping(pctx)
			pcancel()
			if err != nil {
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *peer) readLoop(ctx context.Context) {
	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				p.log.Debug("read ended", zap.Error(err))
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			p.fail(ctx, errors.New("bad json"))
			continue
		}

		err = dispatch(ctx, p.client, cm)
		if errors.Is(err, client.ErrClosed) {
			return
		}
		if err != nil {
			p.fail(ctx, err)
		}
	}
}

func (p *peer) fail(ctx context.Context, err error) {
	m := types.ServerMessage{
		Type:      "Error",
		Error:     err.Error(),
		Retryable: errors.Is(err, client.ErrWriteFailure),
	}
	select {
	case p.errs <- m:
	case <-ctx.Done():
	}
}

func dispatch(ctx context.Context, c *client.Client, m types.ClientMessage) error {
	switch m.Type {
	case "StartGame":
		return c.StartGame(ctx)
	case "AddTask":
		return c.AddTask(ctx, m.Task)
	case "RemoveTask":
		return c.RemoveTask(ctx, m.Task)
	case "Configure":
		return c.Configure(ctx, engine.Settings{
			TasksPerCrewmate:    m.TasksPerCrewmate,
			ImposterCount:       m.ImposterCount,
			KillCooldownSeconds: m.KillCooldownSeconds,
		})
	case "ToggleTask":
		return c.ToggleTask(ctx, m.Task)
	case "ToggleDeath":
		return c.ToggleDeath(ctx, m.Target)
	case "CallMeeting":
		return c.CallMeeting(ctx)
	case "Vote":
		return c.Vote(ctx, m.Target)
	case "Sabotage":
		return c.InitiateSabotage(ctx, m.Target)
	case "ResolveSabotage":
		return c.ResolveSabotage(ctx)
	case "Kick":
		return c.Kick(ctx, m.Target)
	case "FinishGame":
		return c.FinishGame(ctx)
	case "EndRound":
		return c.EndRound(ctx)
	case "ReturnToLobby":
		return c.ReturnToLobby(ctx)
	case "Leave":
		return c.Leave(ctx)
	case "Foreground":
		return c.Foreground(ctx)
	default:
		return errUnknownType
	}
}
