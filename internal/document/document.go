package document

import (
	"context"

	"github.com/DoyleJ11/fake-tasker-backend/internal/codec"
	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Snapshot is one observed state of a document. Fields must be treated as
// read-only; every write produces a fresh map.
type Snapshot struct {
	Code    string
	Version int64
	Exists  bool
	Fields  map[string]any
}

// Session decodes the snapshot. It returns nil for a deleted document.
func (s Snapshot) Session() (*engine.Session, error) {
	if !s.Exists {
		return nil, nil
	}
	var sess engine.Session
	if err := codec.FromFields(s.Fields, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

type Msg interface{ isDocumentMsg() }

type Subscribe struct {
	ID     string
	Outbox chan Snapshot // receives the current snapshot, then the latest after each write
}

func (Subscribe) isDocumentMsg() {}

type Unsubscribe struct{ ID string }

func (Unsubscribe) isDocumentMsg() {}

type Write struct {
	Update engine.Update
	Reply  chan WriteResult
}

func (Write) isDocumentMsg() {}

type WriteResult struct {
	Snapshot Snapshot
	Err      error
}

type Get struct {
	Reply chan Snapshot
}

func (Get) isDocumentMsg() {}

type Shutdown struct{}

func (Shutdown) isDocumentMsg() {}

// Document owns one session record. All access goes through its inbox,
// processed by a single goroutine.
type Document struct {
	code    string
	inbox   chan Msg
	fields  map[string]any
	version int64
	subs    map[string]chan Snapshot
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(parent context.Context, code string, fields map[string]any) (*Document, error) {
	norm, err := ApplyOps(fields, nil)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(parent)

	d := &Document{
		code:    code,
		inbox:   make(chan Msg, 64),
		fields:  norm,
		version: 1,
		subs:    make(map[string]chan Snapshot),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	go d.loop()
	return d, nil
}

func (d *Document) loop() {
	for {
		select {
		case <-d.ctx.Done():
			d.shutdown()
			return

		case m := <-d.inbox:
			switch msg := m.(type) {
			case Subscribe:
				d.subs[msg.ID] = msg.Outbox
				Offer(msg.Outbox, d.snapshot())

			case Unsubscribe:
				if ch, ok := d.subs[msg.ID]; ok {
					close(ch)
					delete(d.subs, msg.ID)
				}

			case Write:
				if msg.Update.DeleteDoc {
					if msg.Update.IfVersion != 0 && msg.Update.IfVersion != d.version {
						msg.Reply <- WriteResult{Err: ErrConflict}
						break
					}
					d.version++
					gone := Snapshot{Code: d.code, Version: d.version}
					d.broadcast(gone)
					close(d.done)
					msg.Reply <- WriteResult{Snapshot: gone}
					zap.L().Info("document deleted", zap.String("code", d.code))
					d.shutdown()
					return
				}

				next, changed, err := ApplyUpdate(d.fields, d.version, msg.Update)
				if err != nil {
					msg.Reply <- WriteResult{Err: err}
					break
				}
				if changed {
					d.fields = next
					d.version++
					d.broadcast(d.snapshot())
				}
				msg.Reply <- WriteResult{Snapshot: d.snapshot()}

			case Get:
				msg.Reply <- d.snapshot()

			case Shutdown:
				d.shutdown()
				return
			}
		}
	}
}

func (d *Document) snapshot() Snapshot {
	return Snapshot{Code: d.code, Version: d.version, Exists: true, Fields: d.fields}
}

func (d *Document) shutdown() {
	for id, ch := range d.subs {
		close(ch) // no more snapshots
		delete(d.subs, id)
	}
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	d.cancel()
}

func (d *Document) broadcast(snap Snapshot) {
	for _, ch := range d.subs {
		Offer(ch, snap)
	}
}

// Offer delivers snap without blocking. A subscriber that has not consumed
// the previous snapshot gets it replaced, so readers always converge on
// the latest state.
func Offer(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (d *Document) Inbox() chan<- Msg { return d.inbox }

func (d *Document) Code() string { return d.code }

// Done is closed once the document is deleted or shut down. A delete
// closes it before the deleting write returns.
func (d *Document) Done() <-chan struct{} { return d.done }

func (d *Document) send(ctx context.Context, m Msg) error {
	select {
	case d.inbox <- m:
		return nil
	case <-d.ctx.Done():
		return ErrNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Document) Get(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := d.send(ctx, Get{Reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-d.ctx.Done():
		select {
		case snap := <-reply:
			return snap, nil
		default:
			return Snapshot{}, ErrNotFound
		}
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (d *Document) Update(ctx context.Context, u engine.Update) (Snapshot, error) {
	reply := make(chan WriteResult, 1)
	if err := d.send(ctx, Write{Update: u, Reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case res := <-reply:
		return res.Snapshot, res.Err
	case <-d.ctx.Done():
		// the deleting write replies before the loop exits
		select {
		case res := <-reply:
			return res.Snapshot, res.Err
		default:
			return Snapshot{}, ErrNotFound
		}
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Subscribe registers a coalescing subscriber. The returned cancel func
// is safe to call after the document is gone.
func (d *Document) Subscribe(ctx context.Context) (<-chan Snapshot, func(), error) {
	id := uuid.NewString()
	out := make(chan Snapshot, 1)
	if err := d.send(ctx, Subscribe{ID: id, Outbox: out}); err != nil {
		return nil, nil, err
	}
	cancel := func() {
		select {
		case d.inbox <- Unsubscribe{ID: id}:
		case <-d.ctx.Done():
		}
	}
	return out, cancel, nil
}
