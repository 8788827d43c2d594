package hub

import (
	"context"

	"github.com/DoyleJ11/fake-tasker-backend/internal/document"
	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

type CreateDocument struct {
	Code   string
	Fields map[string]any
	Reply  chan createResult
}

type createResult struct {
	doc *document.Document
	err error
}

type GetDocument struct {
	Code  string
	Reply chan *document.Document
}

type RemoveDocument struct {
	Code string
	Doc  *document.Document
}

type ShutdownHub struct{}

func (CreateDocument) isHubMsg() {}
func (GetDocument) isHubMsg()    {}
func (RemoveDocument) isHubMsg() {}
func (ShutdownHub) isHubMsg()    {}

// Hub is the in-memory document store: one document actor per game code.
type Hub struct {
	inbox  chan HubMsg
	docs   map[string]*document.Document
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		docs:   make(map[string]*document.Document),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateDocument:
				if doc := h.docs[msg.Code]; doc != nil && !gone(doc) {
					msg.Reply <- createResult{err: document.ErrExists}
					break
				}
				doc, err := document.New(h.ctx, msg.Code, msg.Fields)
				if err != nil {
					msg.Reply <- createResult{err: err}
					break
				}
				h.docs[msg.Code] = doc
				go h.reap(doc)
				zap.L().Info("document created", zap.String("code", msg.Code))
				msg.Reply <- createResult{doc: doc}

			case GetDocument:
				doc := h.docs[msg.Code]
				if doc != nil && gone(doc) {
					doc = nil
				}
				msg.Reply <- doc // May be nil

			case RemoveDocument:
				if h.docs[msg.Code] == msg.Doc {
					delete(h.docs, msg.Code)
				}

			case ShutdownHub:
				for _, doc := range h.docs {
					select {
					case doc.Inbox() <- document.Shutdown{}:
					case <-doc.Done():
					}
				}
				clear(h.docs)
				h.cancel()
			}
		}
	}
}

// reap drops doc from the hub once it is deleted.
func (h *Hub) reap(doc *document.Document) {
	select {
	case <-doc.Done():
	case <-h.ctx.Done():
		return
	}
	select {
	case h.inbox <- RemoveDocument{Code: doc.Code(), Doc: doc}:
	case <-h.ctx.Done():
	}
}

func gone(doc *document.Document) bool {
	select {
	case <-doc.Done():
		return true
	default:
		return false
	}
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) lookup(ctx context.Context, code string) (*document.Document, error) {
	reply := make(chan *document.Document, 1)
	if err := h.send(ctx, GetDocument{Code: code, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case doc := <-reply:
		if doc == nil {
			return nil, document.ErrNotFound
		}
		return doc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Create(ctx context.Context, code string, fields map[string]any) error {
	reply := make(chan createResult, 1)
	if err := h.send(ctx, CreateDocument{Code: code, Fields: fields, Reply: reply}); err != nil {
		return err
	}
	select {
	case res := <-reply:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Get(ctx context.Context, code string) (document.Snapshot, error) {
	doc, err := h.lookup(ctx, code)
	if err != nil {
		return document.Snapshot{}, err
	}
	return doc.Get(ctx)
}

func (h *Hub) Update(ctx context.Context, code string, u engine.Update) (document.Snapshot, error) {
	doc, err := h.lookup(ctx, code)
	if err != nil {
		return document.Snapshot{}, err
	}
	return doc.Update(ctx, u)
}

func (h *Hub) Delete(ctx context.Context, code string) error {
	_, err := h.Update(ctx, code, engine.Update{DeleteDoc: true})
	return err
}

func (h *Hub) Subscribe(ctx context.Context, code string) (<-chan document.Snapshot, func(), error) {
	doc, err := h.lookup(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	return doc.Subscribe(ctx)
}

// Shutdown stops every document and the hub itself.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}
