package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/fake-tasker-backend/internal/codec"
	"github.com/DoyleJ11/fake-tasker-backend/internal/document"
	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const notifyChannel = "session_changed"

type sessionRow struct {
	Code      string `gorm:"primaryKey;size:6"`
	Version   int64  `gorm:"not null"`
	Data      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (sessionRow) TableName() string { return "sessions" }

// Postgres keeps each session as one CBOR row. Writes take a row lock, so
// every Update is atomic, and commit a NOTIFY that Listen turns into
// snapshots for subscribers on every instance.
type Postgres struct {
	db  *gorm.DB
	dsn string

	mu   sync.Mutex
	subs map[string]map[string]chan document.Snapshot
	seen map[string]int64
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	return &Postgres{
		db:   db,
		dsn:  dsn,
		subs: make(map[string]map[string]chan document.Snapshot),
		seen: make(map[string]int64),
	}, nil
}

func (p *Postgres) Create(ctx context.Context, code string, fields map[string]any) error {
	norm, err := document.ApplyOps(fields, nil)
	if err != nil {
		return err
	}
	data, err := codec.Marshal(norm)
	if err != nil {
		return err
	}
	row := sessionRow{Code: code, Version: 1, Data: data}
	err = p.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrExists
	}
	return err
}

func (p *Postgres) Get(ctx context.Context, code string) (document.Snapshot, error) {
	var row sessionRow
	err := p.db.WithContext(ctx).First(&row, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return document.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return document.Snapshot{}, err
	}
	return rowSnapshot(row)
}

func rowSnapshot(row sessionRow) (document.Snapshot, error) {
	fields := map[string]any{}
	if err := codec.Unmarshal(row.Data, &fields); err != nil {
		return document.Snapshot{}, fmt.Errorf("decode session %s: %w", row.Code, err)
	}
	return document.Snapshot{Code: row.Code, Version: row.Version, Exists: true, Fields: fields}, nil
}

func (p *Postgres) Update(ctx context.Context, code string, u engine.Update) (document.Snapshot, error) {
	var snap document.Snapshot
	var changed bool

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "code = ?", code).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if u.DeleteDoc {
			if u.IfVersion != 0 && u.IfVersion != row.Version {
				return ErrConflict
			}
			if err := tx.Delete(&row).Error; err != nil {
				return err
			}
			snap = document.Snapshot{Code: code, Version: row.Version + 1}
			changed = true
			return notify(tx, code)
		}

		current, err := rowSnapshot(row)
		if err != nil {
			return err
		}
		next, ok, err := document.ApplyUpdate(current.Fields, row.Version, u)
		if err != nil {
			return err
		}
		if !ok {
			snap = current
			return nil
		}
		data, err := codec.Marshal(next)
		if err != nil {
			return err
		}
		row.Version++
		row.Data = data
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		snap = document.Snapshot{Code: code, Version: row.Version, Exists: true, Fields: next}
		changed = true
		return notify(tx, code)
	})
	if err != nil {
		return document.Snapshot{}, err
	}
	if changed {
		p.publish(snap)
	}
	return snap, nil
}

func notify(tx *gorm.DB, code string) error {
	return tx.Exec("SELECT pg_notify(?, ?)", notifyChannel, code).Error
}

func (p *Postgres) Delete(ctx context.Context, code string) error {
	_, err := p.Update(ctx, code, engine.Update{DeleteDoc: true})
	return err
}

func (p *Postgres) Subscribe(ctx context.Context, code string) (<-chan document.Snapshot, func(), error) {
	id, out, cancel := p.register(code)

	snap, err := p.Get(ctx, code)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	p.deliverInitial(code, id, snap)
	return out, cancel, nil
}

func (p *Postgres) register(code string) (string, chan document.Snapshot, func()) {
	id := uuid.NewString()
	out := make(chan document.Snapshot, 1)

	p.mu.Lock()
	if p.subs[code] == nil {
		p.subs[code] = make(map[string]chan document.Snapshot)
	}
	p.subs[code][id] = out
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if ch, ok := p.subs[code][id]; ok {
			close(ch)
			delete(p.subs[code], id)
			if len(p.subs[code]) == 0 {
				delete(p.subs, code)
				delete(p.seen, code)
			}
		}
	}
	return id, out, cancel
}

// deliverInitial offers the snapshot read at subscribe time. A write that
// committed after registration has already been published to the
// subscriber, so an older read is dropped.
func (p *Postgres) deliverInitial(code, id string, snap document.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.subs[code][id]
	if !ok || snap.Version < p.seen[code] {
		return
	}
	document.Offer(ch, snap)
}

// publish fans snap out to local subscribers, dropping snapshots older
// than one already delivered.
func (p *Postgres) publish(snap document.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subs[snap.Code]
	if len(subs) == 0 || snap.Version <= p.seen[snap.Code] {
		return
	}
	p.seen[snap.Code] = snap.Version
	for id, ch := range subs {
		document.Offer(ch, snap)
		if !snap.Exists {
			close(ch)
			delete(subs, id)
		}
	}
	if !snap.Exists {
		delete(p.subs, snap.Code)
		delete(p.seen, snap.Code)
	}
}

func (p *Postgres) watched(code string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[code]) > 0
}

// Listen relays change notifications from other instances until ctx is
// done.
func (p *Postgres) Listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	zap.L().Info("listening for session changes", zap.String("channel", notifyChannel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		p.refresh(ctx, n.Payload)
	}
}

func (p *Postgres) refresh(ctx context.Context, code string) {
	if !p.watched(code) {
		return
	}
	snap, err := p.Get(ctx, code)
	switch {
	case errors.Is(err, ErrNotFound):
		p.mu.Lock()
		version := p.seen[code] + 1
		p.mu.Unlock()
		p.publish(document.Snapshot{Code: code, Version: version})
	case err != nil:
		zap.L().Warn("refresh session", zap.String("code", code), zap.Error(err))
	default:
		p.publish(snap)
	}
}

func (p *Postgres) Close() error {
	var err error

	p.mu.Lock()
	for code, subs := range p.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(p.subs, code)
	}
	p.mu.Unlock()

	sqlDB, dbErr := p.db.DB()
	err = multierr.Append(err, dbErr)
	if sqlDB != nil {
		err = multierr.Append(err, sqlDB.Close())
	}
	return err
}
