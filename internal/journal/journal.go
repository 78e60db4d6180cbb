// Package journal persists domain events and per-shelf history to SQLite.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/shelfd/internal/events"
	"github.com/banshee-data/shelfd/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultQueueSize bounds the writer queue. Events published while it is
// full are counted and dropped; the router never waits on the disk.
const DefaultQueueSize = 1024

// Journal is a SQLite-backed event log.
type Journal struct {
	*sql.DB
	path string

	queue   chan events.Event
	dropped atomic.Uint64
	written atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
	running   atomic.Bool
}

// Open opens (or creates) the journal at path and migrates it to the latest
// schema. Use ":memory:" only with a single connection.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// modernc sqlite serialises writers; one connection keeps :memory: stable.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	j := &Journal{
		DB:     db,
		path:   path,
		queue:  make(chan events.Event, DefaultQueueSize),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := j.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	monitoring.Logf("[journal] opened %s", path)
	return j, nil
}

// Path returns the database path.
func (j *Journal) Path() string { return j.path }

// Attach subscribes the journal to every event on r. Delivery is a
// non-blocking enqueue.
func (j *Journal) Attach(r *events.Router) *events.Subscription {
	return r.Subscribe("journal", j.Enqueue)
}

// Enqueue queues ev for the writer, dropping it if the queue is full.
func (j *Journal) Enqueue(ev events.Event) {
	select {
	case <-j.closed:
		j.dropped.Add(1)
		return
	default:
	}
	select {
	case j.queue <- ev:
	default:
		if j.dropped.Add(1)%100 == 1 {
			monitoring.Logf("[journal] queue full, dropped %d events so far", j.dropped.Load())
		}
	}
}

// Run writes queued events until ctx is done or Close is called, then
// flushes what is left.
func (j *Journal) Run(ctx context.Context) {
	j.running.Store(true)
	defer close(j.done)
	for {
		select {
		case ev := <-j.queue:
			j.write(ev)
		case <-ctx.Done():
			j.flush()
			return
		case <-j.closed:
			j.flush()
			return
		}
	}
}

func (j *Journal) flush() {
	for {
		select {
		case ev := <-j.queue:
			j.write(ev)
		default:
			return
		}
	}
}

func (j *Journal) write(ev events.Event) {
	if err := j.Record(ev); err != nil {
		monitoring.Logf("[journal] record %s: %v", ev.Kind, err)
	}
}

// Record writes ev synchronously and updates the shelf history.
func (j *Journal) Record(ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	tx, err := j.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ms := ev.Time.UnixMilli()
	_, err = tx.Exec(`
		INSERT INTO events (kind, time_ms, shelf_id, session_id, item_id, item_count, message, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ms, nullable(ev.ShelfID), nullable(ev.SessionID),
		nullable(ev.ItemID), ev.ItemCount, nullable(ev.Message), string(payload))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	switch ev.Kind {
	case events.ShelfCreated:
		_, err = tx.Exec(`INSERT OR IGNORE INTO shelves (shelf_id, session_id, created_ms) VALUES (?, ?, ?)`,
			ev.ShelfID, nullable(ev.SessionID), ms)
	case events.ShelfItemAdded:
		_, err = tx.Exec(`UPDATE shelves SET items_added = items_added + 1 WHERE shelf_id = ?`, ev.ShelfID)
	case events.ShelfItemRemoved:
		_, err = tx.Exec(`UPDATE shelves SET items_removed = items_removed + 1 WHERE shelf_id = ?`, ev.ShelfID)
	case events.ShelfAutoHidden:
		_, err = tx.Exec(`UPDATE shelves SET auto_hidden = 1 WHERE shelf_id = ?`, ev.ShelfID)
	case events.ShelfDestroyed:
		_, err = tx.Exec(`UPDATE shelves SET destroyed_ms = ? WHERE shelf_id = ?`, ms, ev.ShelfID)
	}
	if err != nil {
		return fmt.Errorf("update shelf %s: %w", ev.ShelfID, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	j.written.Add(1)
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Counters reports events written and dropped.
func (j *Journal) Counters() (written, dropped uint64) {
	return j.written.Load(), j.dropped.Load()
}

// Close stops the writer, waits for it to flush, and closes the database.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() { close(j.closed) })
	if j.running.Load() {
		<-j.done
	}
	return j.DB.Close()
}

// Entry is a stored event.
type Entry struct {
	ID    int64        `json:"id"`
	Event events.Event `json:"event"`
}

// Recent returns up to limit events, newest first. An empty kind matches all.
func (j *Journal) Recent(limit int, kind events.Kind) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT event_id, payload FROM events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY event_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
		)
		if err := rows.Scan(&e.ID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Event); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ShelfRecord is the lifetime summary of one shelf.
type ShelfRecord struct {
	ShelfID      string     `json:"shelf_id"`
	SessionID    string     `json:"session_id,omitempty"`
	Created      time.Time  `json:"created"`
	Destroyed    *time.Time `json:"destroyed,omitempty"`
	AutoHidden   bool       `json:"auto_hidden"`
	ItemsAdded   int        `json:"items_added"`
	ItemsRemoved int        `json:"items_removed"`
}

// Lifetime is how long the shelf existed, or zero while it is live.
func (r ShelfRecord) Lifetime() time.Duration {
	if r.Destroyed == nil {
		return 0
	}
	return r.Destroyed.Sub(r.Created)
}

// ErrShelfUnknown is returned when no history exists for a shelf.
var ErrShelfUnknown = errors.New("no history for shelf")

// Shelves returns up to limit shelf records, newest first.
func (j *Journal) Shelves(limit int) ([]ShelfRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.Query(`
		SELECT shelf_id, session_id, created_ms, destroyed_ms, auto_hidden, items_added, items_removed
		FROM shelves ORDER BY created_ms DESC, shelf_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ShelfRecord
	for rows.Next() {
		r, err := scanShelf(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Shelf returns the record for one shelf.
func (j *Journal) Shelf(id string) (ShelfRecord, error) {
	row := j.QueryRow(`
		SELECT shelf_id, session_id, created_ms, destroyed_ms, auto_hidden, items_added, items_removed
		FROM shelves WHERE shelf_id = ?`, id)
	r, err := scanShelf(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ShelfRecord{}, fmt.Errorf("%w: %s", ErrShelfUnknown, id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShelf(s scanner) (ShelfRecord, error) {
	var (
		r         ShelfRecord
		session   sql.NullString
		created   int64
		destroyed sql.NullInt64
		hidden    int
	)
	if err := s.Scan(&r.ShelfID, &session, &created, &destroyed, &hidden, &r.ItemsAdded, &r.ItemsRemoved); err != nil {
		return ShelfRecord{}, err
	}
	r.SessionID = session.String
	r.Created = time.UnixMilli(created).UTC()
	if destroyed.Valid {
		t := time.UnixMilli(destroyed.Int64).UTC()
		r.Destroyed = &t
	}
	r.AutoHidden = hidden != 0
	return r, nil
}

// CountByKind returns how many events of each kind are stored.
func (j *Journal) CountByKind() (map[events.Kind]int, error) {
	rows, err := j.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[events.Kind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[events.Kind(kind)] = n
	}
	return out, rows.Err()
}

// Prune deletes events older than before and returns how many were removed.
func (j *Journal) Prune(before time.Time) (int64, error) {
	res, err := j.Exec(`DELETE FROM events WHERE time_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
