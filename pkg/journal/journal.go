// Package journal keeps a persistent, time-ordered log of confirmed
// detections.
//
// Events are encoded with msgpack and stored under keys of the form
//
//	event:<unix nanos, zero padded>:<sequence>
//
// so that a prefix scan returns them in chronological order. The default
// store is BadgerDB; Memory serves tests and throwaway runs.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

var keyPrefix = []byte("event:")

// Event is one confirmed detection.
type Event struct {
	ID          uuid.UUID `msgpack:"id" json:"id" yaml:"id"`
	Time        time.Time `msgpack:"time" json:"time" yaml:"time"`
	Class       string    `msgpack:"class" json:"class" yaml:"class"`
	Probability float32   `msgpack:"prob" json:"probability" yaml:"probability"`
	Command     string    `msgpack:"cmd" json:"command" yaml:"command"`
	Dispatched  bool      `msgpack:"sent" json:"dispatched" yaml:"dispatched"`
}

// Journal appends and lists events.
type Journal struct {
	store Store
	seq   atomic.Uint32
	now   func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// New creates a Journal over store. The Journal owns the store and closes
// it on Close.
func New(store Store, opts ...Option) (*Journal, error) {
	if store == nil {
		return nil, errors.New("journal: nil store")
	}
	j := &Journal{store: store, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

func eventKey(t time.Time, seq uint32) []byte {
	return fmt.Appendf(nil, "%s%020d:%010d", keyPrefix, t.UnixNano(), seq)
}

// Append assigns an ID and, if unset, a timestamp, stores ev and returns
// the stored event.
func (j *Journal) Append(ctx context.Context, ev Event) (Event, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Time.IsZero() {
		ev.Time = j.now()
	}
	ev.Time = ev.Time.UTC()
	data, err := msgpack.Marshal(&ev)
	if err != nil {
		return Event{}, fmt.Errorf("journal: encode: %w", err)
	}
	if err := j.store.Put(ctx, eventKey(ev.Time, j.seq.Add(1)), data); err != nil {
		return Event{}, fmt.Errorf("journal: put: %w", err)
	}
	return ev, nil
}

// ListOptions filters List results.
type ListOptions struct {
	// Since skips events before this time.
	Since time.Time

	// Limit caps the number of events returned, keeping the newest.
	// Zero means no limit.
	Limit int
}

// List returns events in chronological order.
func (j *Journal) List(ctx context.Context, opts ListOptions) ([]Event, error) {
	var from []byte
	if !opts.Since.IsZero() {
		from = eventKey(opts.Since, 0)
	}
	var events []Event
	for rec, err := range j.store.Scan(ctx, keyPrefix, from) {
		if err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		var ev Event
		if err := msgpack.Unmarshal(rec.Value, &ev); err != nil {
			return nil, fmt.Errorf("journal: decode %s: %w", rec.Key, err)
		}
		ev.Time = ev.Time.UTC()
		events = append(events, ev)
		if opts.Limit > 0 && len(events) > opts.Limit {
			events = events[1:]
		}
	}
	return events, nil
}

// Prune deletes events older than before and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int, error) {
	limit := eventKey(before, 0)
	var keys [][]byte
	for rec, err := range j.store.Scan(ctx, keyPrefix, nil) {
		if err != nil {
			return 0, fmt.Errorf("journal: scan: %w", err)
		}
		if string(rec.Key) >= string(limit) {
			break
		}
		keys = append(keys, rec.Key)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := j.store.Delete(ctx, keys); err != nil {
		return 0, fmt.Errorf("journal: delete: %w", err)
	}
	return len(keys), nil
}

// Close closes the underlying store.
func (j *Journal) Close() error {
	return j.store.Close()
}
