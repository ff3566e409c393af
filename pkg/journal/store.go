package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// Record is a raw key/value pair held by a Store.
type Record struct {
	Key   []byte
	Value []byte
}

// Store is an ordered byte key/value store.
type Store interface {
	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key, value []byte) error

	// Scan iterates over records whose key has prefix, starting at the
	// first key >= from (nil starts at prefix), in ascending key order.
	Scan(ctx context.Context, prefix, from []byte) iter.Seq2[Record, error]

	// Delete removes keys in one batch. Missing keys are ignored.
	Delete(ctx context.Context, keys [][]byte) error

	// Close releases resources held by the store.
	Close() error
}

// Badger is a Store backed by BadgerDB v4.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the Badger store.
type BadgerOptions struct {
	// Dir holds the data files. Required unless InMemory is set.
	Dir string

	// InMemory keeps everything in memory (no persistence).
	InMemory bool

	// Logger receives badger warnings and errors. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewBadger opens a Badger store.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("journal: BadgerOptions.Dir is required for on-disk mode")
	}
	dir := opts.Dir
	if opts.InMemory {
		dir = ""
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts := badger.DefaultOptions(dir).
		WithInMemory(opts.InMemory).
		WithLogger(badgerLogger{logger.With("component", "badger")})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("journal: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Put(_ context.Context, key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *Badger) Scan(ctx context.Context, prefix, from []byte) iter.Seq2[Record, error] {
	start := prefix
	if bytes.Compare(from, prefix) > 0 {
		start = from
	}
	return func(yield func(Record, error) bool) {
		err := b.db.View(func(txn *badger.Txn) error {
			itOpts := badger.DefaultIteratorOptions
			itOpts.Prefix = prefix
			it := txn.NewIterator(itOpts)
			defer it.Close()

			for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				item := it.Item()
				val, err := item.ValueCopy(nil)
				if err != nil {
					if !yield(Record{}, err) {
						return nil
					}
					continue
				}
				if !yield(Record{Key: item.KeyCopy(nil), Value: val}, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(Record{}, err)
		}
	}
}

func (b *Badger) Delete(_ context.Context, keys [][]byte) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger forwards badger warnings and errors to slog and drops the
// chatty info and debug output.
type badgerLogger struct {
	l *slog.Logger
}

func (g badgerLogger) Errorf(f string, v ...interface{}) {
	g.l.Error(fmt.Sprintf(f, v...))
}

func (g badgerLogger) Warningf(f string, v ...interface{}) {
	g.l.Warn(fmt.Sprintf(f, v...))
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}

// Memory is an in-memory Store for tests and bench runs.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.data[string(key)] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Scan(ctx context.Context, prefix, from []byte) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		m.mu.RLock()
		keys := make([]string, 0, len(m.data))
		for k := range m.data {
			if bytes.HasPrefix([]byte(k), prefix) && (from == nil || k >= string(from)) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		records := make([]Record, len(keys))
		for i, k := range keys {
			v := m.data[k]
			cp := make([]byte, len(v))
			copy(cp, v)
			records[i] = Record{Key: []byte(k), Value: cp}
		}
		m.mu.RUnlock()

		for _, r := range records {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (m *Memory) Delete(_ context.Context, keys [][]byte) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, string(k))
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	return nil
}
