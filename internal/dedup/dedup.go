// Package dedup persists the set of already-notified message ids.
//
// A Record maps message id -> last-notified unix milliseconds. The record
// is read once at run start and written at most once at run end, after a
// successful delivery; a crash before the write simply re-collects the
// same messages on the next run (at-least-once semantics).
package dedup

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"carrierwatch/pkg/logx"
)

// Record is the in-memory dedup state for one run.
type Record map[string]int64

// Contains reports whether id was already notified.
func (r Record) Contains(id string) bool {
	_, ok := r[id]
	return ok
}

// Commit merges ids into the record at the given timestamp. Existing
// entries are overwritten; nothing is removed here except via EvictOldest.
func (r Record) Commit(ids []string, at time.Time) {
	ms := at.UnixMilli()
	for _, id := range ids {
		if id == "" {
			continue
		}
		r[id] = ms
	}
}

// EvictOldest removes the oldest entries (by timestamp, ties broken by id
// so eviction is deterministic) until the record holds at most max
// entries. max <= 0 disables the bound.
func (r Record) EvictOldest(max int) {
	if max <= 0 || len(r) <= max {
		return
	}
	type entry struct {
		id string
		at int64
	}
	entries := make([]entry, 0, len(r))
	for id, at := range r {
		entries = append(entries, entry{id: id, at: at})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].at != entries[j].at {
			return entries[i].at < entries[j].at
		}
		return entries[i].id < entries[j].id
	})
	for _, e := range entries[:len(r)-max] {
		delete(r, e.id)
	}
}

// Store is the persistence API for the notified-id record.
//
// Load never fails on missing or corrupted state: it returns an empty
// record so a damaged file costs at most one round of re-notification.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, r Record) error
	Close() error
}

// Config configures the dedup store.
//
// Driver values:
//   - "file" (default): single JSON object on disk, atomic rename writes
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown dedup store driver: " + driver)
	}
}
