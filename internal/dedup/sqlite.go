package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"carrierwatch/pkg/logx"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS notified (
			id TEXT PRIMARY KEY,
			at INTEGER NOT NULL
		)`)
	return err
}

func (s *sqliteStore) Load(ctx context.Context) (Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, at FROM notified`)
	if err != nil {
		s.log.Warn("dedup state unreadable; starting empty", logx.Err(err))
		return Record{}, nil
	}
	defer rows.Close()

	r := Record{}
	for rows.Next() {
		var id string
		var at int64
		if err := rows.Scan(&id, &at); err != nil {
			s.log.Warn("dedup row unreadable; starting empty", logx.Err(err))
			return Record{}, nil
		}
		r[id] = at
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("dedup scan failed; starting empty", logx.Err(err))
		return Record{}, nil
	}
	return r, nil
}

// Save replaces the whole table with the given record. The record is the
// post-eviction truth, so a full rewrite keeps file and sqlite drivers
// behaviorally identical.
func (s *sqliteStore) Save(ctx context.Context, r Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notified`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO notified(id, at) VALUES(?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for id, at := range r {
		if _, err := stmt.ExecContext(ctx, id, at); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
