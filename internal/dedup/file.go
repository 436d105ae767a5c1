package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"carrierwatch/pkg/logx"
)

// fileStore keeps the whole record as one JSON object on disk.
// Writes go through a temp file + rename so a crash mid-write can never
// leave a half-written state behind.
type fileStore struct {
	path string
	log  logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("dedup store path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{path: path, log: log}, nil
}

func (s *fileStore) Load(ctx context.Context) (Record, error) {
	_ = ctx
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("dedup state unreadable; starting empty", logx.Err(err), logx.String("path", s.path))
		}
		return Record{}, nil
	}
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		s.log.Warn("dedup state corrupted; starting empty", logx.Err(err), logx.String("path", s.path))
		return Record{}, nil
	}
	if m == nil {
		return Record{}, nil
	}
	return Record(m), nil
}

func (s *fileStore) Save(ctx context.Context, r Record) error {
	_ = ctx
	b, err := json.Marshal(map[string]int64(r))
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error { return nil }
