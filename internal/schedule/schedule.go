// Package schedule triggers the run pipeline on a fixed interval.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"carrierwatch/pkg/logx"
)

// Service is a thin cron wrapper. Registration is idempotent by name so
// repeated setup calls (restarts, config republish) never stack
// duplicate triggers.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	c       *cron.Cron
	entries map[string]cron.EntryID

	ctx     context.Context
	started bool
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		c:       cron.New(),
		entries: map[string]cron.EntryID{},
	}
}

// Register adds a fixed-interval job under a stable name. Registering a
// name that already exists is a no-op.
func (s *Service) Register(name string, every time.Duration, job func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		s.log.Debug("trigger already registered", logx.String("name", name))
		return nil
	}

	spec := fmt.Sprintf("@every %s", every.String())
	id, err := s.c.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		job(ctx)
	})
	if err != nil {
		return fmt.Errorf("register trigger %s: %w", name, err)
	}
	s.entries[name] = id
	s.log.Info("trigger registered", logx.String("name", name), logx.Duration("every", every))
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx = ctx
	s.started = true
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("triggers", len(s.entries)))
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	<-s.c.Stop().Done()
	s.log.Info("scheduler stopped")
}
