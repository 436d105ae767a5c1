package schedule

import (
	"context"
	"testing"
	"time"

	"carrierwatch/pkg/logx"
)

func TestRegisterIsIdempotent(t *testing.T) {
	s := New(logx.Nop())
	job := func(context.Context) {}

	if err := s.Register("poll", 5*time.Minute, job); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("poll", 5*time.Minute, job); err != nil {
		t.Fatalf("repeated Register: %v", err)
	}
	if len(s.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(s.entries))
	}

	if err := s.Register("other", time.Minute, job); err != nil {
		t.Fatalf("Register other: %v", err)
	}
	if len(s.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(s.entries))
	}
}

func TestStartStop(t *testing.T) {
	s := New(logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx) // second start is a no-op
	s.Stop()
	s.Stop() // second stop is a no-op
}
