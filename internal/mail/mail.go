// Package mail defines the inbox collaborator the collector reads from,
// plus an IMAP implementation.
package mail

import (
	"context"
	"time"
)

// Query is the fixed search the collector runs each pass: mail from an
// allowlisted sender domain, newer than the lookback window.
type Query struct {
	FromDomains []string
	Since       time.Time
	Limit       int // max threads returned; 0 means source default
}

// Message is one inbox message. PlainBody may hit the source again and
// is allowed to fail independently of the envelope data.
type Message interface {
	ID() string
	From() string
	Subject() string
	Date() time.Time
	PlainBody() (string, error)
}

// Thread is an ordered group of related messages, oldest first (the
// source's native order; callers walk it backwards for newest-first).
type Thread interface {
	Messages() []Message
}

// Source searches the inbox. Implementations define the iteration order
// of the returned threads; the collector preserves it as-is.
type Source interface {
	Search(ctx context.Context, q Query) ([]Thread, error)
}
