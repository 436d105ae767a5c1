package mail

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"

	"carrierwatch/pkg/logx"
)

func TestNewIMAPSourceDefaults(t *testing.T) {
	s, err := NewIMAPSource(IMAPConfig{Addr: "imap.example.com:993"}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.cfg.Mailbox != "INBOX" {
		t.Fatalf("mailbox = %q", s.cfg.Mailbox)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close without connection: %v", err)
	}

	if _, err := NewIMAPSource(IMAPConfig{}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing addr")
	}
}

func TestBuildCriteriaSingleDomain(t *testing.T) {
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	c := buildCriteria(Query{FromDomains: []string{"fedex.com"}, Since: since})
	if !c.Since.Equal(since) {
		t.Fatalf("since = %v", c.Since)
	}
	if len(c.Or) != 0 {
		t.Fatalf("single domain should not produce OR, got %d", len(c.Or))
	}
	if got := c.Header.Get("From"); got != "fedex.com" {
		t.Fatalf("from header = %q", got)
	}
}

func TestBuildCriteriaMultipleDomains(t *testing.T) {
	c := buildCriteria(Query{FromDomains: []string{"fedex.com", "dhl.com", "dhl.de"}})
	if len(c.Or) != 1 {
		t.Fatalf("or chain = %d", len(c.Or))
	}
	// Walk the OR chain and collect every FROM leaf.
	var froms []string
	var walk func(sc *imap.SearchCriteria)
	walk = func(sc *imap.SearchCriteria) {
		if v := sc.Header.Get("From"); v != "" {
			froms = append(froms, v)
		}
		for _, pair := range sc.Or {
			walk(pair[0])
			walk(pair[1])
		}
	}
	walk(c)
	if len(froms) != 3 {
		t.Fatalf("froms = %v", froms)
	}
	seen := map[string]bool{}
	for _, f := range froms {
		seen[f] = true
	}
	for _, want := range []string{"fedex.com", "dhl.com", "dhl.de"} {
		if !seen[want] {
			t.Fatalf("missing %s in %v", want, froms)
		}
	}
}

func TestBuildCriteriaEmpty(t *testing.T) {
	c := buildCriteria(Query{})
	if len(c.Or) != 0 || c.Header.Get("From") != "" {
		t.Fatal("empty query should produce bare criteria")
	}
}

func TestIMAPMessageID(t *testing.T) {
	m := &imapMessage{uid: 42, env: &imap.Envelope{MessageId: "<abc@mail.example.com>"}}
	if got := m.ID(); got != "abc@mail.example.com" {
		t.Fatalf("id = %q", got)
	}
	m = &imapMessage{uid: 42, env: &imap.Envelope{}}
	if got := m.ID(); got != "uid:42" {
		t.Fatalf("fallback id = %q", got)
	}
}

func TestIMAPMessageFrom(t *testing.T) {
	m := &imapMessage{env: &imap.Envelope{From: []*imap.Address{{
		PersonalName: "FedEx Billing",
		MailboxName:  "billing",
		HostName:     "fedex.com",
	}}}}
	if got := m.From(); got != "FedEx Billing <billing@fedex.com>" {
		t.Fatalf("from = %q", got)
	}
	m = &imapMessage{env: &imap.Envelope{}}
	if got := m.From(); got != "" {
		t.Fatalf("empty from = %q", got)
	}
}
