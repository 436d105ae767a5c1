package collect

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"carrierwatch/internal/classify"
	"carrierwatch/internal/dedup"
	"carrierwatch/internal/mail"
	"carrierwatch/pkg/logx"
)

type fakeMessage struct {
	id      string
	from    string
	subject string
	date    time.Time
	body    string
	bodyErr error
}

func (m fakeMessage) ID() string      { return m.id }
func (m fakeMessage) From() string    { return m.from }
func (m fakeMessage) Subject() string { return m.subject }
func (m fakeMessage) Date() time.Time { return m.date }
func (m fakeMessage) PlainBody() (string, error) {
	return m.body, m.bodyErr
}

type fakeThread struct{ msgs []mail.Message }

func (t fakeThread) Messages() []mail.Message { return t.msgs }

type fakeSource struct {
	threads []mail.Thread
	err     error
	gotQ    mail.Query
}

func (s *fakeSource) Search(_ context.Context, q mail.Query) ([]mail.Thread, error) {
	s.gotQ = q
	return s.threads, s.err
}

func testCollector(src mail.Source, now time.Time) *Collector {
	c := New(src, Config{
		FromDomains:       []string{"dhl.com", "fedex.com"},
		PermalinkTemplate: "https://mail.example.com/#all/%s",
	}, logx.Nop())
	c.now = func() time.Time { return now }
	return c
}

func TestCollectBasics(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{threads: []mail.Thread{
		fakeThread{msgs: []mail.Message{
			fakeMessage{id: "old-reply", from: "a@dhl.com", subject: "DHL notice", date: now.Add(-2 * time.Hour)},
			fakeMessage{id: "new-reply", from: "a@dhl.com", subject: "Re: DHL notice", date: now.Add(-1 * time.Hour),
				body: "tracking 1234567890\nthanks"},
		}},
		fakeThread{msgs: []mail.Message{
			fakeMessage{id: "seen", from: "b@fedex.com", subject: "FedEx AWB", date: now.Add(-3 * time.Hour)},
		}},
	}}

	c := testCollector(src, now)
	batch, err := c.Collect(context.Background(), dedup.Record{"seen": 1})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("len = %d, want 2 (already-notified skipped)", len(batch))
	}

	// Within a thread, newest first.
	if batch[0].ID != "new-reply" || batch[1].ID != "old-reply" {
		t.Fatalf("order = %q, %q", batch[0].ID, batch[1].ID)
	}
	if batch[0].Permalink != "https://mail.example.com/#all/new-reply" {
		t.Fatalf("permalink = %q", batch[0].Permalink)
	}
	if len(batch[0].TrackingNumbers) != 1 || batch[0].TrackingNumbers[0] != "1234567890" {
		t.Fatalf("tracking = %v", batch[0].TrackingNumbers)
	}
	if batch[0].Carrier != classify.CarrierDHL {
		t.Fatalf("carrier = %q", batch[0].Carrier)
	}

	// The query carries the configured lookback window.
	wantSince := now.Add(-14 * 24 * time.Hour)
	if !src.gotQ.Since.Equal(wantSince) {
		t.Fatalf("query since = %v, want %v", src.gotQ.Since, wantSince)
	}
	if src.gotQ.Limit != 30 {
		t.Fatalf("query limit = %d, want 30", src.gotQ.Limit)
	}
}

func TestCollectSkipsStaleMessages(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{threads: []mail.Thread{
		fakeThread{msgs: []mail.Message{
			fakeMessage{id: "stale", from: "a@dhl.com", subject: "x", date: now.Add(-15 * 24 * time.Hour)},
			fakeMessage{id: "fresh", from: "a@dhl.com", subject: "x", date: now.Add(-time.Hour)},
		}},
	}}

	batch, err := testCollector(src, now).Collect(context.Background(), dedup.Record{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(batch) != 1 || batch[0].ID != "fresh" {
		t.Fatalf("batch = %+v, want only fresh", batch)
	}
}

func TestCollectCapShortCircuits(t *testing.T) {
	now := time.Now()
	var msgs []mail.Message
	for i := 0; i < 50; i++ {
		msgs = append(msgs, fakeMessage{
			id:   fmt.Sprintf("m%02d", i),
			from: "a@dhl.com", subject: "x", date: now,
		})
	}
	src := &fakeSource{threads: []mail.Thread{fakeThread{msgs: msgs}}}

	batch, err := testCollector(src, now).Collect(context.Background(), dedup.Record{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(batch) != 30 {
		t.Fatalf("len = %d, want cap of 30", len(batch))
	}
}

func TestCollectBodyFailureIsBestEffort(t *testing.T) {
	now := time.Now()
	src := &fakeSource{threads: []mail.Thread{
		fakeThread{msgs: []mail.Message{
			fakeMessage{id: "broken", from: "a@fedex.com", subject: "FedEx 123456789012",
				date: now, bodyErr: errors.New("boom")},
		}},
	}}

	batch, err := testCollector(src, now).Collect(context.Background(), dedup.Record{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("len = %d, want 1 (body failure must not drop the message)", len(batch))
	}
	if batch[0].Snippet != "" {
		t.Fatalf("snippet = %q, want empty", batch[0].Snippet)
	}
	// Subject-only extraction still works.
	if len(batch[0].TrackingNumbers) != 1 {
		t.Fatalf("tracking = %v", batch[0].TrackingNumbers)
	}
}

func TestCollectSearchErrorPropagates(t *testing.T) {
	src := &fakeSource{err: errors.New("imap down")}
	if _, err := testCollector(src, time.Now()).Collect(context.Background(), dedup.Record{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSnippetNormalization(t *testing.T) {
	c := testCollector(&fakeSource{}, time.Now())

	got := c.snippet("  line one\r\n\tline\ttwo   ")
	if got != "line one line two" {
		t.Fatalf("snippet = %q", got)
	}

	// Rune cap, not byte cap.
	long := ""
	for i := 0; i < 200; i++ {
		long += "あ"
	}
	got = c.snippet(long)
	if n := len([]rune(got)); n != 160 {
		t.Fatalf("snippet runes = %d, want 160", n)
	}
}
