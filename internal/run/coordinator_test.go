package run

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"carrierwatch/internal/classify"
	"carrierwatch/internal/collect"
	"carrierwatch/internal/dedup"
	"carrierwatch/internal/directory"
	"carrierwatch/pkg/logx"
)

// fakeStore keeps the record in memory and counts saves.
type fakeStore struct {
	rec     dedup.Record
	saves   int
	saveErr error
}

func (s *fakeStore) Load(context.Context) (dedup.Record, error) {
	cp := dedup.Record{}
	for k, v := range s.rec {
		cp[k] = v
	}
	return cp, nil
}

func (s *fakeStore) Save(_ context.Context, r dedup.Record) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.rec = r
	return nil
}

func (s *fakeStore) Close() error { return nil }

// fakeCollector serves canned records, honoring the notified filter the
// way the real collector does.
type fakeCollector struct {
	records []collect.Record
	err     error
}

func (c *fakeCollector) Collect(_ context.Context, notified dedup.Record) ([]collect.Record, error) {
	if c.err != nil {
		return nil, c.err
	}
	var out []collect.Record
	for _, r := range c.records {
		if !notified.Contains(r.ID) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeOrders struct {
	owners map[string][]string
	err    error
	calls  int
}

func (o *fakeOrders) OwnersByTracking(context.Context, []string) (map[string][]string, error) {
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	return o.owners, nil
}

type fakeNotifier struct {
	sendErr   error
	payloads  []string
	taskCount int
	assignees []string
}

func (n *fakeNotifier) SendBatch(_ context.Context, payload string) error {
	if n.sendErr != nil {
		return n.sendErr
	}
	n.payloads = append(n.payloads, payload)
	return nil
}

func (n *fakeNotifier) CreateFollowUpTasks(_ context.Context, records []collect.Record, assignee string) int {
	n.assignees = append(n.assignees, assignee)
	if assignee == "" {
		return 0
	}
	created := 0
	for _, r := range records {
		if r.Bucket == classify.BucketInvoiceConfirmed {
			created++
		}
	}
	n.taskCount += created
	return created
}

func threeRecords() []collect.Record {
	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	return []collect.Record{
		{ID: "m1", Carrier: classify.CarrierFedEx, Bucket: classify.BucketPaymentFailed,
			Title: "【支払い失敗】要対応", Subject: "s1", Date: at},
		{ID: "m2", Carrier: classify.CarrierDHL, Bucket: classify.BucketInvoiceConfirmed,
			Title: "【請求確定】CSV取込", Subject: "s2", Date: at},
		{ID: "m3", Carrier: classify.CarrierOther, Bucket: classify.BucketOther,
			Title: "【その他】確認のみ", Subject: "s3", Date: at},
	}
}

func newCoordinator(store *fakeStore, col Collector, orders OrderLookup, n Deliverer, dir directory.Directory) *Coordinator {
	return New(Config{LockWait: 10 * time.Millisecond}, Deps{
		Store:     store,
		Collector: col,
		Orders:    orders,
		Notifier:  n,
		Directory: dir,
	}, logx.Nop())
}

func TestRunEndToEnd(t *testing.T) {
	store := &fakeStore{rec: dedup.Record{}}
	notifier := &fakeNotifier{}
	c := newCoordinator(store, &fakeCollector{records: threeRecords()},
		&fakeOrders{}, notifier, directory.Static{"請求確定": "1001"})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.State() != StateDone {
		t.Fatalf("state = %v, want done", c.State())
	}

	if len(notifier.payloads) != 1 {
		t.Fatalf("payloads = %d, want exactly one composite message", len(notifier.payloads))
	}
	payload := notifier.payloads[0]
	if !strings.Contains(payload, "3件") {
		t.Fatalf("header missing count:\n%s", payload)
	}
	for _, ord := range []string{"#1 ", "#2 ", "#3 "} {
		if !strings.Contains(payload, ord) {
			t.Fatalf("payload missing block %q:\n%s", ord, payload)
		}
	}

	if notifier.taskCount != 1 {
		t.Fatalf("tasks = %d, want 1 (invoice_confirmed only)", notifier.taskCount)
	}
	if store.saves != 1 || len(store.rec) != 3 {
		t.Fatalf("saves = %d, entries = %d; want 1 save with 3 entries", store.saves, len(store.rec))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	store := &fakeStore{rec: dedup.Record{}}
	notifier := &fakeNotifier{}
	c := newCoordinator(store, &fakeCollector{records: threeRecords()},
		&fakeOrders{}, notifier, directory.Static{})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(notifier.payloads) != 1 {
		t.Fatalf("payloads = %d, want 1 (second run must notify nothing)", len(notifier.payloads))
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1 (empty second run does not commit)", store.saves)
	}
	if c.State() != StateDone {
		t.Fatalf("state = %v, want done on empty second run", c.State())
	}
}

func TestRunDeliveryFailureLeavesStateUncommitted(t *testing.T) {
	store := &fakeStore{rec: dedup.Record{}}
	notifier := &fakeNotifier{sendErr: errors.New("chat down")}
	c := newCoordinator(store, &fakeCollector{records: threeRecords()},
		&fakeOrders{}, notifier, directory.Static{})

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected delivery error")
	}
	if c.State() != StateAborted {
		t.Fatalf("state = %v, want aborted", c.State())
	}
	if store.saves != 0 {
		t.Fatalf("saves = %d, want 0 after failed delivery", store.saves)
	}

	// At-least-once: the next run retries the same messages.
	notifier.sendErr = nil
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if len(notifier.payloads) != 1 || store.saves != 1 {
		t.Fatalf("retry did not re-deliver: payloads=%d saves=%d", len(notifier.payloads), store.saves)
	}
}

func TestRunLockBusyIsNormalOutcome(t *testing.T) {
	store := &fakeStore{rec: dedup.Record{}}
	notifier := &fakeNotifier{}
	c := newCoordinator(store, &fakeCollector{records: threeRecords()},
		&fakeOrders{}, notifier, directory.Static{})

	// Hold the lock from "another run".
	if !c.d.Lock.TryAcquire(context.Background(), time.Millisecond) {
		t.Fatal("setup: could not take lock")
	}
	defer c.d.Lock.Release()

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("lock-busy run must return nil, got %v", err)
	}
	if len(notifier.payloads) != 0 || store.saves != 0 {
		t.Fatal("lock-busy run produced side effects")
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %v, want idle", c.State())
	}
}

func TestRunLockReleasedAfterAbort(t *testing.T) {
	store := &fakeStore{rec: dedup.Record{}}
	c := newCoordinator(store, &fakeCollector{err: errors.New("imap down")},
		&fakeOrders{}, &fakeNotifier{}, directory.Static{})

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected collect error")
	}
	if !c.d.Lock.TryAcquire(context.Background(), time.Millisecond) {
		t.Fatal("lock not released after aborted run")
	}
	c.d.Lock.Release()
}

func TestRunEmptyBatchShortCircuits(t *testing.T) {
	store := &fakeStore{rec: dedup.Record{}}
	notifier := &fakeNotifier{}
	orders := &fakeOrders{}
	c := newCoordinator(store, &fakeCollector{}, orders, notifier, directory.Static{})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.State() != StateDone {
		t.Fatalf("state = %v, want done", c.State())
	}
	if len(notifier.payloads) != 0 || orders.calls != 0 || store.saves != 0 {
		t.Fatal("empty batch must not touch collaborators")
	}
}

func TestRunOrderLookupFailureDegrades(t *testing.T) {
	store := &fakeStore{rec: dedup.Record{}}
	notifier := &fakeNotifier{}
	c := newCoordinator(store, &fakeCollector{records: threeRecords()},
		&fakeOrders{err: errors.New("supabase down")}, notifier, directory.Static{})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run must degrade on lookup failure, got %v", err)
	}
	if len(notifier.payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(notifier.payloads))
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}
}

func TestRunCommitFailureAborts(t *testing.T) {
	store := &fakeStore{rec: dedup.Record{}, saveErr: errors.New("disk full")}
	notifier := &fakeNotifier{}
	c := newCoordinator(store, &fakeCollector{records: threeRecords()},
		&fakeOrders{}, notifier, directory.Static{})

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected commit error")
	}
	if c.State() != StateAborted {
		t.Fatalf("state = %v, want aborted", c.State())
	}
	// Delivery already happened; at-least-once accepts the duplicate.
	if len(notifier.payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(notifier.payloads))
	}
}

func TestRunEvictionBoundApplied(t *testing.T) {
	store := &fakeStore{rec: dedup.Record{"old-a": 1, "old-b": 2}}
	notifier := &fakeNotifier{}
	c := New(Config{LockWait: 10 * time.Millisecond, DedupMaxEntries: 3}, Deps{
		Store:     store,
		Collector: &fakeCollector{records: threeRecords()},
		Orders:    &fakeOrders{},
		Notifier:  notifier,
		Directory: directory.Static{},
	}, logx.Nop())

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.rec) != 3 {
		t.Fatalf("entries = %d, want bound of 3", len(store.rec))
	}
	// The oldest pre-existing entries were evicted, the fresh ones kept.
	for _, id := range []string{"m1", "m2", "m3"} {
		if !store.rec.Contains(id) {
			t.Fatalf("fresh entry %s evicted: %v", id, store.rec)
		}
	}
}

func TestLockBoundedWait(t *testing.T) {
	l := NewLock()
	if !l.TryAcquire(context.Background(), time.Millisecond) {
		t.Fatal("fresh lock must acquire")
	}

	start := time.Now()
	if l.TryAcquire(context.Background(), 20*time.Millisecond) {
		t.Fatal("second acquire must fail while held")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("returned after %v, want a bounded wait near 20ms", elapsed)
	}

	l.Release()
	if !l.TryAcquire(context.Background(), time.Millisecond) {
		t.Fatal("released lock must acquire")
	}
	l.Release()

	// Double release stays harmless.
	l.Release()
}
