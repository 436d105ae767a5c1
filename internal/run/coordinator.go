// Package run orchestrates one collect→notify pass.
//
// A run moves through Idle → LockAcquiring → Collecting → Enriching →
// Formatting → Delivering → Committing → Done, aborting on unrecoverable
// error. The dedup record is committed strictly after a successful
// delivery, so a failed or crashed run re-collects the same messages on
// the next pass (at-least-once delivery).
package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"carrierwatch/internal/collect"
	"carrierwatch/internal/dedup"
	"carrierwatch/internal/directory"
	"carrierwatch/internal/format"
	"carrierwatch/pkg/logx"
)

type State int

const (
	StateIdle State = iota
	StateLockAcquiring
	StateCollecting
	StateEnriching
	StateFormatting
	StateDelivering
	StateCommitting
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLockAcquiring:
		return "lock_acquiring"
	case StateCollecting:
		return "collecting"
	case StateEnriching:
		return "enriching"
	case StateFormatting:
		return "formatting"
	case StateDelivering:
		return "delivering"
	case StateCommitting:
		return "committing"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Collector gathers the per-run batch.
type Collector interface {
	Collect(ctx context.Context, notified dedup.Record) ([]collect.Record, error)
}

// OrderLookup enriches tracking numbers with owner account ids.
type OrderLookup interface {
	OwnersByTracking(ctx context.Context, trackingNumbers []string) (map[string][]string, error)
}

// Deliverer posts the composite message and raises follow-up tasks.
type Deliverer interface {
	SendBatch(ctx context.Context, payload string) error
	CreateFollowUpTasks(ctx context.Context, records []collect.Record, assignee string) int
}

type Config struct {
	LockWait             time.Duration // bounded lock acquisition wait, default 25s
	DedupMaxEntries      int           // dedup record size bound, default 4000
	RoleInvoiceConfirmed string        // directory role for follow-up tasks
}

type Deps struct {
	Lock      *Lock
	Store     dedup.Store
	Collector Collector
	Orders    OrderLookup
	Notifier  Deliverer
	Directory directory.Directory
}

type Coordinator struct {
	cfg Config
	d   Deps
	log logx.Logger
	now func() time.Time

	mu    sync.Mutex
	state State
}

func New(cfg Config, d Deps, log logx.Logger) *Coordinator {
	if cfg.LockWait <= 0 {
		cfg.LockWait = 25 * time.Second
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 4000
	}
	if cfg.RoleInvoiceConfirmed == "" {
		cfg.RoleInvoiceConfirmed = "請求確定"
	}
	if d.Lock == nil {
		d.Lock = NewLock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{cfg: cfg, d: d, log: log, now: time.Now}
}

// State returns the state the last run reached.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run executes one full pass. A busy lock is a normal outcome, not an
// error: the overlapping run already covers the work.
func (c *Coordinator) Run(ctx context.Context) error {
	log := c.log.With(logx.String("run_id", uuid.NewString()))
	started := c.now()

	c.setState(StateLockAcquiring)
	if !c.d.Lock.TryAcquire(ctx, c.cfg.LockWait) {
		log.Debug("another run holds the lock; skipping")
		c.setState(StateIdle)
		return nil
	}
	defer c.d.Lock.Release()

	notified, err := c.d.Store.Load(ctx)
	if err != nil {
		// Load is tolerant by contract; treat a driver surprise the same way.
		log.Warn("dedup load failed; starting empty", logx.Err(err))
		notified = dedup.Record{}
	}

	c.setState(StateCollecting)
	batch, err := c.d.Collector.Collect(ctx, notified)
	if err != nil {
		c.setState(StateAborted)
		return fmt.Errorf("collect: %w", err)
	}
	if len(batch) == 0 {
		log.Debug("no new messages")
		c.setState(StateDone)
		return nil
	}
	log.Info("collected batch", logx.Int("count", len(batch)))

	c.setState(StateEnriching)
	owners := map[string][]string{}
	if c.d.Orders != nil {
		owners, err = c.d.Orders.OwnersByTracking(ctx, allTrackingNumbers(batch))
		if err != nil {
			// Enrichment is not the critical path; deliver without it.
			log.Warn("order lookup failed; notifying without account info", logx.Err(err))
			owners = map[string][]string{}
		}
	}

	c.setState(StateFormatting)
	payload := format.Batch(batch, owners)

	c.setState(StateDelivering)
	if err := c.d.Notifier.SendBatch(ctx, payload); err != nil {
		c.setState(StateAborted)
		return fmt.Errorf("deliver: %w", err)
	}

	// Follow-up tasks ride on a delivered batch and never undo it.
	var assignee string
	if c.d.Directory != nil {
		assignee = c.d.Directory.AssigneeByRole(c.cfg.RoleInvoiceConfirmed)
	}
	if created := c.d.Notifier.CreateFollowUpTasks(ctx, batch, assignee); created > 0 {
		log.Info("follow-up tasks created", logx.Int("count", created))
	}

	c.setState(StateCommitting)
	ids := make([]string, 0, len(batch))
	for _, rec := range batch {
		ids = append(ids, rec.ID)
	}
	notified.Commit(ids, c.now())
	notified.EvictOldest(c.cfg.DedupMaxEntries)
	if err := c.d.Store.Save(ctx, notified); err != nil {
		c.setState(StateAborted)
		return fmt.Errorf("commit dedup state: %w", err)
	}

	c.setState(StateDone)
	log.Info("run complete",
		logx.Int("notified", len(batch)),
		logx.Duration("took", c.now().Sub(started)))
	return nil
}

func allTrackingNumbers(batch []collect.Record) []string {
	var out []string
	for _, rec := range batch {
		out = append(out, rec.TrackingNumbers...)
	}
	return out
}
