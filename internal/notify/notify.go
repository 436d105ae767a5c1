// Package notify delivers the composite batch message with rate-limit
// aware retry, and raises best-effort follow-up tasks.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carrierwatch/internal/chat"
	"carrierwatch/internal/classify"
	"carrierwatch/internal/collect"
	"carrierwatch/pkg/logx"
)

// API is the slice of the chat service the notifier uses.
type API interface {
	PostMessage(ctx context.Context, roomID, body string) error
	CreateTask(ctx context.Context, roomID, body, toIDs string, due time.Time) error
}

type Config struct {
	RoomID    string
	RetryMax  int           // retries on rate limit, default 5
	RetryBase time.Duration // first backoff wait, default 1500ms
	TaskDue   time.Duration // follow-up task deadline, default 72h
}

type Notifier struct {
	api API
	cfg Config
	log logx.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(api API, cfg Config, log logx.Logger) *Notifier {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 1500 * time.Millisecond
	}
	if cfg.TaskDue <= 0 {
		cfg.TaskDue = 72 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{api: api, cfg: cfg, log: log, sleep: sleepCtx}
}

// SendBatch posts the payload, retrying with exponential backoff (base
// wait doubling each attempt) strictly on rate-limit responses. Any
// other failure, and rate-limit exhaustion, are terminal.
func (n *Notifier) SendBatch(ctx context.Context, payload string) error {
	wait := n.cfg.RetryBase
	for attempt := 0; ; attempt++ {
		err := n.api.PostMessage(ctx, n.cfg.RoomID, payload)
		if err == nil {
			return nil
		}
		if !chat.IsRateLimited(err) || attempt >= n.cfg.RetryMax {
			return fmt.Errorf("send batch: %w", err)
		}

		n.log.Warn("chat rate limited; backing off",
			logx.Int("attempt", attempt+1),
			logx.Duration("wait", wait))
		if serr := n.sleep(ctx, wait); serr != nil {
			return serr
		}
		wait *= 2
	}
}

// CreateFollowUpTasks raises one task per invoice-confirmed record,
// assigned to assignee. Task creation is fire-and-forget: a failure is
// logged and never unwinds the already-delivered batch. It returns the
// number of tasks successfully created.
func (n *Notifier) CreateFollowUpTasks(ctx context.Context, records []collect.Record, assignee string) int {
	if strings.TrimSpace(assignee) == "" {
		return 0
	}

	due := time.Now().Add(n.cfg.TaskDue)
	created := 0
	for _, rec := range records {
		if rec.Bucket != classify.BucketInvoiceConfirmed {
			continue
		}
		body := taskBody(rec)
		if err := n.api.CreateTask(ctx, n.cfg.RoomID, body, assignee, due); err != nil {
			n.log.Warn("follow-up task creation failed",
				logx.String("id", rec.ID), logx.Err(err))
			continue
		}
		created++
	}
	return created
}

func taskBody(rec collect.Record) string {
	lines := []string{
		fmt.Sprintf("【請求確定】%s", rec.Carrier),
		"Subject: " + rec.Subject,
		"From: " + rec.From,
	}
	if rec.Permalink != "" {
		lines = append(lines, "Mail: "+rec.Permalink)
	}
	return strings.Join(lines, "\n")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
