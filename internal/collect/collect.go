// Package collect assembles the per-run batch of not-yet-notified
// carrier messages.
package collect

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"carrierwatch/internal/classify"
	"carrierwatch/internal/dedup"
	"carrierwatch/internal/mail"
	"carrierwatch/internal/tracking"
	"carrierwatch/pkg/logx"
)

// Record is one collected message, immutable once constructed.
type Record struct {
	ID              string
	Carrier         classify.Carrier
	Bucket          classify.Bucket
	Title           string
	From            string
	Subject         string
	Date            time.Time
	Snippet         string
	Permalink       string
	TrackingNumbers []string
}

type Config struct {
	FromDomains       []string
	Lookback          time.Duration // how far back the query reaches
	SearchLimit       int           // thread cap passed to the source query
	MaxPerRun         int           // message cap per collected batch
	SnippetMax        int           // snippet length in runes
	PermalinkTemplate string        // fmt template with one %s for the id
}

type Collector struct {
	src mail.Source
	cfg Config
	log logx.Logger
	now func() time.Time
}

func New(src mail.Source, cfg Config, log logx.Logger) *Collector {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 14 * 24 * time.Hour
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 30
	}
	if cfg.MaxPerRun <= 0 {
		cfg.MaxPerRun = 30
	}
	// The query cap and the collection cap interact: the smaller one
	// governs, and both default to 30 so neither silently drops records.
	if cfg.SnippetMax <= 0 {
		cfg.SnippetMax = 160
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Collector{src: src, cfg: cfg, log: log, now: time.Now}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Collect queries the source and returns the batch of new records in
// source order (threads as returned, messages within a thread walked
// newest-first). Messages already in notified, or older than the
// lookback window, are skipped. Body retrieval is best-effort.
func (c *Collector) Collect(ctx context.Context, notified dedup.Record) ([]Record, error) {
	now := c.now()
	cutoff := now.Add(-c.cfg.Lookback)

	threads, err := c.src.Search(ctx, mail.Query{
		FromDomains: c.cfg.FromDomains,
		Since:       cutoff,
		Limit:       c.cfg.SearchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("mail search: %w", err)
	}

	var batch []Record
	for _, th := range threads {
		msgs := th.Messages()
		for i := len(msgs) - 1; i >= 0; i-- {
			msg := msgs[i]
			id := msg.ID()
			if id == "" || notified.Contains(id) {
				continue
			}
			// IMAP SINCE is day-granular; enforce the cutoff exactly.
			if msg.Date().Before(cutoff) {
				continue
			}

			body, err := msg.PlainBody()
			if err != nil {
				c.log.Warn("body fetch failed; continuing without body",
					logx.String("id", id), logx.Err(err))
				body = ""
			}

			from := msg.From()
			subject := msg.Subject()
			cls := classify.Classify(from, subject)

			batch = append(batch, Record{
				ID:              id,
				Carrier:         cls.Carrier,
				Bucket:          cls.Bucket,
				Title:           cls.Title,
				From:            from,
				Subject:         subject,
				Date:            msg.Date(),
				Snippet:         c.snippet(body),
				Permalink:       c.permalink(id),
				TrackingNumbers: tracking.Extract(subject, body),
			})
			if len(batch) >= c.cfg.MaxPerRun {
				c.log.Debug("collection cap reached", logx.Int("cap", c.cfg.MaxPerRun))
				return batch, nil
			}
		}
	}
	return batch, nil
}

func (c *Collector) snippet(body string) string {
	s := strings.TrimSpace(whitespaceRun.ReplaceAllString(body, " "))
	r := []rune(s)
	if len(r) > c.cfg.SnippetMax {
		r = r[:c.cfg.SnippetMax]
	}
	return string(r)
}

func (c *Collector) permalink(id string) string {
	if c.cfg.PermalinkTemplate == "" {
		return ""
	}
	return fmt.Sprintf(c.cfg.PermalinkTemplate, id)
}
