package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"carrierwatch/pkg/logx"
)

// IMAPConfig configures the IMAP source.
type IMAPConfig struct {
	Addr     string // host:port, TLS assumed (e.g. "imap.gmail.com:993")
	Username string
	Password string
	Mailbox  string // default "INBOX"
}

// IMAPSource fetches messages over IMAP. Envelopes are fetched during
// Search; bodies are fetched lazily per message so one broken message
// cannot sink a whole pass.
type IMAPSource struct {
	cfg IMAPConfig
	log logx.Logger

	mu sync.Mutex
	c  *client.Client
}

func NewIMAPSource(cfg IMAPConfig, log logx.Logger) (*IMAPSource, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("imap addr is required")
	}
	if strings.TrimSpace(cfg.Mailbox) == "" {
		cfg.Mailbox = "INBOX"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &IMAPSource{cfg: cfg, log: log}, nil
}

func (s *IMAPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	err := s.c.Logout()
	s.c = nil
	return err
}

// connLocked returns a live client, dialing and logging in if needed.
func (s *IMAPSource) connLocked() (*client.Client, error) {
	if s.c != nil {
		// Cheap liveness probe; reconnect on a dead session.
		if err := s.c.Noop(); err == nil {
			return s.c, nil
		}
		_ = s.c.Logout()
		s.c = nil
	}

	c, err := client.DialTLS(s.cfg.Addr, nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", s.cfg.Addr, err)
	}
	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(s.cfg.Mailbox, true); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap select %s: %w", s.cfg.Mailbox, err)
	}
	s.c = c
	return c, nil
}

// Search returns one single-message thread per match, newest first.
// IMAP has no server-side thread grouping worth relying on here; replies
// carry their own message ids, so per-message threads keep the reply
// notification behavior intact.
func (s *IMAPSource) Search(ctx context.Context, q Query) ([]Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := s.connLocked()
	if err != nil {
		return nil, err
	}

	criteria := buildCriteria(q)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	ch := make(chan *imap.Message, 32)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, ch)
	}()

	var msgs []*imapMessage
	for m := range ch {
		if m == nil || m.Envelope == nil {
			continue
		}
		msgs = append(msgs, &imapMessage{src: s, uid: m.Uid, env: m.Envelope})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].env.Date.After(msgs[j].env.Date)
	})
	if q.Limit > 0 && len(msgs) > q.Limit {
		msgs = msgs[:q.Limit]
	}

	threads := make([]Thread, 0, len(msgs))
	for _, m := range msgs {
		threads = append(threads, singleThread{m})
	}
	s.log.Debug("imap search done", logx.Int("matches", len(uids)), logx.Int("returned", len(threads)))
	return threads, nil
}

// buildCriteria translates the query into IMAP SEARCH terms. Multiple
// sender domains become a right-leaning OR chain.
func buildCriteria(q Query) *imap.SearchCriteria {
	root := imap.NewSearchCriteria()
	if !q.Since.IsZero() {
		root.Since = q.Since
	}

	if len(q.FromDomains) == 0 {
		return root
	}
	from := fromCriterion(q.FromDomains[0])
	for _, d := range q.FromDomains[1:] {
		next := imap.NewSearchCriteria()
		next.Or = append(next.Or, [2]*imap.SearchCriteria{from, fromCriterion(d)})
		from = next
	}
	root.Or = from.Or
	if len(root.Or) == 0 {
		// Single domain: no OR wrapper needed.
		root.Header = from.Header
	}
	return root
}

func fromCriterion(domain string) *imap.SearchCriteria {
	c := imap.NewSearchCriteria()
	c.Header.Add("From", domain)
	return c
}

type singleThread struct{ m *imapMessage }

func (t singleThread) Messages() []Message { return []Message{t.m} }

type imapMessage struct {
	src *IMAPSource
	uid uint32
	env *imap.Envelope
}

func (m *imapMessage) ID() string {
	if id := strings.TrimSpace(m.env.MessageId); id != "" {
		return strings.Trim(id, "<>")
	}
	// Some senders omit Message-Id; the UID is stable per mailbox.
	return fmt.Sprintf("uid:%d", m.uid)
}

func (m *imapMessage) From() string {
	if len(m.env.From) == 0 {
		return ""
	}
	a := m.env.From[0]
	addr := a.Address()
	if a.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", a.PersonalName, addr)
	}
	return addr
}

func (m *imapMessage) Subject() string { return m.env.Subject }

func (m *imapMessage) Date() time.Time { return m.env.Date }

// PlainBody fetches the text section of the message. MIME multipart
// decoding is out of scope; the raw text part is good enough for snippet
// and tracking-number extraction.
func (m *imapMessage) PlainBody() (string, error) {
	m.src.mu.Lock()
	defer m.src.mu.Unlock()

	c, err := m.src.connLocked()
	if err != nil {
		return "", err
	}

	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier},
		Peek:         true,
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(m.uid)

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{section.FetchItem()}, ch)
	}()

	var body string
	for msg := range ch {
		if msg == nil {
			continue
		}
		if lit := msg.GetBody(section); lit != nil {
			b, err := io.ReadAll(lit)
			if err == nil {
				body = string(b)
			}
		}
	}
	if err := <-done; err != nil {
		return "", fmt.Errorf("imap body fetch uid=%d: %w", m.uid, err)
	}
	return body, nil
}
