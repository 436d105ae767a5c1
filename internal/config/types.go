package config

import "os"

// Config is the full on-disk configuration. Secrets may be omitted from
// the file and supplied via environment variables instead (a .env file
// is loaded at startup).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Mail      MailConfig      `json:"mail"`
	Chat      ChatConfig      `json:"chat"`
	Orders    OrdersConfig    `json:"orders,omitempty"`
	Directory DirectoryConfig `json:"directory,omitempty"`
	Dedup     DedupConfig     `json:"dedup"`
	Run       RunConfig       `json:"run,omitempty"`
	Schedule  ScheduleConfig  `json:"schedule,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type MailConfig struct {
	IMAPAddr string `json:"imap_addr"`
	Username string `json:"username"`
	// Password falls back to CARRIERWATCH_IMAP_PASSWORD.
	Password string `json:"password,omitempty"`
	Mailbox  string `json:"mailbox,omitempty"` // default: INBOX

	// FromDomains is the sender allowlist the inbox query filters on.
	FromDomains []string `json:"from_domains,omitempty"`
	// Lookback is a Go duration string (e.g. "336h" for 14 days).
	Lookback    string `json:"lookback,omitempty"`
	SearchLimit int    `json:"search_limit,omitempty"`
	// PermalinkTemplate renders a webmail link from a message id,
	// e.g. "https://mail.google.com/mail/u/0/#all/%s".
	PermalinkTemplate string `json:"permalink_template,omitempty"`
}

func (c MailConfig) ResolvePassword() string {
	if c.Password != "" {
		return c.Password
	}
	return os.Getenv("CARRIERWATCH_IMAP_PASSWORD")
}

// ChatConfig controls the Chatwork client and delivery retry.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ChatConfig struct {
	// Token falls back to CHATWORK_API_TOKEN.
	Token      string `json:"token,omitempty"`
	RoomID     string `json:"room_id"`
	BaseURL    string `json:"base_url,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
}

func (c ChatConfig) ResolveToken() string {
	if c.Token != "" {
		return c.Token
	}
	return os.Getenv("CHATWORK_API_TOKEN")
}

// OrdersConfig enables tracking-number enrichment against an order
// database. Leaving both the URL and the key unset disables the lookup.
type OrdersConfig struct {
	// BaseURL falls back to SUPABASE_URL.
	BaseURL string `json:"base_url,omitempty"`
	// ServiceKey falls back to SUPABASE_SERVICE_ROLE_KEY.
	ServiceKey string `json:"service_key,omitempty"`
	Table      string `json:"table,omitempty"`
	ChunkSize  int    `json:"chunk_size,omitempty"`
}

func (c OrdersConfig) ResolveBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return os.Getenv("SUPABASE_URL")
}

func (c OrdersConfig) ResolveServiceKey() string {
	if c.ServiceKey != "" {
		return c.ServiceKey
	}
	return os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
}

type DirectoryConfig struct {
	Path string `json:"path,omitempty"` // role,assignee CSV
	Role string `json:"role,omitempty"`
}

// DedupConfig controls the persisted notified-id store.
//
// Example:
//
//	"dedup": { "driver": "file", "path": "./carrierwatch_state.json" }
type DedupConfig struct {
	Driver      string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Path        string `json:"path"`
	MaxEntries  int    `json:"max_entries,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RunConfig controls per-run limits and the overlap lock.
//
// All durations are Go duration strings.
type RunConfig struct {
	MaxPerRun  int    `json:"max_per_run,omitempty"`
	SnippetMax int    `json:"snippet_max,omitempty"`
	LockWait   string `json:"lock_wait,omitempty"`
	TaskDue    string `json:"task_due,omitempty"`
}

type ScheduleConfig struct {
	// Every is a Go duration string (default "5m").
	Every string `json:"every,omitempty"`
}
