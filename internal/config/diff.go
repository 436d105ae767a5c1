package config

import (
	"reflect"
	"sort"
	"strings"

	logx "carrierwatch/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (chat token, IMAP password,
// order-store service key) are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Mail (never log the password)
	if secretChanged(oldCfg.Mail.Password, newCfg.Mail.Password) ||
		oldCfg.Mail.IMAPAddr != newCfg.Mail.IMAPAddr ||
		oldCfg.Mail.Username != newCfg.Mail.Username ||
		oldCfg.Mail.Mailbox != newCfg.Mail.Mailbox ||
		!reflect.DeepEqual(oldCfg.Mail.FromDomains, newCfg.Mail.FromDomains) ||
		oldCfg.Mail.Lookback != newCfg.Mail.Lookback ||
		oldCfg.Mail.SearchLimit != newCfg.Mail.SearchLimit ||
		oldCfg.Mail.PermalinkTemplate != newCfg.Mail.PermalinkTemplate {
		changed = append(changed, "mail")
		attrs = append(attrs,
			logx.String("mail.imap_addr", newCfg.Mail.IMAPAddr),
			logx.Int("mail.from_domains", len(newCfg.Mail.FromDomains)),
			logx.Bool("mail.password_set", strings.TrimSpace(newCfg.Mail.Password) != ""),
		)
	}

	// Chat (never log the token)
	if secretChanged(oldCfg.Chat.Token, newCfg.Chat.Token) ||
		oldCfg.Chat.RoomID != newCfg.Chat.RoomID ||
		oldCfg.Chat.BaseURL != newCfg.Chat.BaseURL ||
		oldCfg.Chat.RatePerSec != newCfg.Chat.RatePerSec ||
		oldCfg.Chat.RetryMax != newCfg.Chat.RetryMax ||
		oldCfg.Chat.RetryBase != newCfg.Chat.RetryBase {
		changed = append(changed, "chat")
		attrs = append(attrs,
			logx.String("chat.room_id", newCfg.Chat.RoomID),
			logx.Bool("chat.token_set", strings.TrimSpace(newCfg.Chat.Token) != ""),
		)
	}

	// Orders (never log the service key)
	if secretChanged(oldCfg.Orders.ServiceKey, newCfg.Orders.ServiceKey) ||
		oldCfg.Orders.BaseURL != newCfg.Orders.BaseURL ||
		oldCfg.Orders.Table != newCfg.Orders.Table ||
		oldCfg.Orders.ChunkSize != newCfg.Orders.ChunkSize {
		changed = append(changed, "orders")
		attrs = append(attrs,
			logx.Bool("orders.url_set", strings.TrimSpace(newCfg.Orders.BaseURL) != ""),
			logx.Bool("orders.key_set", strings.TrimSpace(newCfg.Orders.ServiceKey) != ""),
		)
	}

	if oldCfg.Directory != newCfg.Directory {
		changed = append(changed, "directory")
		attrs = append(attrs,
			logx.Bool("directory.path_set", strings.TrimSpace(newCfg.Directory.Path) != ""),
			logx.String("directory.role", newCfg.Directory.Role),
		)
	}

	if oldCfg.Dedup != newCfg.Dedup {
		changed = append(changed, "dedup")
		attrs = append(attrs,
			logx.String("dedup.driver", strings.TrimSpace(newCfg.Dedup.Driver)),
			logx.Bool("dedup.path_set", strings.TrimSpace(newCfg.Dedup.Path) != ""),
			logx.Int("dedup.max_entries", newCfg.Dedup.MaxEntries),
		)
	}

	if oldCfg.Run != newCfg.Run {
		changed = append(changed, "run")
		attrs = append(attrs,
			logx.Int("run.max_per_run", newCfg.Run.MaxPerRun),
			logx.String("run.lock_wait", strings.TrimSpace(newCfg.Run.LockWait)),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs, logx.String("schedule.every", strings.TrimSpace(newCfg.Schedule.Every)))
	}

	sort.Strings(changed)
	return changed, attrs
}

// secretChanged compares set/unset state only, so rotating a secret in
// place never shows up in logs.
func secretChanged(oldV, newV string) bool {
	return (strings.TrimSpace(oldV) != "") != (strings.TrimSpace(newV) != "")
}
