// Package directory resolves a role name to a chat account id from a
// two-column table.
package directory

import (
	"encoding/csv"
	"os"
	"strings"

	"carrierwatch/pkg/logx"
)

// Directory resolves role -> assignee id. An empty result means "no
// assignee", which downstream treats as "skip task creation this run".
type Directory interface {
	AssigneeByRole(role string) string
}

// CSVFile reads a role,assignee table from disk. The file is re-read on
// every lookup so operators can edit assignments without a restart. The
// first row is treated as a header and skipped.
type CSVFile struct {
	Path string
	Log  logx.Logger
}

func NewCSVFile(path string, log logx.Logger) *CSVFile {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CSVFile{Path: path, Log: log}
}

func (d *CSVFile) AssigneeByRole(role string) string {
	if strings.TrimSpace(d.Path) == "" {
		return ""
	}
	f, err := os.Open(d.Path)
	if err != nil {
		// Missing table disables task creation for the run, nothing more.
		d.Log.Debug("role directory unavailable", logx.String("path", d.Path), logx.Err(err))
		return ""
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		d.Log.Warn("role directory unreadable", logx.String("path", d.Path), logx.Err(err))
		return ""
	}

	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			continue
		}
		if strings.TrimSpace(row[0]) == role {
			return strings.TrimSpace(row[1])
		}
	}
	return ""
}

// Static is a fixed in-memory table, used in tests and simple deploys.
type Static map[string]string

func (d Static) AssigneeByRole(role string) string { return d[role] }
