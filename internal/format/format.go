// Package format renders a collected batch into one composite Chatwork
// message.
package format

import (
	"fmt"
	"strings"

	"carrierwatch/internal/collect"
)

const divider = "――――――――――"

// Escape substitutes Chatwork markup delimiters with visually similar
// full-width characters. Content is never dropped, only substituted, so
// a hostile subject cannot break out of an [info] block.
func Escape(s string) string {
	s = strings.ReplaceAll(s, "[", "［")
	return strings.ReplaceAll(s, "]", "］")
}

// Batch renders the whole run into a single [info] payload: a count
// header followed by one numbered block per record.
func Batch(records []collect.Record, owners map[string][]string) string {
	header := fmt.Sprintf("[info][title]📦 キャリアメール新着 %d件（DHL/FedEx）[/title]", len(records))

	blocks := make([]string, 0, len(records))
	for i, rec := range records {
		blocks = append(blocks, block(i+1, rec, owners))
	}

	return strings.Join([]string{
		header,
		strings.Join(blocks, "\n\n"+divider+"\n\n"),
		"[/info]",
	}, "\n\n")
}

func block(ordinal int, rec collect.Record, owners map[string][]string) string {
	lines := []string{
		fmt.Sprintf("#%d %s｜%s", ordinal, rec.Title, rec.Carrier),
		"■ Subject: " + Escape(rec.Subject),
		"■ From: " + Escape(rec.From),
		"■ Date: " + rec.Date.Format("2006-01-02 15:04:05 -0700"),
		"■ Category: " + string(rec.Bucket),
	}
	if len(rec.TrackingNumbers) > 0 {
		lines = append(lines, "■ Tracking: "+strings.Join(rec.TrackingNumbers, ", "))
	}
	if accounts := ownersFor(rec.TrackingNumbers, owners); len(accounts) > 0 {
		lines = append(lines, "■ 対象アカウント: "+strings.Join(accounts, ", "))
	}
	if rec.Snippet != "" {
		lines = append(lines, "■ Snippet: "+Escape(rec.Snippet))
	}
	if rec.Permalink != "" {
		lines = append(lines, "■ Mail: "+rec.Permalink)
	}
	return strings.Join(lines, "\n")
}

// ownersFor flattens the owner ids of every tracking number on the
// record, deduplicated in first-seen order.
func ownersFor(trackingNumbers []string, owners map[string][]string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, tn := range trackingNumbers {
		for _, user := range owners[tn] {
			if user == "" {
				continue
			}
			if _, ok := seen[user]; ok {
				continue
			}
			seen[user] = struct{}{}
			out = append(out, user)
		}
	}
	return out
}
