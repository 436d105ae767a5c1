// Package tracking extracts candidate shipment tracking numbers from
// mail text.
package tracking

import "regexp"

// Word-boundary anchors keep digits embedded in longer runs (card
// numbers, order ids) out of the result set.
var (
	fedexPattern = regexp.MustCompile(`\b\d{12,15}\b`) // FedEx: 12-15 digits
	dhlPattern   = regexp.MustCompile(`\b\d{10}\b`)    // DHL: exactly 10 digits
)

// Extract returns every qualifying tracking number found in subject or
// body, deduplicated with first-seen order preserved. There is no
// carrier-specific filtering: any match anywhere in the text is
// returned regardless of how the message classified.
func Extract(subject, body string) []string {
	text := subject + " " + body

	var out []string
	seen := map[string]struct{}{}
	add := func(ms []string) {
		for _, m := range ms {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}

	add(fedexPattern.FindAllString(text, -1))
	add(dhlPattern.FindAllString(text, -1))
	return out
}
