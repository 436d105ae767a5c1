package format

import (
	"strings"
	"testing"
	"time"

	"carrierwatch/internal/classify"
	"carrierwatch/internal/collect"
)

func TestEscape(t *testing.T) {
	tests := []struct{ in, want string }{
		{"[info]breakout[/info]", "［info］breakout［/info］"},
		{"no markup", "no markup"},
		{"[", "［"},
		{"]", "］"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Escape(tt.in); got != tt.want {
			t.Fatalf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func sampleRecord(id, subject string, bucket classify.Bucket, tns ...string) collect.Record {
	return collect.Record{
		ID:              id,
		Carrier:         classify.CarrierDHL,
		Bucket:          bucket,
		Title:           "【その他】確認のみ",
		From:            "noreply@dhl.com",
		Subject:         subject,
		Date:            time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
		Snippet:         "snippet text",
		Permalink:       "https://mail.example.com/#all/" + id,
		TrackingNumbers: tns,
	}
}

func TestBatchLayout(t *testing.T) {
	records := []collect.Record{
		sampleRecord("a", "first", classify.BucketOther),
		sampleRecord("b", "second", classify.BucketAWBInquiry, "1234567890"),
		sampleRecord("c", "third", classify.BucketOther),
	}
	owners := map[string][]string{"1234567890": {"shop-a", "shop-b"}}

	got := Batch(records, owners)

	if !strings.HasPrefix(got, "[info][title]📦 キャリアメール新着 3件（DHL/FedEx）[/title]") {
		t.Fatalf("missing header:\n%s", got)
	}
	if !strings.HasSuffix(got, "[/info]") {
		t.Fatalf("missing footer:\n%s", got)
	}
	for _, want := range []string{"#1 ", "#2 ", "#3 "} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing ordinal %q:\n%s", want, got)
		}
	}
	if n := strings.Count(got, divider); n != 2 {
		t.Fatalf("divider count = %d, want 2 for 3 blocks", n)
	}
	if !strings.Contains(got, "■ Tracking: 1234567890") {
		t.Fatalf("missing tracking line:\n%s", got)
	}
	if !strings.Contains(got, "■ 対象アカウント: shop-a, shop-b") {
		t.Fatalf("missing account line:\n%s", got)
	}
}

func TestBatchEscapesUserControlledFields(t *testing.T) {
	rec := sampleRecord("a", "[title]pwned[/title]", classify.BucketOther)
	rec.From = "evil[code]@dhl.com"
	rec.Snippet = "snippet with ] bracket"

	got := Batch([]collect.Record{rec}, nil)

	if strings.Contains(got, "[title]pwned") {
		t.Fatalf("subject markup not escaped:\n%s", got)
	}
	if !strings.Contains(got, "■ Subject: ［title］pwned［/title］") {
		t.Fatalf("escaped subject missing:\n%s", got)
	}
	if !strings.Contains(got, "evil［code］@dhl.com") {
		t.Fatalf("from not escaped:\n%s", got)
	}
	if !strings.Contains(got, "snippet with ］ bracket") {
		t.Fatalf("snippet not escaped:\n%s", got)
	}
	// The real block delimiters survive exactly once each.
	if !strings.HasPrefix(got, "[info]") || !strings.HasSuffix(got, "[/info]") {
		t.Fatalf("info envelope damaged:\n%s", got)
	}
}

func TestBatchOmitsEmptyOptionalLines(t *testing.T) {
	rec := sampleRecord("a", "subject", classify.BucketOther)
	rec.Snippet = ""
	rec.TrackingNumbers = nil

	got := Batch([]collect.Record{rec}, nil)
	if strings.Contains(got, "■ Tracking:") {
		t.Fatalf("tracking line present for empty set:\n%s", got)
	}
	if strings.Contains(got, "■ Snippet:") {
		t.Fatalf("snippet line present for empty snippet:\n%s", got)
	}
	if strings.Contains(got, "■ 対象アカウント:") {
		t.Fatalf("account line present with no owners:\n%s", got)
	}
}
