// Package classify maps a carrier email (sender, subject) to a carrier,
// a category bucket and a display title.
//
// Classification is pure and total: no I/O, every input resolves to
// exactly one (carrier, bucket) pair. Matching runs in two modes:
//   - fold: case-insensitive substring match for ASCII keywords
//   - exact: case-sensitive substring match for Japanese phrases
//
// Lowercasing Japanese text is a no-op, but
// the carrier mails mix full-width and half-width spacing in the same
// phrase, so exact variants are listed per rule instead of normalized.
package classify

import "strings"

type Carrier string

const (
	CarrierFedEx Carrier = "FedEx"
	CarrierDHL   Carrier = "DHL"
	CarrierOther Carrier = "Other"
)

type Bucket string

const (
	BucketPaymentFailed    Bucket = "payment_failed"
	BucketInvoiceConfirmed Bucket = "invoice_confirmed"
	BucketAWBInquiry       Bucket = "awb_inquiry"
	BucketOther            Bucket = "other"
)

// Result is the classification of one message.
type Result struct {
	Carrier Carrier
	Bucket  Bucket
	Title   string
}

// rule is one entry of an ordered, first-match-wins table.
//
// A rule matches when any of its populated matchers fires:
//   - allExact: every phrase present (case-sensitive)
//   - anyExact: at least one phrase present (case-sensitive)
//   - anyFold:  at least one keyword present in the lowercased subject
type rule struct {
	bucket   Bucket
	allExact []string
	anyExact []string
	anyFold  []string
}

func (r rule) matches(subject, subjectLower string) bool {
	if len(r.allExact) > 0 {
		all := true
		for _, p := range r.allExact {
			if !strings.Contains(subject, p) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	for _, p := range r.anyExact {
		if strings.Contains(subject, p) {
			return true
		}
	}
	for _, k := range r.anyFold {
		if strings.Contains(subjectLower, k) {
			return true
		}
	}
	return false
}

var fedexRules = []rule{
	{bucket: BucketPaymentFailed, anyExact: []string{"トランザクションは失敗しました"}},
	{bucket: BucketInvoiceConfirmed, anyExact: []string{
		"フェデックス　ビリング　オンライン",
		"フェデックス ビリング オンライン",
		"請求書発行のお知らせ",
	}},
	{bucket: BucketAWBInquiry, anyFold: []string{"awb"}},
}

var dhlRules = []rule{
	{
		bucket:   BucketPaymentFailed,
		allExact: []string{"DHL MyBill", "カード決済エラー"},
		anyFold:  []string{"payment failed notification"},
	},
	{bucket: BucketInvoiceConfirmed, anyFold: []string{"your latest dhl invoice:"}},
	{bucket: BucketInvoiceConfirmed, anyExact: []string{"請求書発行のお知らせ"}},
	{
		bucket:   BucketAWBInquiry,
		anyExact: []string{"運送状番号", "送り状番号"},
		anyFold:  []string{"awb"},
	},
}

var titles = map[Bucket]string{
	BucketPaymentFailed:    "【支払い失敗】要対応",
	BucketInvoiceConfirmed: "【請求確定】CSV取込",
	BucketAWBInquiry:       "【要調査】運送状/AWB",
	BucketOther:            "【その他】確認のみ",
}

// Classify resolves (sender, subject) to a carrier, bucket and title.
// FedEx keyword matches take precedence over DHL when both are present.
func Classify(from, subject string) Result {
	f := strings.ToLower(from)
	sl := strings.ToLower(subject)

	isFedEx := strings.Contains(f, "fedex") || strings.Contains(sl, "fedex")
	isDHL := strings.Contains(f, "dhl") || strings.Contains(f, "dpdhl") || strings.Contains(sl, "dhl")

	switch {
	case isFedEx:
		return resolve(CarrierFedEx, fedexRules, subject, sl)
	case isDHL:
		return resolve(CarrierDHL, dhlRules, subject, sl)
	default:
		return Result{Carrier: CarrierOther, Bucket: BucketOther, Title: titles[BucketOther]}
	}
}

func resolve(c Carrier, rules []rule, subject, subjectLower string) Result {
	for _, r := range rules {
		if r.matches(subject, subjectLower) {
			return Result{Carrier: c, Bucket: r.bucket, Title: titles[r.bucket]}
		}
	}
	return Result{Carrier: c, Bucket: BucketOther, Title: titles[BucketOther]}
}
