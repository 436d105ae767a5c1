// Package orders resolves shipment tracking numbers to shop account ids
// via a Supabase-style REST endpoint.
//
// The lookup is enrichment, not critical path: when credentials are
// absent the client is disabled and returns an empty mapping.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"carrierwatch/pkg/logx"
)

type Config struct {
	BaseURL    string // e.g. "https://xyz.supabase.co"; empty disables lookup
	ServiceKey string // bearer credential; empty disables lookup
	Table      string // default "orders"
	ChunkSize  int    // tracking numbers per request, default 100
	Timeout    time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Table == "" {
		cfg.Table = "orders"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// Enabled reports whether lookup credentials are configured.
func (c *Client) Enabled() bool {
	return strings.TrimSpace(c.cfg.BaseURL) != "" && strings.TrimSpace(c.cfg.ServiceKey) != ""
}

type orderRow struct {
	ShippingTrackingNumber string `json:"shipping_tracking_number"`
	EbayUserID             string `json:"ebay_user_id"`
}

// OwnersByTracking maps each tracking number to the account ids that own
// it. Input is deduplicated; requests go out in fixed-size chunks. A
// disabled client returns an empty map and no error.
func (c *Client) OwnersByTracking(ctx context.Context, trackingNumbers []string) (map[string][]string, error) {
	out := map[string][]string{}
	if !c.Enabled() {
		return out, nil
	}

	unique := dedupeStrings(trackingNumbers)
	if len(unique) == 0 {
		return out, nil
	}

	for start := 0; start < len(unique); start += c.cfg.ChunkSize {
		end := start + c.cfg.ChunkSize
		if end > len(unique) {
			end = len(unique)
		}
		rows, err := c.queryChunk(ctx, unique[start:end])
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			tn := strings.TrimSpace(row.ShippingTrackingNumber)
			user := strings.TrimSpace(row.EbayUserID)
			if tn == "" || user == "" {
				continue
			}
			if !contains(out[tn], user) {
				out[tn] = append(out[tn], user)
			}
		}
	}
	return out, nil
}

func (c *Client) queryChunk(ctx context.Context, chunk []string) ([]orderRow, error) {
	quoted := make([]string, 0, len(chunk))
	for _, tn := range chunk {
		tn = strings.TrimSpace(tn)
		if tn == "" {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(tn, `"`, `\"`)+`"`)
	}
	if len(quoted) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("select", "shipping_tracking_number,ebay_user_id")
	q.Set("shipping_tracking_number", "in.("+strings.Join(quoted, ",")+")")
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/rest/v1/" + c.cfg.Table + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.cfg.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceKey)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("order lookup: %w", err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("order lookup: status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(body) == 0 {
		return nil, nil
	}

	var rows []orderRow
	if err := json.Unmarshal(body, &rows); err != nil {
		// A malformed payload yields no enrichment, not a failed run.
		c.log.Warn("order lookup returned unparseable body", logx.Err(err))
		return nil, nil
	}
	return rows, nil
}

func dedupeStrings(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
