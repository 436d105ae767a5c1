// Package chat is a minimal Chatwork v2 API client: room messages and
// room tasks, which is all the pipeline needs.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"carrierwatch/pkg/logx"
)

type Config struct {
	BaseURL    string // default "https://api.chatwork.com/v2"
	Token      string
	RatePerSec int // proactive client-side send limit, default 1
	Timeout    time.Duration
}

// APIError is a non-2xx response from the chat service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api error: %d %s", e.Status, e.Body)
}

// IsRateLimited reports whether err is a 429 from the chat service.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusTooManyRequests
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("chat token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.chatwork.com/v2"
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}, nil
}

// PostMessage posts one text message to a room.
func (c *Client) PostMessage(ctx context.Context, roomID, body string) error {
	form := url.Values{}
	form.Set("body", body)
	return c.post(ctx, fmt.Sprintf("/rooms/%s/messages", url.PathEscape(roomID)), form)
}

// CreateTask creates a room task assigned to toIDs (comma-separated
// account ids) with a Unix-timestamp due date.
func (c *Client) CreateTask(ctx context.Context, roomID, body, toIDs string, due time.Time) error {
	form := url.Values{}
	form.Set("body", body)
	form.Set("to_ids", toIDs)
	form.Set("limit", strconv.FormatInt(due.Unix(), 10))
	return c.post(ctx, fmt.Sprintf("/rooms/%s/tasks", url.PathEscape(roomID)), form)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("X-ChatWorkToken", c.cfg.Token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat post %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return &APIError{Status: res.StatusCode, Body: strings.TrimSpace(string(b))}
}
