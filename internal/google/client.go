// Package google talks to the tracking provisioning surface of the Google
// APIs: Tag Manager for site tags, Ads for conversion actions. Calls are
// idempotent upserts keyed by name, so the job pipeline can safely repeat
// them.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"beacon/internal/jobs"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type Config struct {
	TagManagerBaseURL string
	AdsBaseURL        string
	Timeout           time.Duration
}

type Client struct {
	cfg Config
	log *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{cfg: cfg, log: log}
}

// APIError carries the provider verdict. The class tells the worker whether
// to retry, pause the batch or give up.
type APIError struct {
	Status     int
	Body       string
	RetryAfter time.Duration

	class jobs.ErrorClass
	msg   string
}

func (e *APIError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Body)
}

func (e *APIError) ErrorClass() jobs.ErrorClass { return e.class }

func (e *APIError) Cooldown() (time.Duration, bool) {
	return e.RetryAfter, e.RetryAfter > 0
}

func (c *Client) EnsureTag(ctx context.Context, p jobs.TagParams) (string, error) {
	u := fmt.Sprintf("%s/containers/%s/tags",
		strings.TrimRight(c.cfg.TagManagerBaseURL, "/"),
		url.PathEscape(p.ContainerID))

	var out struct {
		Ref string `json:"ref"`
	}
	err := c.post(ctx, p.Token, u, map[string]any{
		"name":   p.Name,
		"type":   p.Kind,
		"domain": p.Domain,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Ref == "" {
		return "", &APIError{Status: http.StatusOK, class: jobs.ClassPermanent, msg: "tag response missing ref"}
	}
	return out.Ref, nil
}

func (c *Client) EnsureConversion(ctx context.Context, p jobs.ConversionParams) (string, error) {
	u := fmt.Sprintf("%s/customers/%s/conversionActions",
		strings.TrimRight(c.cfg.AdsBaseURL, "/"),
		url.PathEscape(p.AdsAccountID))

	var out struct {
		Ref string `json:"ref"`
	}
	err := c.post(ctx, p.Token, u, map[string]any{
		"name": p.Name,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Ref == "" {
		return "", &APIError{Status: http.StatusOK, class: jobs.ClassPermanent, msg: "conversion response missing ref"}
	}
	return out.Ref, nil
}

func (c *Client) post(ctx context.Context, token, u string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &APIError{class: jobs.ClassPermanent, msg: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return &APIError{class: jobs.ClassPermanent, msg: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	// per-customer credential, so the authenticated client is per call
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = c.cfg.Timeout

	resp, err := hc.Do(req)
	if err != nil {
		// network level: unreachable, timeout, reset
		return &APIError{class: jobs.ClassTransient, msg: fmt.Sprintf("call provider: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return &APIError{Status: resp.StatusCode, class: jobs.ClassPermanent,
				msg: fmt.Sprintf("decode response: %v", err)}
		}
		return nil
	}
	return classify(resp.StatusCode, raw, resp.Header)
}

func classify(status int, body []byte, h http.Header) *APIError {
	e := &APIError{Status: status, Body: truncate(string(body), 512)}
	switch {
	case status == http.StatusTooManyRequests:
		e.class = jobs.ClassQuota
		e.RetryAfter = parseRetryAfter(h.Get("Retry-After"))
	case status == http.StatusForbidden && quotaReason(body):
		e.class = jobs.ClassQuota
	case status >= 500:
		e.class = jobs.ClassTransient
	default:
		e.class = jobs.ClassPermanent
	}
	return e
}

// 403 doubles as both "no permission" and "daily quota exhausted"; only the
// latter should pause the batch.
func quotaReason(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "quota") || strings.Contains(s, "ratelimit") || strings.Contains(s, "rate limit")
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	sec, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || sec <= 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
