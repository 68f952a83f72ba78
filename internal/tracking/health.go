package tracking

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"beacon/internal/broadcast"
)

// maxHealthBody caps how much of the customer page we parse.
const maxHealthBody = 2 << 20

// HealthChecker fetches a customer page and verifies the container tag is
// actually installed. Results are broadcast on the customer channel so the
// dashboard can surface them live.
type HealthChecker struct {
	HTTP   *http.Client
	Events broadcast.Publisher
	Log    *zap.Logger
}

type HealthInput struct {
	CustomerID  uint64
	SiteURL     string
	ContainerID string
}

type HealthReport struct {
	CheckedURL string `json:"checked_url"`
	Reachable  bool   `json:"reachable"`
	TagFound   bool   `json:"tag_found"`
	Detail     string `json:"detail,omitempty"`
}

func (h *HealthChecker) Check(ctx context.Context, in HealthInput) HealthReport {
	report := HealthReport{CheckedURL: normalizeSiteURL(in.SiteURL)}
	defer h.publish(ctx, in.CustomerID, &report)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, report.CheckedURL, nil)
	if err != nil {
		report.Detail = "invalid site url"
		return report
	}
	resp, err := h.client().Do(req)
	if err != nil {
		report.Detail = "site unreachable"
		h.Log.Warn("health check fetch failed",
			zap.Uint64("customer_id", in.CustomerID), zap.Error(err))
		return report
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		report.Detail = fmt.Sprintf("site returned status %d", resp.StatusCode)
		return report
	}
	report.Reachable = true

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxHealthBody))
	if err != nil {
		report.Detail = "could not parse page"
		return report
	}

	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src, _ := sel.Attr("src")
		dataContainer, _ := sel.Attr("data-container")
		if scriptMatches(src, dataContainer, sel.Text(), in.ContainerID) {
			report.TagFound = true
			return false
		}
		return true
	})
	if !report.TagFound {
		report.Detail = "container tag not found on page"
	}
	return report
}

func (h *HealthChecker) publish(ctx context.Context, customerID uint64, report *HealthReport) {
	ev := broadcast.Event{
		Type:       broadcast.EventTrackingHealth,
		CustomerID: customerID,
		At:         time.Now().UTC(),
	}
	if !report.Reachable || !report.TagFound {
		detail := report.Detail
		ev.Error = &detail
	}
	h.Events.Publish(ctx, broadcast.CustomerChannel(customerID), ev)
}

func (h *HealthChecker) client() *http.Client {
	if h.HTTP != nil {
		return h.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func normalizeSiteURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return u
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	return u
}
