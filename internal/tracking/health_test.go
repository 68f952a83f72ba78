package tracking

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"beacon/internal/broadcast"
)

func newTestChecker() (*HealthChecker, *broadcast.Hub) {
	hub := broadcast.NewHub(zap.NewNop())
	return &HealthChecker{Events: hub, Log: zap.NewNop()}, hub
}

func waitForEvent(t *testing.T, ch <-chan broadcast.Event) broadcast.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return broadcast.Event{}
	}
}

func TestCheckFindsLoaderSnippet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "<html><head>%s</head><body>hi</body></html>",
			Snippet("site-key-1", "GTM-ABC123"))
	}))
	defer srv.Close()

	checker, hub := newTestChecker()
	events, cancel := hub.Subscribe(broadcast.CustomerChannel(7))
	defer cancel()

	report := checker.Check(context.Background(), HealthInput{
		CustomerID:  7,
		SiteURL:     srv.URL,
		ContainerID: "GTM-ABC123",
	})
	assert.True(t, report.Reachable)
	assert.True(t, report.TagFound)
	assert.Empty(t, report.Detail)

	ev := waitForEvent(t, events)
	assert.Equal(t, broadcast.EventTrackingHealth, ev.Type)
	assert.Equal(t, uint64(7), ev.CustomerID)
	assert.Nil(t, ev.Error)
}

func TestCheckFindsInlineBootstrap(t *testing.T) {
	page := `<html><head><script>
		(function(w,d,s,l,i){w[l]=w[l]||[];})(window,document,'script','dataLayer','GTM-ABC123');
	</script></head><body></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	checker, _ := newTestChecker()
	report := checker.Check(context.Background(), HealthInput{
		CustomerID: 7, SiteURL: srv.URL, ContainerID: "GTM-ABC123",
	})
	assert.True(t, report.TagFound)
}

func TestCheckReportsMissingTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><script src="https://example.com/other.js"></script></head></html>`)
	}))
	defer srv.Close()

	checker, hub := newTestChecker()
	events, cancel := hub.Subscribe(broadcast.CustomerChannel(7))
	defer cancel()

	report := checker.Check(context.Background(), HealthInput{
		CustomerID: 7, SiteURL: srv.URL, ContainerID: "GTM-ABC123",
	})
	assert.True(t, report.Reachable)
	assert.False(t, report.TagFound)
	assert.Equal(t, "container tag not found on page", report.Detail)

	ev := waitForEvent(t, events)
	require.NotNil(t, ev.Error)
	assert.Equal(t, report.Detail, *ev.Error)
}

func TestCheckUnreachableSite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	checker, _ := newTestChecker()
	report := checker.Check(context.Background(), HealthInput{
		CustomerID: 7, SiteURL: srv.URL, ContainerID: "GTM-ABC123",
	})
	assert.False(t, report.Reachable)
	assert.Equal(t, "site unreachable", report.Detail)
}

func TestCheckErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	checker, _ := newTestChecker()
	report := checker.Check(context.Background(), HealthInput{
		CustomerID: 7, SiteURL: srv.URL, ContainerID: "GTM-ABC123",
	})
	assert.False(t, report.Reachable)
	assert.Equal(t, "site returned status 503", report.Detail)
}

func TestNormalizeSiteURL(t *testing.T) {
	assert.Equal(t, "https://shop.example.com", normalizeSiteURL("shop.example.com"))
	assert.Equal(t, "http://shop.example.com", normalizeSiteURL("http://shop.example.com"))
	assert.Equal(t, "https://shop.example.com", normalizeSiteURL(" https://shop.example.com"))
}
