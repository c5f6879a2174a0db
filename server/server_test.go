package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"steam-sales-notifier/pkg/sales"
)

type fakeCatalog struct {
	listings []sales.Listing
	err      error
}

func (c *fakeCatalog) Page(_ context.Context, limit, offset int) ([]sales.Listing, error) {
	if c.err != nil {
		return nil, c.err
	}
	if offset >= len(c.listings) {
		return nil, nil
	}
	end := offset + limit
	if end > len(c.listings) {
		end = len(c.listings)
	}
	return c.listings[offset:end], nil
}

func (c *fakeCatalog) Random(_ context.Context, n int) ([]sales.Listing, error) {
	if c.err != nil {
		return nil, c.err
	}
	if n > len(c.listings) {
		n = len(c.listings)
	}
	return c.listings[:n], nil
}

func (c *fakeCatalog) Count(_ context.Context) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	return int64(len(c.listings)), nil
}

type fakePoller struct {
	calls int
	err   error
}

func (p *fakePoller) Cycle(_ context.Context) error {
	p.calls++
	return p.err
}

type fakeDispatcher struct{}

func (fakeDispatcher) Metrics() (uint64, uint64, uint64, int) { return 10, 8, 1, 1 }

func newTestServer(catalog *fakeCatalog, poller *fakePoller) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(catalog, poller, fakeDispatcher{}, logger)
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&fakeCatalog{}, &fakePoller{})
	rec := doRequest(t, s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", rec.Code)
	}
}

func TestPollz(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		poller := &fakePoller{}
		s := newTestServer(&fakeCatalog{}, poller)

		rec := doRequest(t, s, http.MethodPost, "/pollz")
		if rec.Code != http.StatusOK {
			t.Fatalf("POST /pollz = %d, want 200", rec.Code)
		}
		if poller.calls != 1 {
			t.Errorf("poller invoked %d times, want 1", poller.calls)
		}

		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["status"] != "completed" {
			t.Errorf("status = %q, want completed", body["status"])
		}
	})

	t.Run("cycle failure returns 500", func(t *testing.T) {
		poller := &fakePoller{err: errors.New("scan rejected")}
		s := newTestServer(&fakeCatalog{}, poller)

		rec := doRequest(t, s, http.MethodPost, "/pollz")
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("POST /pollz = %d, want 500", rec.Code)
		}
	})

	t.Run("GET not allowed", func(t *testing.T) {
		s := newTestServer(&fakeCatalog{}, &fakePoller{})
		rec := doRequest(t, s, http.MethodGet, "/pollz")
		if rec.Code == http.StatusOK {
			t.Error("GET /pollz succeeded, want rejection")
		}
	})
}

func TestSalesEndpoint(t *testing.T) {
	catalog := &fakeCatalog{listings: []sales.Listing{
		{Title: "Hades", Price: "$12.49", Link: "https://store.steampowered.com/app/1145360"},
		{Title: "Celeste", Price: "$4.99", Link: "https://store.steampowered.com/app/504230"},
		{Title: "Terraria", Price: "$4.99", Link: "https://store.steampowered.com/app/105600"},
	}}
	s := newTestServer(catalog, &fakePoller{})

	rec := doRequest(t, s, http.MethodGet, "/api/sales?limit=2&offset=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/sales = %d, want 200", rec.Code)
	}

	var body struct {
		Total    int64           `json:"total"`
		Limit    int             `json:"limit"`
		Offset   int             `json:"offset"`
		Listings []sales.Listing `json:"listings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total != 3 || body.Limit != 2 || body.Offset != 1 {
		t.Errorf("page meta = %+v, want total 3, limit 2, offset 1", body)
	}
	if len(body.Listings) != 2 || body.Listings[0].Title != "Celeste" {
		t.Errorf("listings = %v, want [Celeste, Terraria]", body.Listings)
	}
}

func TestSalesEndpointClampsLimit(t *testing.T) {
	catalog := &fakeCatalog{}
	s := newTestServer(catalog, &fakePoller{})

	rec := doRequest(t, s, http.MethodGet, "/api/sales?limit=99999")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/sales = %d, want 200", rec.Code)
	}

	var body struct {
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Limit != maxPageLimit {
		t.Errorf("limit = %d, want clamped to %d", body.Limit, maxPageLimit)
	}
}

func TestSalesEndpointStorageError(t *testing.T) {
	catalog := &fakeCatalog{err: errors.New("database locked")}
	s := newTestServer(catalog, &fakePoller{})

	rec := doRequest(t, s, http.MethodGet, "/api/sales")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("GET /api/sales = %d, want 500", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	catalog := &fakeCatalog{listings: []sales.Listing{{Title: "Hades"}}}
	s := newTestServer(catalog, &fakePoller{})

	rec := doRequest(t, s, http.MethodGet, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/stats = %d, want 200", rec.Code)
	}

	var body map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["snapshot_size"] != 1 {
		t.Errorf("snapshot_size = %d, want 1", body["snapshot_size"])
	}
	if body["alerts_enqueued"] != 10 || body["alerts_delivered"] != 8 || body["alerts_dropped"] != 1 {
		t.Errorf("queue counters = %v, want enqueued 10, delivered 8, dropped 1", body)
	}
}

func TestLatestAndRandomEndpoints(t *testing.T) {
	catalog := &fakeCatalog{listings: []sales.Listing{
		{Title: "Hades"}, {Title: "Celeste"}, {Title: "Terraria"},
	}}
	s := newTestServer(catalog, &fakePoller{})

	rec := doRequest(t, s, http.MethodGet, "/api/sales/latest?n=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/sales/latest = %d, want 200", rec.Code)
	}
	var body struct {
		Listings []sales.Listing `json:"listings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Listings) != 2 || body.Listings[0].Title != "Hades" {
		t.Errorf("latest = %v, want first two rows", body.Listings)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/sales/random?n=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/sales/random = %d, want 200", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Listings) != 2 {
		t.Errorf("random returned %d rows, want 2", len(body.Listings))
	}
}
