package analytics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestCollector_Record(t *testing.T) {
	c := NewCollector()
	c.Record(RequestMetric{Method: "POST", Path: "/api/v1/sessions", StatusCode: 201, Duration: 10 * time.Millisecond, TenantID: "default"})
	c.Record(RequestMetric{Method: "POST", Path: "/api/v1/sessions", StatusCode: 403, Duration: 2 * time.Millisecond, TenantID: "default"})
	c.Record(RequestMetric{Method: "GET", Path: "/api/v1/sessions/:id", StatusCode: 200, Duration: 4 * time.Millisecond, TenantID: "acme"})

	s := c.Summarize()
	if s.TotalRequests != 3 {
		t.Errorf("expected 3 total requests, got %d", s.TotalRequests)
	}
	if s.TotalErrors != 1 {
		t.Errorf("expected 1 error, got %d", s.TotalErrors)
	}
	if len(s.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(s.Endpoints))
	}
	// Ordered by volume.
	if s.Endpoints[0].Path != "POST /api/v1/sessions" {
		t.Errorf("expected busiest endpoint first, got %s", s.Endpoints[0].Path)
	}
	if s.Endpoints[0].StatusCounts[201] != 1 || s.Endpoints[0].StatusCounts[403] != 1 {
		t.Errorf("unexpected status counts: %+v", s.Endpoints[0].StatusCounts)
	}
	if len(s.Tenants) != 2 {
		t.Errorf("expected 2 tenants, got %d", len(s.Tenants))
	}
}

func TestCollector_AvgDuration(t *testing.T) {
	c := NewCollector()
	c.Record(RequestMetric{Method: "GET", Path: "/x", StatusCode: 200, Duration: 10 * time.Millisecond})
	c.Record(RequestMetric{Method: "GET", Path: "/x", StatusCode: 200, Duration: 30 * time.Millisecond})

	s := c.Summarize()
	if got := s.Endpoints[0].AvgDurationMS; got < 19.9 || got > 20.1 {
		t.Errorf("expected avg duration ~20ms, got %f", got)
	}
}

func TestCollector_ConcurrentRecord(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Record(RequestMetric{Method: "GET", Path: "/x", StatusCode: 200, Duration: time.Millisecond, TenantID: "default"})
			}
		}()
	}
	wg.Wait()

	s := c.Summarize()
	if s.TotalRequests != 1000 {
		t.Errorf("expected 1000 requests, got %d", s.TotalRequests)
	}
	if s.Endpoints[0].TotalRequests != 1000 {
		t.Errorf("expected 1000 endpoint requests, got %d", s.Endpoints[0].TotalRequests)
	}
}

func TestMiddleware_RecordsStatusAndPath(t *testing.T) {
	c := NewCollector()
	e := echo.New()
	e.Use(c.Middleware())
	e.GET("/sessions/:id", func(ec echo.Context) error {
		return ec.NoContent(http.StatusOK)
	})
	e.GET("/boom", func(ec echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "conflict")
	})

	for _, path := range []string{"/sessions/abc", "/boom"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
	}

	s := c.Summarize()
	if s.TotalRequests != 2 {
		t.Fatalf("expected 2 requests, got %d", s.TotalRequests)
	}
	if s.TotalErrors != 1 {
		t.Errorf("expected 1 error, got %d", s.TotalErrors)
	}
	found := false
	for _, ep := range s.Endpoints {
		if ep.Path == "GET /sessions/:id" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected route template in endpoint key, got %+v", s.Endpoints)
	}
}
