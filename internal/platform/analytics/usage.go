// Package analytics collects in-process API usage metrics: request volumes,
// error rates, and latency per endpoint and per tenant. Counters live in
// memory and reset on restart; durable billing data lives in the usage ledger,
// not here.
package analytics

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/db"
)

// RequestMetric captures a single API request's metadata.
type RequestMetric struct {
	Timestamp  time.Time     `json:"timestamp"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration"`
	TenantID   string        `json:"tenant_id"`
}

type endpointStats struct {
	mu            sync.Mutex
	Path          string
	TotalRequests int64
	TotalErrors   int64
	TotalDuration int64 // nanoseconds
	StatusCounts  map[int]int64
}

type tenantStats struct {
	TotalRequests int64
	TotalErrors   int64
}

// Collector aggregates request metrics.
type Collector struct {
	mu        sync.RWMutex
	endpoints map[string]*endpointStats
	tenants   map[string]*tenantStats
	total     int64
	errors    int64
	startedAt time.Time
}

func NewCollector() *Collector {
	return &Collector{
		endpoints: make(map[string]*endpointStats),
		tenants:   make(map[string]*tenantStats),
		startedAt: time.Now().UTC(),
	}
}

// Record ingests one request metric.
func (c *Collector) Record(m RequestMetric) {
	atomic.AddInt64(&c.total, 1)
	isError := m.StatusCode >= 400
	if isError {
		atomic.AddInt64(&c.errors, 1)
	}

	key := m.Method + " " + m.Path

	c.mu.Lock()
	ep, ok := c.endpoints[key]
	if !ok {
		ep = &endpointStats{Path: key, StatusCounts: make(map[int]int64)}
		c.endpoints[key] = ep
	}
	tn, ok := c.tenants[m.TenantID]
	if !ok {
		tn = &tenantStats{}
		c.tenants[m.TenantID] = tn
	}
	c.mu.Unlock()

	ep.mu.Lock()
	ep.TotalRequests++
	ep.TotalDuration += int64(m.Duration)
	ep.StatusCounts[m.StatusCode]++
	if isError {
		ep.TotalErrors++
	}
	ep.mu.Unlock()

	atomic.AddInt64(&tn.TotalRequests, 1)
	if isError {
		atomic.AddInt64(&tn.TotalErrors, 1)
	}
}

// EndpointSummary is the reported view of one endpoint's counters.
type EndpointSummary struct {
	Path          string        `json:"path"`
	TotalRequests int64         `json:"total_requests"`
	TotalErrors   int64         `json:"total_errors"`
	AvgDurationMS float64       `json:"avg_duration_ms"`
	StatusCounts  map[int]int64 `json:"status_counts"`
}

// TenantSummary is the reported view of one tenant's counters.
type TenantSummary struct {
	TenantID      string `json:"tenant_id"`
	TotalRequests int64  `json:"total_requests"`
	TotalErrors   int64  `json:"total_errors"`
}

// Summary is the full stats report.
type Summary struct {
	StartedAt     time.Time         `json:"started_at"`
	TotalRequests int64             `json:"total_requests"`
	TotalErrors   int64             `json:"total_errors"`
	Endpoints     []EndpointSummary `json:"endpoints"`
	Tenants       []TenantSummary   `json:"tenants"`
}

// Summarize returns a point-in-time snapshot, endpoints ordered by volume.
func (c *Collector) Summarize() Summary {
	s := Summary{
		StartedAt:     c.startedAt,
		TotalRequests: atomic.LoadInt64(&c.total),
		TotalErrors:   atomic.LoadInt64(&c.errors),
	}

	c.mu.RLock()
	for _, ep := range c.endpoints {
		ep.mu.Lock()
		es := EndpointSummary{
			Path:          ep.Path,
			TotalRequests: ep.TotalRequests,
			TotalErrors:   ep.TotalErrors,
			StatusCounts:  make(map[int]int64, len(ep.StatusCounts)),
		}
		for code, n := range ep.StatusCounts {
			es.StatusCounts[code] = n
		}
		if ep.TotalRequests > 0 {
			es.AvgDurationMS = float64(ep.TotalDuration) / float64(ep.TotalRequests) / float64(time.Millisecond)
		}
		ep.mu.Unlock()
		s.Endpoints = append(s.Endpoints, es)
	}
	for id, tn := range c.tenants {
		s.Tenants = append(s.Tenants, TenantSummary{
			TenantID:      id,
			TotalRequests: atomic.LoadInt64(&tn.TotalRequests),
			TotalErrors:   atomic.LoadInt64(&tn.TotalErrors),
		})
	}
	c.mu.RUnlock()

	sort.Slice(s.Endpoints, func(i, j int) bool {
		return s.Endpoints[i].TotalRequests > s.Endpoints[j].TotalRequests
	})
	sort.Slice(s.Tenants, func(i, j int) bool {
		return s.Tenants[i].TenantID < s.Tenants[j].TenantID
	})
	return s
}

// Middleware records a metric for every request passing through.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			start := time.Now()
			err := next(ec)

			status := ec.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			c.Record(RequestMetric{
				Timestamp:  start,
				Method:     ec.Request().Method,
				Path:       ec.Path(),
				StatusCode: status,
				Duration:   time.Since(start),
				TenantID:   db.TenantFromContext(ec.Request().Context()),
			})
			return err
		}
	}
}

// RegisterRoutes exposes the stats snapshot to practice staff.
func (c *Collector) RegisterRoutes(api *echo.Group) {
	g := api.Group("/analytics", auth.RequireRole("owner", "staff"))
	g.GET("/usage", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, c.Summarize())
	})
}
