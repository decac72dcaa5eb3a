// Package webhook delivers session lifecycle events to registered HTTP
// endpoints. Deliveries are signed with HMAC-SHA256, retried once on failure,
// and logged per attempt.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/auth"
)

// Event types emitted by the session coordinator.
const (
	EventSessionReady     = "session.ready"
	EventSessionEnded     = "session.ended"
	EventRecordingStarted = "session.recording.started"
)

// Endpoint is a registered webhook destination.
type Endpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *Endpoint) subscribedTo(eventType string) bool {
	for _, ev := range e.Events {
		if ev == eventType || ev == "*" {
			return true
		}
	}
	return false
}

// Event is one occurrence to fan out.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Delivery records one attempt against one endpoint.
type Delivery struct {
	ID         string    `json:"id"`
	EndpointID string    `json:"endpoint_id"`
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	StatusCode int       `json:"status_code"`
	Attempt    int       `json:"attempt"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	maxAttempts    = 2
	deliverTimeout = 10 * time.Second
	maxDeliveryLog = 1000
)

// Manager holds the endpoint registry and delivery log.
type Manager struct {
	mu         sync.RWMutex
	endpoints  map[string]*Endpoint
	deliveries []Delivery
	client     *http.Client
	logger     zerolog.Logger
}

func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		endpoints: make(map[string]*Endpoint),
		client:    &http.Client{Timeout: deliverTimeout},
		logger:    logger.With().Str("component", "webhook").Logger(),
	}
}

// RegisterEndpoint validates and stores a destination. A missing secret gets
// a generated one, returned exactly once in the response.
func (m *Manager) RegisterEndpoint(rawURL, secret string, events []string) (*Endpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url: %q", rawURL)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("at least one event type is required")
	}
	for _, ev := range events {
		if ev != "*" && !strings.HasPrefix(ev, "session.") {
			return nil, fmt.Errorf("unknown event type: %q", ev)
		}
	}
	if secret == "" {
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate webhook secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
	}

	ep := &Endpoint{
		ID:        uuid.New().String(),
		URL:       rawURL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.endpoints[ep.ID] = ep
	m.mu.Unlock()
	return ep, nil
}

// RemoveEndpoint deletes a destination. Returns false when unknown.
func (m *Manager) RemoveEndpoint(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[id]; !ok {
		return false
	}
	delete(m.endpoints, id)
	return true
}

// Endpoints lists registered destinations with secrets redacted.
func (m *Manager) Endpoints() []*Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		cp := *ep
		cp.Secret = ""
		out = append(out, &cp)
	}
	return out
}

// Deliveries returns the recent delivery log, newest first.
func (m *Manager) Deliveries() []Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Dispatch fans an event out to every subscribed endpoint. Delivery is
// best-effort and asynchronous; failures never reach the caller.
func (m *Manager) Dispatch(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	m.mu.RLock()
	var targets []*Endpoint
	for _, ep := range m.endpoints {
		if ep.Active && ep.subscribedTo(event.Type) {
			cp := *ep
			targets = append(targets, &cp)
		}
	}
	m.mu.RUnlock()

	for _, ep := range targets {
		go m.deliver(ep, event)
	}
}

func (m *Manager) deliver(ep *Endpoint, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		m.logger.Error().Err(err).Str("event", event.ID).Msg("encode webhook event")
		return
	}
	signature := Sign(ep.Secret, body)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		status, err := m.post(ctx, ep.URL, body, signature)
		cancel()

		success := err == nil && status >= 200 && status < 300
		m.record(Delivery{
			ID:         uuid.New().String(),
			EndpointID: ep.ID,
			EventID:    event.ID,
			EventType:  event.Type,
			StatusCode: status,
			Attempt:    attempt,
			Success:    success,
			Error:      errString(err),
			CreatedAt:  time.Now().UTC(),
		})
		if success {
			return
		}
		m.logger.Warn().
			Str("endpoint", ep.ID).
			Str("event", event.ID).
			Int("attempt", attempt).
			Int("status", status).
			Err(err).
			Msg("webhook delivery failed")
		if attempt < maxAttempts {
			time.Sleep(time.Second)
		}
	}
}

func (m *Manager) post(ctx context.Context, rawURL string, body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Telecare-Signature", signature)

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (m *Manager) record(d Delivery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
	if len(m.deliveries) > maxDeliveryLog {
		m.deliveries = m.deliveries[len(m.deliveries)-maxDeliveryLog:]
	}
}

// Sign computes the hex HMAC-SHA256 of the payload under the endpoint secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether a received signature matches the payload.
func VerifySignature(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Handler exposes webhook management endpoints.
type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/webhooks", auth.RequireRole("owner", "staff"))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.DELETE("/:id", h.Delete)
	g.GET("/deliveries", h.ListDeliveries)
}

type createRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret,omitempty"`
	Events []string `json:"events"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ep, err := h.mgr.RegisterEndpoint(req.URL, req.Secret, req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mgr.Endpoints())
}

func (h *Handler) Delete(c echo.Context) error {
	if !h.mgr.RemoveEndpoint(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "webhook not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListDeliveries(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mgr.Deliveries())
}
