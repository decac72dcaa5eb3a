package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func newTestClient(id string, topics ...string) *Client {
	return &Client{
		ID:     id,
		Topics: topics,
		Send:   make(chan []byte, 256),
	}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := newTestHub()
	client := newTestClient("c-1", SessionTopic("sess-1"))

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(SessionTopic("sess-1")) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount(SessionTopic("sess-1")))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}

	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel closed after unregister")
	}
}

func TestHub_BroadcastToSessionTopic(t *testing.T) {
	hub := newTestHub()

	subscriber := newTestClient("sub-1", SessionTopic("sess-1"))
	other := newTestClient("sub-2", SessionTopic("sess-2"))
	hub.Register(subscriber)
	hub.Register(other)

	event := Event{
		Type:      "patient_waiting",
		Topic:     SessionTopic("sess-1"),
		SessionID: "sess-1",
		Timestamp: time.Now(),
	}
	hub.Broadcast(SessionTopic("sess-1"), event)

	select {
	case msg := <-subscriber.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if received.Type != "patient_waiting" || received.SessionID != "sess-1" {
			t.Fatalf("unexpected event: %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-other.Send:
		t.Fatal("client on a different session should not receive the event")
	default:
	}
}

func TestHub_BroadcastPreservesOrder(t *testing.T) {
	hub := newTestHub()
	client := newTestClient("order-1", SessionTopic("sess-1"))
	hub.Register(client)

	types := []string{"patient_waiting", "patient_admitted", "joined", "left"}
	for _, typ := range types {
		hub.Broadcast(SessionTopic("sess-1"), Event{
			Type:      typ,
			Topic:     SessionTopic("sess-1"),
			SessionID: "sess-1",
			Timestamp: time.Now(),
		})
	}

	for _, want := range types {
		select {
		case msg := <-client.Send:
			var received Event
			if err := json.Unmarshal(msg, &received); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if received.Type != want {
				t.Fatalf("expected %s, got %s", want, received.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %s", want)
		}
	}
}

func TestHub_Publish(t *testing.T) {
	hub := newTestHub()
	client := newTestClient("pub-1", SessionTopic("sess-1"))
	hub.Register(client)

	var publisher EventPublisher = hub
	event := Event{
		Type:      "session_ended",
		Topic:     SessionTopic("sess-1"),
		SessionID: "sess-1",
		Timestamp: time.Now(),
	}
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-client.Send:
	case <-time.After(time.Second):
		t.Fatal("did not receive published event")
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := newTestHub()
	client := newTestClient("dyn-1")
	hub.Register(client)

	hub.Subscribe(client, []string{SessionTopic("sess-1"), SessionTopic("sess-2")})
	if hub.TopicCount(SessionTopic("sess-1")) != 1 || hub.TopicCount(SessionTopic("sess-2")) != 1 {
		t.Fatal("expected client subscribed to both sessions")
	}

	hub.Unsubscribe(client, []string{SessionTopic("sess-1")})
	if hub.TopicCount(SessionTopic("sess-1")) != 0 {
		t.Fatal("expected no subscribers after unsubscribe")
	}
	if hub.TopicCount(SessionTopic("sess-2")) != 1 {
		t.Fatal("expected remaining subscription intact")
	}
	if len(client.Topics) != 1 {
		t.Fatalf("expected 1 topic on client, got %d", len(client.Topics))
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	const n = 100

	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = newTestClient("concurrent", SessionTopic("sess-1"))
	}

	var wg sync.WaitGroup
	wg.Add(n * 2)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			hub.Register(clients[idx])
		}(i)
		go func(idx int) {
			defer wg.Done()
			hub.Unregister(clients[idx])
		}(i)
	}
	wg.Wait()

	if hub.ClientCount() < 0 {
		t.Fatalf("negative client count: %d", hub.ClientCount())
	}
}

func TestHandler_ConnectAndReceive(t *testing.T) {
	hub := newTestHub()
	handler := NewHandler(hub, nil)

	e := echo.New()
	handler.RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/sess-1/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	// The connecting goroutine registers asynchronously.
	deadline := time.Now().Add(time.Second)
	for hub.TopicCount(SessionTopic("sess-1")) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.TopicCount(SessionTopic("sess-1")) != 1 {
		t.Fatal("client never subscribed to its session topic")
	}

	hub.Broadcast(SessionTopic("sess-1"), Event{
		Type:      "patient_admitted",
		Topic:     SessionTopic("sess-1"),
		SessionID: "sess-1",
		Timestamp: time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if received.Type != "patient_admitted" {
		t.Fatalf("expected patient_admitted, got %s", received.Type)
	}
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	hub := newTestHub()
	handler := NewHandler(hub, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-1/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("sess-1")

	if err := handler.HandleConnect(c); err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestHandler_RejectsNonParticipant(t *testing.T) {
	hub := newTestHub()
	handler := NewHandler(hub, func(_ context.Context, sessionID, _ string) error {
		return fmt.Errorf("uid is not a participant of %s", sessionID)
	})

	e := echo.New()
	handler.RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/sess-1/ws"
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 before upgrade, got %+v", resp)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("rejected caller must not be registered, count=%d", hub.ClientCount())
	}
}

func TestHandler_SubscribeCannotHopSessions(t *testing.T) {
	hub := newTestHub()
	handler := NewHandler(hub, func(_ context.Context, sessionID, _ string) error {
		if sessionID != "sess-1" {
			return fmt.Errorf("not a participant of %s", sessionID)
		}
		return nil
	})

	e := echo.New()
	handler.RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/sess-1/ws"
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount(SessionTopic("sess-1")) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	msg := ClientMessage{Action: "subscribe", Topics: []string{SessionTopic("sess-2")}}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := hub.TopicCount(SessionTopic("sess-2")); n != 0 {
		t.Errorf("expected foreign session subscription to be dropped, count=%d", n)
	}
	if n := hub.TopicCount(SessionTopic("sess-1")); n != 1 {
		t.Errorf("expected own session subscription to survive, count=%d", n)
	}
}
