package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestHub() *Hub {
	return NewHub(zerolog.New(io.Discard))
}

func newTestClient(hub *Hub, topics ...string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		Topics: topics,
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := newTestHub()
	caseID := uuid.New()
	client := newTestClient(hub, CaseTopic(caseID))

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(CaseTopic(caseID)) != 1 {
		t.Fatalf("expected 1 subscriber on case topic, got %d", hub.TopicCount(CaseTopic(caseID)))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount(CaseTopic(caseID)) != 0 {
		t.Fatalf("expected 0 subscribers after unregister, got %d", hub.TopicCount(CaseTopic(caseID)))
	}
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := newTestHub()
	caseID := uuid.New()
	otherID := uuid.New()

	subscriber := newTestClient(hub, CaseTopic(caseID))
	nonSubscriber := newTestClient(hub, CaseTopic(otherID))
	hub.Register(subscriber)
	hub.Register(nonSubscriber)

	event := Event{
		Type:      "case.status_changed",
		Topic:     CaseTopic(caseID),
		CaseID:    caseID.String(),
		Status:    "dispatched",
		Timestamp: time.Now().UTC(),
	}
	hub.Broadcast(CaseTopic(caseID), event)

	select {
	case data := <-subscriber.Send:
		var got Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshaling event: %v", err)
		}
		if got.Status != "dispatched" {
			t.Errorf("status = %s, want dispatched", got.Status)
		}
	default:
		t.Fatal("subscriber should have received the event")
	}

	select {
	case <-nonSubscriber.Send:
		t.Fatal("non-subscriber should not receive the event")
	default:
	}
}

func TestHub_PublishReachesGlobalFeed(t *testing.T) {
	hub := newTestHub()
	caseID := uuid.New()

	console := newTestClient(hub, TopicAllCases)
	tablet := newTestClient(hub, CaseTopic(caseID))
	hub.Register(console)
	hub.Register(tablet)

	event := Event{
		Type:   "case.escalated",
		Topic:  CaseTopic(caseID),
		CaseID: caseID.String(),
		Status: "escalation_required",
	}
	if err := hub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for name, client := range map[string]*Client{"console": console, "tablet": tablet} {
		select {
		case <-client.Send:
		default:
			t.Errorf("%s should have received the event", name)
		}
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub)
	hub.Register(client)

	caseID := uuid.New()
	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{CaseTopic(caseID)}})
	if hub.TopicCount(CaseTopic(caseID)) != 1 {
		t.Fatal("expected subscription after subscribe message")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{CaseTopic(caseID)}})
	if hub.TopicCount(CaseTopic(caseID)) != 0 {
		t.Fatal("expected no subscription after unsubscribe message")
	}
}

func TestHandler_UpgradeAndReceive(t *testing.T) {
	hub := newTestHub()
	handler := NewHandler(hub)

	e := echo.New()
	e.GET("/ws", handler.HandleConnect)
	srv := httptest.NewServer(e)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	caseID := uuid.New()
	sub := ClientMessage{Action: "subscribe", Topics: []string{CaseTopic(caseID)}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("sending subscribe: %v", err)
	}

	// Wait for the subscription to land before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(CaseTopic(caseID)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(CaseTopic(caseID), Event{
		Type:   "case.status_changed",
		Topic:  CaseTopic(caseID),
		CaseID: caseID.String(),
		Status: "enroute",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if got.Status != "enroute" {
		t.Errorf("status = %s, want enroute", got.Status)
	}
}
