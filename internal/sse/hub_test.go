package sse

import (
	"testing"
	"time"

	"github.com/kestrelworks/infograph-backend/internal/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	return log
}

func recvMessage(t *testing.T, ch <-chan SSEMessage, timeout time.Duration) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func TestSSEHubOrderingAndClose(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))

	client := hub.NewSSEClient()
	hub.AddChannel(client, ChannelSession)

	first := SSEMessage{Channel: ChannelSession, Event: SSEEventSessionStageChanged, Data: map[string]any{"stage": "researching"}}
	second := SSEMessage{Channel: ChannelSession, Event: SSEEventSessionFactsGathered, Data: []string{"fact"}}
	hub.Broadcast(first)
	hub.Broadcast(second)

	gotFirst := recvMessage(t, client.Outbound, time.Second)
	gotSecond := recvMessage(t, client.Outbound, time.Second)
	if gotFirst.Event != SSEEventSessionStageChanged {
		t.Fatalf("first event: want=%s got=%s", SSEEventSessionStageChanged, gotFirst.Event)
	}
	if gotSecond.Event != SSEEventSessionFactsGathered {
		t.Fatalf("second event: want=%s got=%s", SSEEventSessionFactsGathered, gotSecond.Event)
	}

	hub.CloseClient(client)
	select {
	case _, ok := <-client.Outbound:
		if ok {
			t.Fatalf("outbound should be closed after disconnect")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for channel close")
	}
}

func TestSSEHubChannelIsolation(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))

	subscribed := hub.NewSSEClient()
	hub.AddChannel(subscribed, ChannelSession)
	other := hub.NewSSEClient()
	hub.AddChannel(other, "unrelated")

	hub.Broadcast(SSEMessage{Channel: ChannelSession, Event: SSEEventLibraryChanged})

	recvMessage(t, subscribed.Outbound, time.Second)
	select {
	case msg := <-other.Outbound:
		t.Fatalf("client on another channel received %v", msg)
	case <-time.After(100 * time.Millisecond):
	}

	hub.CloseClient(subscribed)
	hub.CloseClient(other)
}

func TestSSEHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))

	client := hub.NewSSEClient()
	hub.AddChannel(client, ChannelSession)
	hub.RemoveChannel(client, ChannelSession)

	hub.Broadcast(SSEMessage{Channel: ChannelSession, Event: SSEEventSessionFailed})
	select {
	case msg := <-client.Outbound:
		t.Fatalf("unsubscribed client received %v", msg)
	case <-time.After(100 * time.Millisecond):
	}

	hub.CloseClient(client)
}
