package relay

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/satchelhq/satchel/internal/engine"
)

func testConfig() *Config {
	return &Config{
		Port:   0, // Use random available port
		Logger: log.New(io.Discard, "", 0),
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(testConfig())

	// Start server
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Check that server is listening
	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}

	// Stop server
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnection(t *testing.T) {
	server := NewServer(testConfig())

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	// Connect WebSocket client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.Addr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Verify client count
	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	// Read hello event
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read hello event: %v", err)
	}

	var event engine.Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}

	if event.Type != EventConnected {
		t.Errorf("Expected hello event type %s, got %s", EventConnected, event.Type)
	}
}

func TestEventBroadcast(t *testing.T) {
	server := NewServer(testConfig())

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.Addr() + "/ws"

	// Connect client
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Read hello event
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read hello event: %v", err)
	}

	// Broadcast a completed pass
	server.Broadcast(engine.Event{
		Type: engine.EventSyncCompleted,
		Result: &engine.Result{
			Success:      true,
			SyncedItems:  3,
			LastSyncTime: time.Now().UTC(),
		},
	})

	// Read broadcasted event
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast event: %v", err)
	}

	var received engine.Event
	if err := json.Unmarshal(data, &received); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}

	if received.Type != engine.EventSyncCompleted {
		t.Errorf("Expected event type %s, got %s", engine.EventSyncCompleted, received.Type)
	}
	if received.Time.IsZero() {
		t.Error("Expected relay to stamp the event time")
	}
	if received.Result == nil || received.Result.SyncedItems != 3 {
		t.Errorf("Result did not survive the broadcast: %+v", received.Result)
	}
}

func TestMultipleClientsReceiveEvents(t *testing.T) {
	server := NewServer(testConfig())

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.Addr() + "/ws"

	// Connect multiple clients
	numClients := 3
	clients := make([]*websocket.Conn, numClients)
	for i := 0; i < numClients; i++ {
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		clients[i] = conn

		// Read hello event
		if _, _, err := conn.Read(ctx); err != nil {
			t.Fatalf("Failed to read hello event for client %d: %v", i, err)
		}
	}

	// Verify client count
	if count := server.ClientCount(); count != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, count)
	}

	server.Broadcast(engine.Event{
		Type:      engine.EventConflict,
		EntityKey: "c1:m1",
	})

	// Every client sees the conflict
	for i, conn := range clients {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Failed to read event for client %d: %v", i, err)
		}

		var event engine.Event
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("Failed to unmarshal event for client %d: %v", i, err)
		}
		if event.Type != engine.EventConflict {
			t.Errorf("Client %d: expected type %s, got %s", i, engine.EventConflict, event.Type)
		}
		if event.EntityKey != "c1:m1" {
			t.Errorf("Client %d: EntityKey = %q, want %q", i, event.EntityKey, "c1:m1")
		}
	}
}

func TestBroadcast_DropsWhenFull(t *testing.T) {
	// Never started, so nothing drains the channel: capacity is
	// exhausted after 100 events and the rest must be dropped without
	// blocking the caller.
	server := NewServer(testConfig())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 150; i++ {
			server.Broadcast(engine.Event{Type: engine.EventSyncCompleted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full channel")
	}

	if n := len(server.broadcast); n != 100 {
		t.Errorf("buffered events = %d, want 100", n)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := NewServer(testConfig())

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("Failed to GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var health struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}

	if health.Status != "ok" {
		t.Errorf("Status = %q, want %q", health.Status, "ok")
	}
	if health.Clients != 0 {
		t.Errorf("Clients = %d, want 0", health.Clients)
	}
}
