package events

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"
)

// TestStats verifies the stats map shape used by the health endpoint
func TestStats(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()

	stats := h.Stats()
	expectedKeys := []string{
		"active_connections",
		"total_messages",
		"max_connections",
		"dropped_broadcasts",
		"dropped_client_msgs",
		"rejected_connections",
	}
	for _, key := range expectedKeys {
		if _, ok := stats[key]; !ok {
			t.Errorf("Expected key %q not found in stats", key)
		}
	}
	if stats["max_connections"] != int64(MaxConcurrentConnections) {
		t.Errorf("max_connections = %v; want %d", stats["max_connections"], MaxConcurrentConnections)
	}
}

// TestAddRemoveClient tests client registration and removal
func TestAddRemoveClient(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()

	c := make(clientChan, ClientChannelBuffer)
	if !h.addClient(c, "127.0.0.1:12345") {
		t.Fatal("addClient() should succeed")
	}
	if got := atomic.LoadInt64(&h.activeCount); got != 1 {
		t.Errorf("activeCount = %d; want 1", got)
	}

	h.removeClient(c)
	if got := atomic.LoadInt64(&h.activeCount); got != 0 {
		t.Errorf("activeCount after remove = %d; want 0", got)
	}

	// Removing twice must be safe.
	h.removeClient(c)
}

// TestPublishDelivers verifies a published event reaches a connected client
func TestPublishDelivers(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()

	c := make(clientChan, ClientChannelBuffer)
	if !h.addClient(c, "127.0.0.1:1") {
		t.Fatal("addClient() should succeed")
	}
	defer h.removeClient(c)

	h.Publish(Event{Type: TypeBackendReady, Data: "{}"})

	select {
	case e := <-c:
		if e.Type != TypeBackendReady {
			t.Errorf("event type = %q; want %q", e.Type, TypeBackendReady)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

// TestToastPayloads verifies toast helpers carry level and message
func TestToastPayloads(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()

	c := make(clientChan, ClientChannelBuffer)
	if !h.addClient(c, "127.0.0.1:1") {
		t.Fatal("addClient() should succeed")
	}
	defer h.removeClient(c)

	h.ToastError("analysis failed")

	select {
	case e := <-c:
		if e.Type != TypeToast {
			t.Fatalf("event type = %q; want %q", e.Type, TypeToast)
		}
		var p toastPayload
		if err := json.Unmarshal([]byte(e.Data), &p); err != nil {
			t.Fatalf("toast payload is not JSON: %v", err)
		}
		if p.Level != "error" || p.Message != "analysis failed" {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("toast was not delivered")
	}
}

// TestFormatSSE verifies the wire format
func TestFormatSSE(t *testing.T) {
	got := formatSSE(Event{Type: "toast", Data: `{"level":"success"}`})
	want := "event: toast\ndata: {\"level\":\"success\"}\n\n"
	if got != want {
		t.Errorf("formatSSE() = %q; want %q", got, want)
	}
}
