// Package events pushes server-side signals to connected UIs over SSE:
// backend readiness transitions, setup progress, toast notifications, and
// freshly rendered analysis results.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Event names the UIs subscribe to.
const (
	TypeBackendReady   = "backend-ready"
	TypeBackendError   = "backend-error"
	TypeSetupProgress  = "setup-progress"
	TypeToast          = "toast"
	TypeAnalysisResult = "analysis-result"
)

const (
	// Maximum number of concurrent SSE connections allowed
	MaxConcurrentConnections = 1000
	// Buffer size for each client's message channel
	ClientChannelBuffer = 64
	// How often to send keep-alive messages
	KeepAliveInterval = 30 * time.Second
	// How often to cleanup dead connections
	CleanupInterval = 60 * time.Second
	// Buffer size for hub broadcast queue
	HubBroadcastBuffer = 512
)

// Event is one message fanned out to every connected client.
type Event struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type clientChan chan Event

type client struct {
	id           string
	channel      clientChan
	lastSeen     int64 // Unix timestamp
	remoteAddr   string
	connected    int64 // Unix timestamp when connected
	messagesSent int64
}

// Hub manages SSE client connections and event fan-out.
type Hub struct {
	clients           sync.Map // map[clientChan]*client
	activeCount       int64
	totalMessages     int64
	broadcast         chan Event
	droppedBroadcasts int64
	droppedClientMsgs int64
	rejectedConns     int64
	shutdown          chan struct{}
	shutdownOnce      sync.Once
}

// NewHub creates a hub and starts its background loops.
func NewHub() *Hub {
	h := &Hub{
		shutdown:  make(chan struct{}),
		broadcast: make(chan Event, HubBroadcastBuffer),
	}
	go h.runBroadcastLoop()
	go h.cleanupRoutine()
	return h
}

// Stats returns current connection statistics for the health endpoint.
func (h *Hub) Stats() map[string]interface{} {
	return map[string]interface{}{
		"active_connections":   atomic.LoadInt64(&h.activeCount),
		"total_messages":       atomic.LoadInt64(&h.totalMessages),
		"max_connections":      int64(MaxConcurrentConnections),
		"dropped_broadcasts":   atomic.LoadInt64(&h.droppedBroadcasts),
		"dropped_client_msgs":  atomic.LoadInt64(&h.droppedClientMsgs),
		"rejected_connections": atomic.LoadInt64(&h.rejectedConns),
	}
}

// Publish enqueues an event for fan-out without blocking the caller.
func (h *Hub) Publish(e Event) {
	select {
	case h.broadcast <- e:
		// dispatcher will fan out and account metrics
	default:
		// hub busy; drop to protect producers
		atomic.AddInt64(&h.droppedBroadcasts, 1)
	}
}

// PublishJSON marshals data and publishes it under the given event type.
func (h *Hub) PublishJSON(eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("events: failed to marshal %s payload: %v", eventType, err)
		return
	}
	h.Publish(Event{Type: eventType, Data: string(payload)})
}

type toastPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ToastSuccess pushes a success notification to every UI.
func (h *Hub) ToastSuccess(message string) {
	h.PublishJSON(TypeToast, toastPayload{Level: "success", Message: message})
}

// ToastError pushes a failure notification to every UI.
func (h *Hub) ToastError(message string) {
	h.PublishJSON(TypeToast, toastPayload{Level: "error", Message: message})
}

func (h *Hub) addClient(c clientChan, remoteAddr string) bool {
	if atomic.LoadInt64(&h.activeCount) >= MaxConcurrentConnections {
		atomic.AddInt64(&h.rejectedConns, 1)
		log.Printf("Connection limit reached (%d), rejecting client from %s", MaxConcurrentConnections, remoteAddr)
		return false
	}

	cl := &client{
		id:         fmt.Sprintf("%d-%s", time.Now().UnixNano(), remoteAddr),
		channel:    c,
		lastSeen:   time.Now().Unix(),
		remoteAddr: remoteAddr,
		connected:  time.Now().Unix(),
	}

	h.clients.Store(c, cl)
	atomic.AddInt64(&h.activeCount, 1)
	return true
}

func (h *Hub) removeClient(c clientChan) {
	if _, exists := h.clients.LoadAndDelete(c); exists {
		atomic.AddInt64(&h.activeCount, -1)

		// Drain any remaining messages before closing
		select {
		case <-c:
		default:
		}
		close(c)
	}
}

func (h *Hub) runBroadcastLoop() {
	for {
		select {
		case e := <-h.broadcast:
			h.clients.Range(func(key, value any) bool {
				c := key.(clientChan)
				cl := value.(*client)
				select {
				case c <- e:
					atomic.StoreInt64(&cl.lastSeen, time.Now().Unix())
					atomic.AddInt64(&cl.messagesSent, 1)
					atomic.AddInt64(&h.totalMessages, 1)
				default:
					// client queue full; drop this event for this client
					atomic.AddInt64(&h.droppedClientMsgs, 1)
				}
				return true
			})
		case <-h.shutdown:
			return
		}
	}
}

func (h *Hub) cleanupRoutine() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.cleanupStaleConnections()
		case <-h.shutdown:
			return
		}
	}
}

func (h *Hub) cleanupStaleConnections() {
	now := time.Now().Unix()
	staleThreshold := now - int64(CleanupInterval.Seconds()*2)

	var stale []clientChan
	h.clients.Range(func(key, value any) bool {
		c := key.(clientChan)
		cl := value.(*client)
		if atomic.LoadInt64(&cl.lastSeen) < staleThreshold {
			stale = append(stale, c)
		}
		return true
	})

	if len(stale) > 0 {
		log.Printf("Cleaning up %d stale SSE connections", len(stale))
		for _, c := range stale {
			h.removeClient(c)
		}
	}
}

// Shutdown gracefully closes every client connection and stops the hub.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		close(h.shutdown)
		h.clients.Range(func(key, value any) bool {
			h.removeClient(key.(clientChan))
			return true
		})
		log.Println("Event hub shutdown complete")
	})
}

// Handler serves the SSE endpoint.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")
	w.Header().Del("Content-Encoding")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	messageChan := make(clientChan, ClientChannelBuffer)
	if !h.addClient(messageChan, r.RemoteAddr) {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}
	defer h.removeClient(messageChan)

	ctx := r.Context()

	keepAliveTicker := time.NewTicker(KeepAliveInterval)
	defer keepAliveTicker.Stop()

	// Send initial connection confirmation
	if _, err := io.WriteString(w, "data: {\"type\":\"connected\"}\n\n"); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return

		case e := <-messageChan:
			if _, err := io.WriteString(w, formatSSE(e)); err != nil {
				return // Connection broken
			}
			flusher.Flush()

		case <-keepAliveTicker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return // Connection broken
			}
			flusher.Flush()
		}
	}
}

func formatSSE(e Event) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, e.Data)
}
