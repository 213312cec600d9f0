package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"stockpulse/pkg/logger"
)

// subscriber is one WebSocket client. Gorilla connections allow only a
// single concurrent writer, so every write goes through the per-connection
// mutex; concurrent Notify calls for the same task serialize here.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub pushes progress updates to WebSocket subscribers. Each client
// subscribes to one task id; updates for other tasks are not delivered to it.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*subscriber]struct{}
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.Get().With("component", "ws_hub"),
	}
}

// Notify broadcasts an update to the task's subscribers, best effort.
// A dead connection is dropped on its first failed write.
func (h *Hub) Notify(ctx context.Context, update Update) {
	data, err := json.Marshal(update)
	if err != nil {
		h.log.Warnf("Failed to marshal progress update: %v", err)
		return
	}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs[update.TaskID]))
	for sub := range h.subs[update.TaskID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.write(data); err != nil {
			h.log.Debugw("Dropping dead subscriber", "task_id", update.TaskID, "error", err)
			h.remove(update.TaskID, sub)
			_ = sub.conn.Close()
		}
	}
}

// ServeHTTP upgrades the connection and subscribes it to the task id from the
// query string. The read loop only watches for the client going away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		http.Error(w, "missing task_id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	sub := &subscriber{conn: conn}
	h.add(taskID, sub)
	h.log.Debugw("Subscriber connected", "task_id", taskID)

	go func() {
		defer func() {
			h.remove(taskID, sub)
			_ = conn.Close()
			h.log.Debugw("Subscriber disconnected", "task_id", taskID)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) add(taskID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[taskID] == nil {
		h.subs[taskID] = make(map[*subscriber]struct{})
	}
	h.subs[taskID][sub] = struct{}{}
}

func (h *Hub) remove(taskID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subs[taskID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, taskID)
		}
	}
}
