package events

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wire message types sent to WebSocket clients.
const (
	MsgStepUpdate = "step_update"
	MsgCheckpoint = "checkpoint"
	MsgError      = "error"
	MsgComplete   = "complete"
	MsgPong       = "pong"
)

// Message is one frame sent to a watcher.
type Message struct {
	Type    string         `json:"type"`
	RunID   string         `json:"run_id,omitempty"`
	Step    string         `json:"step,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at,omitempty"`
}

// messageType maps bus event kinds onto the client-facing frame types.
func messageType(k Kind) string {
	switch k {
	case CheckpointReached:
		return MsgCheckpoint
	case WorkflowFailed:
		return MsgError
	case WorkflowCompleted, WorkflowCancelled:
		return MsgComplete
	default:
		return MsgStepUpdate
	}
}

const writeTimeout = 10 * time.Second

// Hub fans frames out to WebSocket connections keyed by run id. Dead
// connections are dropped on the next broadcast to their run.
type Hub struct {
	mu     sync.Mutex
	conns  map[string][]*wsConn
	logger *zap.Logger
}

type wsConn struct {
	conn *websocket.Conn
	// writeMu serialises writes; the pong responder and broadcasts share
	// the connection.
	writeMu sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{conns: make(map[string][]*wsConn), logger: logger}
}

// Serve attaches a connection to a run and blocks reading client frames
// until the connection dies. A client text frame "ping" is answered with a
// pong message.
func (h *Hub) Serve(runID string, conn *websocket.Conn) {
	c := &wsConn{conn: conn}
	h.mu.Lock()
	h.conns[runID] = append(h.conns[runID], c)
	h.mu.Unlock()

	defer func() {
		h.remove(runID, c)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(data) == "ping" {
			if err := c.writeJSON(Message{Type: MsgPong}); err != nil {
				return
			}
		}
	}
}

// Broadcast sends the message to every connection watching the run,
// reaping connections whose write fails.
func (h *Hub) Broadcast(runID string, msg Message) {
	h.mu.Lock()
	conns := append([]*wsConn(nil), h.conns[runID]...)
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.writeJSON(msg); err != nil {
			h.logger.Debug("dropping dead websocket",
				zap.String("run_id", runID), zap.Error(err))
			h.remove(runID, c)
			c.conn.Close()
		}
	}
}

// Watchers reports how many connections follow the run.
func (h *Hub) Watchers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[runID])
}

func (h *Hub) remove(runID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.conns[runID]
	for i, other := range list {
		if other == c {
			h.conns[runID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(h.conns[runID]) == 0 {
		delete(h.conns, runID)
	}
}

// Bridge returns a bus handler that mirrors every event to the hub.
func Bridge(hub *Hub) Handler {
	return func(e Event) {
		hub.Broadcast(e.RunID, Message{
			Type:    messageType(e.Kind),
			RunID:   e.RunID,
			Step:    e.Step,
			Payload: e.Payload,
			At:      e.At,
		})
	}
}
