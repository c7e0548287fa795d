package handlers

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/vibetree/vibetree/internal/events"
	"github.com/vibetree/vibetree/internal/logger"
	"github.com/vibetree/vibetree/internal/pty"
)

// wsConn serializes writes to one websocket connection. gorilla-style conns
// allow a single concurrent writer; the bus and the PTY reader both push.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) Send(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.Send(data)
}

// WSHandler serves the two stream endpoints: the main event bus and the
// per-PTY byte pipe.
type WSHandler struct {
	bus  *events.Bus
	ptys *pty.Manager
}

// NewWSHandler creates a websocket handler.
func NewWSHandler(bus *events.Bus, ptys *pty.Manager) *WSHandler {
	return &WSHandler{bus: bus, ptys: ptys}
}

// RegisterRoutes registers the stream endpoints on the app root.
func (h *WSHandler) RegisterRoutes(app fiber.Router) {
	upgrade := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
	app.Get("/ws", upgrade, websocket.New(h.handleBus))
	app.Get("/ws/term", upgrade, websocket.New(h.handleTerm))
}

// handleBus subscribes the client to the event bus. The first client frame
// is {type:"subscribe", repoId}; everything after it is ignored but keeps
// the connection (and its read side) alive.
func (h *WSHandler) handleBus(conn *websocket.Conn) {
	w := &wsConn{conn: conn}

	var sub struct {
		Type   string `json:"type"`
		RepoID string `json:"repoId"`
	}
	if _, msg, err := conn.ReadMessage(); err != nil {
		return
	} else if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != "subscribe" {
		_ = w.sendJSON(fiber.Map{"type": "error", "error": "expected a subscribe message"})
		return
	}

	unsubscribe := h.bus.Subscribe(w, sub.RepoID)
	defer unsubscribe()

	_ = w.sendJSON(fiber.Map{"type": "subscribed", "repoId": sub.RepoID})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// termFrame is the wire shape of both directions on /ws/term. Data in
// server "data" frames is base64: PTY chunks can split a UTF-8 rune, which
// a JSON string cannot carry. Client "input" frames stay plain text.
type termFrame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Code int    `json:"code,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// termData encodes raw PTY bytes for a data frame.
func termData(chunk []byte) string {
	return base64.StdEncoding.EncodeToString(chunk)
}

// handleTerm pipes one PTY session. On open the full ring buffer goes out
// as a single data frame so a reconnecting client repaints its terminal,
// then live chunks stream as they arrive. Closing the socket unsubscribes;
// the PTY keeps running.
func (h *WSHandler) handleTerm(conn *websocket.Conn) {
	sessionID := conn.Query("sessionId")
	w := &wsConn{conn: conn}

	// Snapshot and subscription are atomic in the manager, and holding the
	// writer lock until the replay frame is on the socket keeps live chunks
	// queued behind it.
	w.mu.Lock()
	buffer, unsubData, ok := h.ptys.OnDataWithReplay(sessionID, func(chunk []byte) {
		if err := w.sendJSON(termFrame{Type: "data", Data: termData(chunk)}); err != nil {
			logger.Debugf("ws/term %s: dropped data frame: %v", sessionID, err)
		}
	})
	if !ok {
		w.mu.Unlock()
		_ = w.sendJSON(termFrame{Type: "error", Data: "unknown session"})
		return
	}
	replay, err := json.Marshal(termFrame{Type: "data", Data: termData(buffer)})
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, replay)
	}
	w.mu.Unlock()
	if err != nil {
		unsubData()
		return
	}

	unsubExit, _ := h.ptys.OnExit(sessionID, func(code int) {
		_ = w.sendJSON(termFrame{Type: "exit", Code: code})
	})
	defer func() {
		unsubData()
		if unsubExit != nil {
			unsubExit()
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame termFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "input":
			h.ptys.Write(sessionID, []byte(frame.Data))
		case "resize":
			if frame.Cols > 0 && frame.Rows > 0 {
				h.ptys.Resize(sessionID, frame.Cols, frame.Rows)
			}
		}
	}
}
