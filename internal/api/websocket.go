package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/filedrop/backend/internal/logging"
	"github.com/filedrop/backend/internal/models"
	"github.com/filedrop/backend/internal/staging"
	"github.com/filedrop/backend/internal/upload"
)

// WebSocket message types for the staging protocol
const (
	// Client -> Server messages
	MsgTypeStagingAdd    = "staging:add"
	MsgTypeStagingRemove = "staging:remove"
	MsgTypePing          = "ping"

	// Server -> Client messages
	MsgTypeConnected    = "connected"
	MsgTypeStagingState = "staging:state"
	MsgTypeError        = "error"
	MsgTypePong         = "pong"
)

const wsWriteWait = 10 * time.Second

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// StagingAddPayload carries a dropped batch inline
type StagingAddPayload struct {
	Files []upload.FilePayload `json:"files"`
}

// StagingRemovePayload names the files to remove
type StagingRemovePayload struct {
	Name string `json:"name"`
}

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler serves the per-widget staging channel
type WebSocketHandler struct {
	staging        *StagingHandlerImpl
	upgrader       websocket.Upgrader
	maxMessageSize int64
	logger         *log.Logger
}

// wsConn serializes writes. Selection states go through a single writer
// goroutine so observers never block on the network.
type wsConn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	logger *log.Logger

	stateMu sync.Mutex
	pending *models.Selection
	sent    models.Selection
	hasSent bool
	wake    chan struct{}
	done    chan struct{}
}

func newWSConn(ws *websocket.Conn, logger *log.Logger) *wsConn {
	return &wsConn{
		ws:     ws,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// NewWebSocketHandler creates a new WebSocket staging handler.
// maxMessageSize <= 0 leaves the read limit unset.
func NewWebSocketHandler(h *StagingHandlerImpl, maxMessageSize int64) *WebSocketHandler {
	return &WebSocketHandler{
		staging: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		maxMessageSize: maxMessageSize,
		logger:         logging.New("ws"),
	}
}

// HandleWebSocket upgrades the connection and streams the widget's
// selection: once on connect and after every change.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	id := c.Param("id")
	store, ok := wsh.staging.widgets.Get(id)
	if !ok {
		return NewNotFoundError("widget", id)
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	// The server's request read timeout still applies to the hijacked conn.
	ws.SetReadDeadline(time.Time{})
	if wsh.maxMessageSize > 0 {
		ws.SetReadLimit(wsh.maxMessageSize)
	}

	conn := newWSConn(ws, wsh.logger)

	wsh.logger.Debugf("client connected to widget %s", id)
	conn.send(WSMessage{Type: MsgTypeConnected, ID: id, Timestamp: time.Now().UnixMilli()})

	unsubscribe := store.Subscribe(conn.pushState)
	defer unsubscribe()

	go conn.writeStates()
	defer conn.close()
	conn.pushState(store.Snapshot())

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsh.logger.Warnf("connection error on widget %s: %v", id, err)
			}
			break
		}

		if store.Closed() {
			conn.sendError(msg.ID, "Widget has been closed", "WIDGET_CLOSED")
			break
		}
		wsh.staging.widgets.Touch(id)

		switch msg.Type {
		case MsgTypePing:
			conn.send(WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()})
		case MsgTypeStagingAdd:
			wsh.handleAdd(conn, id, store, msg)
		case MsgTypeStagingRemove:
			wsh.handleRemove(conn, store, msg)
		default:
			conn.sendError(msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	wsh.logger.Debugf("client disconnected from widget %s", id)
	return nil
}

// handleAdd stores an inline batch and stages it. The resulting state
// reaches the client through the store subscription.
func (wsh *WebSocketHandler) handleAdd(conn *wsConn, id string, store *staging.Store, msg WSMessage) {
	var payload StagingAddPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		conn.sendError(msg.ID, "Invalid add payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}

	batch, err := wsh.staging.intake.FromPayloads(payload.Files)
	if err != nil {
		apiErr := intakeError(err)
		message := apiErr.Message
		if apiErr.Details != "" {
			message += ": " + apiErr.Details
		}
		conn.sendError(msg.ID, message, apiErr.Code)
		return
	}

	wsh.staging.stage(id, store, batch)
}

// handleRemove removes by name. A name that matches nothing changes nothing,
// so the current state is echoed back instead.
func (wsh *WebSocketHandler) handleRemove(conn *wsConn, store *staging.Store, msg WSMessage) {
	var payload StagingRemovePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		conn.sendError(msg.ID, "Invalid remove payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}
	if payload.Name == "" {
		conn.sendError(msg.ID, "validation failed for field: name", "VALIDATION_ERROR")
		return
	}

	sel, removed := store.RemoveFileN(payload.Name)
	if removed == 0 {
		conn.sendState(msg.ID, sel)
	}
}

func (c *wsConn) send(msg WSMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.logger.Debugf("failed to send %s: %v", msg.Type, err)
	}
}

// pushState queues sel for the writer goroutine. Only the newest pending
// snapshot is kept, and nothing older than what was already sent goes out.
func (c *wsConn) pushState(sel models.Selection) {
	c.stateMu.Lock()
	stale := (c.hasSent && !sel.NewerThan(c.sent)) ||
		(c.pending != nil && !sel.NewerThan(*c.pending))
	if !stale {
		c.pending = &sel
	}
	c.stateMu.Unlock()

	if stale {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// takePending hands the queued snapshot to the writer and records it as sent.
func (c *wsConn) takePending() (models.Selection, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.pending == nil {
		return models.Selection{}, false
	}
	sel := *c.pending
	c.pending = nil
	c.sent = sel
	c.hasSent = true
	return sel, true
}

func (c *wsConn) writeStates() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		if sel, ok := c.takePending(); ok {
			c.sendState("", sel)
		}
	}
}

func (c *wsConn) close() {
	close(c.done)
}

func (c *wsConn) sendState(id string, sel models.Selection) {
	c.send(WSMessage{
		Type:      MsgTypeStagingState,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Payload:   mustJSON(sel),
	})
}

func (c *wsConn) sendError(id, message, code string) {
	c.send(WSMessage{
		Type:      MsgTypeError,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Payload: mustJSON(WSErrorResponse{
			Type:    MsgTypeError,
			Message: message,
			Code:    code,
		}),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
