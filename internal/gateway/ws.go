package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golemhq/golem/internal/events"
	"github.com/golemhq/golem/internal/store"
	"github.com/golemhq/golem/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsTickInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

// wsFrame is the wire envelope for both directions. Requests carry
// type "req" with a method; the server answers with "res" frames and
// pushes "event" frames carrying task events.
type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsSubscribeParams struct {
	TaskID   string `json:"task_id,omitempty"`
	AfterSeq int64  `json:"after_seq,omitempty"`
}

type wsUnsubscribeParams struct {
	TaskID string `json:"task_id,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// wsSession is one websocket connection. Subscriptions are keyed by
// task filter; the empty filter streams every task's events live.
type wsSession struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	seq    int64

	mu   sync.Mutex
	subs map[string]events.Subscriber
}

// handleWS upgrades the connection and serves subscribe/unsubscribe
// frames until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming disabled")
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	session := &wsSession{
		server: s,
		conn:   conn,
		send:   make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]events.Subscriber),
	}
	session.run()
}

func (ws *wsSession) run() {
	defer ws.close()
	go ws.writeLoop()
	go ws.tickLoop()
	ws.readLoop()
}

// close tears the session down: pumps exit when their subscriber
// channels close, the write loop exits on ctx.
func (ws *wsSession) close() {
	ws.cancel()
	ws.mu.Lock()
	for filter, sub := range ws.subs {
		ws.server.broker.Unsubscribe(sub)
		delete(ws.subs, filter)
	}
	ws.mu.Unlock()
	_ = ws.conn.Close()
}

func (ws *wsSession) readLoop() {
	ws.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = ws.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := ws.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := ws.decodeFrame(data)
		if err != nil {
			ws.sendError("", "invalid_frame", err.Error())
			continue
		}
		if err := ws.handleRequest(frame); err != nil {
			ws.sendError(frame.ID, "request_failed", err.Error())
		}
	}
}

func (ws *wsSession) writeLoop() {
	for {
		select {
		case <-ws.ctx.Done():
			return
		case msg := <-ws.send:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// tickLoop keeps idle connections alive through proxies. The control
// ping solicits the pong that extends the read deadline; WriteControl
// is safe alongside the write loop.
func (ws *wsSession) tickLoop() {
	ticker := time.NewTicker(wsTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ws.ctx.Done():
			return
		case <-ticker.C:
			_ = ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			_ = ws.sendEvent("tick", map[string]any{"timestamp": time.Now().UnixMilli()})
		}
	}
}

func (ws *wsSession) decodeFrame(raw []byte) (*wsFrame, error) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if frame.Type == "" {
		frame.Type = "req"
	}
	if frame.Type != "req" {
		return nil, fmt.Errorf("unsupported frame type %q", frame.Type)
	}
	if err := wsFrameValidator.validate(raw, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func (ws *wsSession) handleRequest(frame *wsFrame) error {
	switch frame.Method {
	case "subscribe":
		return ws.handleSubscribe(frame)
	case "unsubscribe":
		return ws.handleUnsubscribe(frame)
	case "ping":
		return ws.sendResponse(frame.ID, true, map[string]any{"timestamp": time.Now().UnixMilli()})
	default:
		return fmt.Errorf("unknown method %q", frame.Method)
	}
}

// handleSubscribe attaches the live feed first and replays history
// after, deduplicating on the event sequence so the client sees each
// event exactly once, in order.
func (ws *wsSession) handleSubscribe(frame *wsFrame) error {
	var params wsSubscribeParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
	}

	ws.mu.Lock()
	if _, exists := ws.subs[params.TaskID]; exists {
		ws.mu.Unlock()
		return fmt.Errorf("already subscribed to %s", filterName(params.TaskID))
	}
	ws.mu.Unlock()

	replayed := 0
	lastSeq := params.AfterSeq
	sub := ws.server.broker.Subscribe(params.TaskID)

	if params.TaskID != "" {
		history, err := ws.server.store.ListEvents(ws.ctx, params.TaskID, params.AfterSeq)
		if err != nil {
			ws.server.broker.Unsubscribe(sub)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("task not found: %s", params.TaskID)
			}
			return fmt.Errorf("event replay failed: %w", err)
		}
		for _, event := range history {
			ws.pushTaskEvent(params.TaskID, event)
			lastSeq = event.Seq
		}
		replayed = len(history)
	}

	ws.mu.Lock()
	ws.subs[params.TaskID] = sub
	ws.mu.Unlock()
	go ws.pump(sub, params.TaskID, lastSeq)

	return ws.sendResponse(frame.ID, true, map[string]any{
		"subscribed": filterName(params.TaskID),
		"replayed":   replayed,
	})
}

func (ws *wsSession) handleUnsubscribe(frame *wsFrame) error {
	var params wsUnsubscribeParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
	}

	ws.mu.Lock()
	sub, ok := ws.subs[params.TaskID]
	if ok {
		delete(ws.subs, params.TaskID)
	}
	ws.mu.Unlock()
	if !ok {
		return fmt.Errorf("not subscribed to %s", filterName(params.TaskID))
	}
	ws.server.broker.Unsubscribe(sub)

	return ws.sendResponse(frame.ID, true, map[string]any{
		"unsubscribed": filterName(params.TaskID),
	})
}

// pump forwards live notifications. Events already replayed from the
// store are skipped by sequence; the all-tasks feed has no replay so
// nothing is skipped.
func (ws *wsSession) pump(sub events.Subscriber, taskID string, afterSeq int64) {
	for {
		select {
		case <-ws.ctx.Done():
			return
		case n, ok := <-sub:
			if !ok {
				return
			}
			if taskID != "" && n.Event.Seq <= afterSeq {
				continue
			}
			ws.pushTaskEvent(n.TaskID, n.Event)
		}
	}
}

func (ws *wsSession) pushTaskEvent(taskID string, event models.Event) {
	_ = ws.sendEvent("task.event", map[string]any{
		"task_id":   taskID,
		"type":      event.Type,
		"data":      event.Data,
		"seq":       event.Seq,
		"timestamp": event.Timestamp,
	})
}

func (ws *wsSession) sendResponse(id string, ok bool, payload any) error {
	frame := wsFrame{
		Type:    "res",
		ID:      id,
		OK:      &ok,
		Payload: payload,
	}
	return ws.enqueue(frame)
}

func (ws *wsSession) sendEvent(event string, payload any) error {
	seq := atomic.AddInt64(&ws.seq, 1)
	frame := wsFrame{
		Type:    "event",
		Event:   event,
		Payload: payload,
		Seq:     &seq,
	}
	return ws.enqueue(frame)
}

func (ws *wsSession) sendError(id, code, message string) {
	ok := false
	_ = ws.enqueue(wsFrame{
		Type:  "res",
		ID:    id,
		OK:    &ok,
		Error: &wsError{Code: code, Message: message},
	})
}

// enqueue never blocks: a client that cannot drain its buffer loses
// frames rather than stalling the broker pumps.
func (ws *wsSession) enqueue(frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if len(data) > wsMaxPayloadBytes {
		return errors.New("payload too large")
	}
	select {
	case ws.send <- data:
		return nil
	case <-ws.ctx.Done():
		return errors.New("session closed")
	default:
		return errors.New("send buffer full")
	}
}

func filterName(taskID string) string {
	if taskID == "" {
		return "*"
	}
	return taskID
}
