package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golemhq/golem/internal/config"
	"github.com/golemhq/golem/pkg/models"
)

func dialWS(t *testing.T, h *harness, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/v1/events/ws"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// readFrame returns the next frame, skipping keepalive ticks.
func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if frame.Type == "event" && frame.Event == "tick" {
			continue
		}
		return frame
	}
}

func payloadMap(t *testing.T, frame wsFrame) map[string]any {
	t.Helper()
	m, ok := frame.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T, want object", frame.Payload)
	}
	return m
}

// appendAndPublish mirrors the engine's event path: the store assigns
// the sequence, then the live feed carries the stamped event.
func appendAndPublish(t *testing.T, h *harness, taskID string, et models.EventType) models.Event {
	t.Helper()
	stamped, err := h.store.AppendEvent(context.Background(), taskID, models.NewEvent(et, nil))
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	h.broker.Publish(taskID, stamped)
	return stamped
}

func TestWSPing(t *testing.T) {
	h := newHarness(t, config.ServerConfig{}, nil)
	conn := dialWS(t, h, "")

	sendFrame(t, conn, map[string]any{"type": "req", "id": "p1", "method": "ping"})
	frame := readFrame(t, conn)
	if frame.Type != "res" || frame.ID != "p1" {
		t.Fatalf("frame = %+v", frame)
	}
	if frame.OK == nil || !*frame.OK {
		t.Fatalf("ok = %v, want true", frame.OK)
	}
	if _, has := payloadMap(t, frame)["timestamp"]; !has {
		t.Fatal("pong missing timestamp")
	}
}

func TestWSSubscribeReplayAndLive(t *testing.T) {
	h := newHarness(t, config.ServerConfig{}, nil)
	task := h.seedTask(t, models.TaskStatusRunning)

	ctx := context.Background()
	for _, et := range []models.EventType{models.EventTaskStarted, models.EventPlanningStarted} {
		if _, err := h.store.AppendEvent(ctx, task.ID, models.NewEvent(et, nil)); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	conn := dialWS(t, h, "")
	sendFrame(t, conn, map[string]any{
		"type": "req", "id": "s1", "method": "subscribe",
		"params": map[string]any{"task_id": task.ID},
	})

	// Replay arrives first, then the ack carrying the replay count.
	for i, wantType := range []models.EventType{models.EventTaskStarted, models.EventPlanningStarted} {
		frame := readFrame(t, conn)
		if frame.Type != "event" || frame.Event != "task.event" {
			t.Fatalf("frame %d = %+v", i, frame)
		}
		payload := payloadMap(t, frame)
		if payload["type"] != string(wantType) {
			t.Fatalf("event %d type = %v, want %s", i, payload["type"], wantType)
		}
		if payload["seq"] != float64(i+1) {
			t.Fatalf("event %d seq = %v, want %d", i, payload["seq"], i+1)
		}
	}
	ack := readFrame(t, conn)
	if ack.Type != "res" || ack.ID != "s1" || ack.OK == nil || !*ack.OK {
		t.Fatalf("ack = %+v", ack)
	}
	if payloadMap(t, ack)["replayed"] != float64(2) {
		t.Fatalf("replayed = %v, want 2", payloadMap(t, ack)["replayed"])
	}

	live := appendAndPublish(t, h, task.ID, models.EventPlanGenerated)
	frame := readFrame(t, conn)
	payload := payloadMap(t, frame)
	if payload["type"] != string(models.EventPlanGenerated) {
		t.Fatalf("live type = %v", payload["type"])
	}
	if payload["seq"] != float64(live.Seq) {
		t.Fatalf("live seq = %v, want %d", payload["seq"], live.Seq)
	}
	if payload["task_id"] != task.ID {
		t.Fatalf("live task_id = %v", payload["task_id"])
	}
}

func TestWSSubscribeAfterSeq(t *testing.T) {
	h := newHarness(t, config.ServerConfig{}, nil)
	task := h.seedTask(t, models.TaskStatusRunning)

	ctx := context.Background()
	for _, et := range []models.EventType{models.EventTaskStarted, models.EventPlanningStarted, models.EventPlanGenerated} {
		if _, err := h.store.AppendEvent(ctx, task.ID, models.NewEvent(et, nil)); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	conn := dialWS(t, h, "")
	sendFrame(t, conn, map[string]any{
		"type": "req", "id": "s1", "method": "subscribe",
		"params": map[string]any{"task_id": task.ID, "after_seq": 2},
	})

	frame := readFrame(t, conn)
	if payloadMap(t, frame)["seq"] != float64(3) {
		t.Fatalf("replay seq = %v, want 3", payloadMap(t, frame)["seq"])
	}
	ack := readFrame(t, conn)
	if payloadMap(t, ack)["replayed"] != float64(1) {
		t.Fatalf("replayed = %v, want 1", payloadMap(t, ack)["replayed"])
	}
}

func TestWSSubscribeUnknownTask(t *testing.T) {
	h := newHarness(t, config.ServerConfig{}, nil)
	conn := dialWS(t, h, "")

	sendFrame(t, conn, map[string]any{
		"type": "req", "id": "s1", "method": "subscribe",
		"params": map[string]any{"task_id": "nope"},
	})
	frame := readFrame(t, conn)
	if frame.OK == nil || *frame.OK {
		t.Fatalf("ok = %v, want false", frame.OK)
	}
	if frame.Error == nil || !strings.Contains(frame.Error.Message, "task not found") {
		t.Fatalf("error = %+v", frame.Error)
	}
}

func TestWSDuplicateSubscribe(t *testing.T) {
	h := newHarness(t, config.ServerConfig{}, nil)
	task := h.seedTask(t, models.TaskStatusRunning)
	conn := dialWS(t, h, "")

	sendFrame(t, conn, map[string]any{
		"type": "req", "id": "s1", "method": "subscribe",
		"params": map[string]any{"task_id": task.ID},
	})
	if ack := readFrame(t, conn); ack.OK == nil || !*ack.OK {
		t.Fatalf("first subscribe = %+v", ack)
	}

	sendFrame(t, conn, map[string]any{
		"type": "req", "id": "s2", "method": "subscribe",
		"params": map[string]any{"task_id": task.ID},
	})
	dup := readFrame(t, conn)
	if dup.OK == nil || *dup.OK {
		t.Fatalf("duplicate subscribe = %+v", dup)
	}
	if dup.Error == nil || !strings.Contains(dup.Error.Message, "already subscribed") {
		t.Fatalf("error = %+v", dup.Error)
	}
}

func TestWSUnsubscribe(t *testing.T) {
	h := newHarness(t, config.ServerConfig{}, nil)
	conn := dialWS(t, h, "")

	sendFrame(t, conn, map[string]any{"type": "req", "id": "s1", "method": "subscribe"})
	if ack := readFrame(t, conn); ack.OK == nil || !*ack.OK {
		t.Fatalf("subscribe = %+v", ack)
	}

	sendFrame(t, conn, map[string]any{"type": "req", "id": "u1", "method": "unsubscribe"})
	ack := readFrame(t, conn)
	if ack.OK == nil || !*ack.OK {
		t.Fatalf("unsubscribe = %+v", ack)
	}
	if payloadMap(t, ack)["unsubscribed"] != "*" {
		t.Fatalf("unsubscribed = %v, want *", payloadMap(t, ack)["unsubscribed"])
	}

	sendFrame(t, conn, map[string]any{"type": "req", "id": "u2", "method": "unsubscribe"})
	again := readFrame(t, conn)
	if again.OK == nil || *again.OK {
		t.Fatalf("second unsubscribe = %+v", again)
	}
}

func TestWSFirehoseIsLiveOnly(t *testing.T) {
	h := newHarness(t, config.ServerConfig{}, nil)
	task := h.seedTask(t, models.TaskStatusRunning)

	// History that must NOT replay on the all-tasks feed.
	if _, err := h.store.AppendEvent(context.Background(), task.ID, models.NewEvent(models.EventTaskStarted, nil)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	conn := dialWS(t, h, "")
	sendFrame(t, conn, map[string]any{"type": "req", "id": "s1", "method": "subscribe"})
	ack := readFrame(t, conn)
	if ack.Type != "res" || ack.OK == nil || !*ack.OK {
		t.Fatalf("ack = %+v", ack)
	}
	payload := payloadMap(t, ack)
	if payload["subscribed"] != "*" {
		t.Fatalf("subscribed = %v, want *", payload["subscribed"])
	}
	if payload["replayed"] != float64(0) {
		t.Fatalf("replayed = %v, want 0", payload["replayed"])
	}

	live := appendAndPublish(t, h, task.ID, models.EventStepStarted)
	frame := readFrame(t, conn)
	got := payloadMap(t, frame)
	if got["type"] != string(models.EventStepStarted) {
		t.Fatalf("live type = %v", got["type"])
	}
	if got["seq"] != float64(live.Seq) {
		t.Fatalf("live seq = %v, want %d", got["seq"], live.Seq)
	}
}

func TestWSInvalidFrames(t *testing.T) {
	h := newHarness(t, config.ServerConfig{}, nil)
	conn := dialWS(t, h, "")

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "{nope"},
		{"missing id", `{"type":"req","method":"ping"}`},
		{"missing method", `{"type":"req","id":"x"}`},
		{"bad subscribe params", `{"type":"req","id":"x","method":"subscribe","params":{"task_id":7}}`},
		{"unknown params key", `{"type":"req","id":"x","method":"subscribe","params":{"topic":"all"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatalf("write: %v", err)
			}
			frame := readFrame(t, conn)
			if frame.OK == nil || *frame.OK {
				t.Fatalf("frame = %+v, want error response", frame)
			}
			if frame.Error == nil || frame.Error.Code != "invalid_frame" {
				t.Fatalf("error = %+v, want invalid_frame", frame.Error)
			}
		})
	}
}

func TestWSUnknownMethod(t *testing.T) {
	h := newHarness(t, config.ServerConfig{}, nil)
	conn := dialWS(t, h, "")

	sendFrame(t, conn, map[string]any{"type": "req", "id": "x", "method": "teleport"})
	frame := readFrame(t, conn)
	if frame.Error == nil || frame.Error.Code != "request_failed" {
		t.Fatalf("error = %+v, want request_failed", frame.Error)
	}
}

func TestWSAuthViaQueryParam(t *testing.T) {
	h := newHarness(t, config.ServerConfig{APIKey: "sekrit"}, nil)

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/v1/events/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without key succeeded, want handshake failure")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("handshake status = %v, want 401", resp)
	}

	conn := dialWS(t, h, "api_key=sekrit")
	sendFrame(t, conn, map[string]any{"type": "req", "id": "p1", "method": "ping"})
	frame := readFrame(t, conn)
	if frame.OK == nil || !*frame.OK {
		t.Fatalf("ping after auth = %+v", frame)
	}
}

func TestWSSubscribeSkipsReplayedSeqOnLiveFeed(t *testing.T) {
	h := newHarness(t, config.ServerConfig{}, nil)
	task := h.seedTask(t, models.TaskStatusRunning)

	first, err := h.store.AppendEvent(context.Background(), task.ID, models.NewEvent(models.EventTaskStarted, nil))
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	conn := dialWS(t, h, "")
	sendFrame(t, conn, map[string]any{
		"type": "req", "id": "s1", "method": "subscribe",
		"params": map[string]any{"task_id": task.ID},
	})
	if frame := readFrame(t, conn); frame.Type != "event" {
		t.Fatalf("replay frame = %+v", frame)
	}
	if ack := readFrame(t, conn); ack.OK == nil || !*ack.OK {
		t.Fatalf("ack = %+v", ack)
	}

	// A publish that races the replay window carries an already-replayed
	// sequence; the live feed must not deliver it twice.
	h.broker.Publish(task.ID, first)
	fresh := appendAndPublish(t, h, task.ID, models.EventPlanningStarted)

	frame := readFrame(t, conn)
	payload := payloadMap(t, frame)
	if payload["seq"] != float64(fresh.Seq) {
		t.Fatalf("seq = %v, want %d (replayed event delivered twice)", payload["seq"], fresh.Seq)
	}
}
