package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"terraguard/internal/events"
)

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data += strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestSSEWriter_MultiLinePayload(t *testing.T) {
	rec := httptest.NewRecorder()
	sse := NewSSEWriter(rec)
	if sse == nil {
		t.Fatal("recorder should support flushing")
	}
	if err := sse.Send("step", []byte("line one\nevent: forged\n")); err != nil {
		t.Fatal(err)
	}

	want := "event: step\ndata: line one\ndata: event: forged\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if !rec.Flushed {
		t.Error("event was not flushed")
	}
}

func TestHandleStream(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/simulation/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	first := readSSE(t, r)
	if first.name != events.KindState {
		t.Fatalf("first event = %q, want state", first.name)
	}
	var env events.Event
	if err := json.Unmarshal([]byte(first.data), &env); err != nil {
		t.Fatalf("decoding state event: %v", err)
	}

	// the subscription is registered before the initial state is written
	e.hub.Publish(events.KindStep, map[string]int{"index": 0})
	for {
		ev := readSSE(t, r)
		if ev.name == events.KindStep {
			if !strings.Contains(ev.data, `"index":0`) {
				t.Errorf("step data = %s", ev.data)
			}
			return
		}
	}
}

func TestHandleWS(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/simulation/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var env events.Event
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.Type != events.KindState {
		t.Fatalf("first message type = %q, want state", env.Type)
	}

	if rec := e.do(t, http.MethodPost, "/simulation/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("start: got status %d", rec.Code)
	}

	steps := 0
	for steps < 5 {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("after %d steps: %v", steps, err)
		}
		if ev.Type == events.KindStep {
			steps++
		}
	}
}

func TestHandleWS_RejectsForeignOrigin(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/simulation/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("handshake response = %v, want 403", resp)
	}
}
