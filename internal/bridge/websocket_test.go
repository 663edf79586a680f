package bridge

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeusync/rigsim/internal/config"
	"github.com/zeusync/rigsim/internal/core/events/bus"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/robot"
)

type fakeControls struct {
	box    *robot.CommandBox
	resets atomic.Int32
}

func (f *fakeControls) Commands() *robot.CommandBox { return f.box }
func (f *fakeControls) ResetRobot()                 { f.resets.Add(1) }

func newTestBridge(t *testing.T) (*Server, *fakeControls, bus.EventBus, *websocket.Conn) {
	t.Helper()
	b := bus.New()
	controls := &fakeControls{box: robot.NewCommandBox(1024)}
	srv := NewServer(config.BridgeConfig{Path: "/robot"}, controls, b, log.NewNop())
	if err := srv.Attach(); err != nil {
		t.Fatalf("attach: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	u := "ws" + strings.TrimPrefix(hs.URL, "http") + "/robot"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return srv, controls, b, conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCommandUpdatesMailbox(t *testing.T) {
	_, controls, _, conn := newTestBridge(t)

	cmd := robot.Command{MotorSpeeds: [robot.NumMotors]float64{300, -300, 0, 0}}
	data, _ := json.Marshal(cmd)
	if err := conn.WriteJSON(Envelope{Type: TypeCommand, Data: data}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return controls.box.Get().MotorSpeeds[0] == 300 })
	if got := controls.box.Get().MotorSpeeds[1]; got != -300 {
		t.Fatalf("right speed %v", got)
	}

	if err := conn.WriteJSON(Envelope{Type: TypeClearPosition, Data: json.RawMessage(`{"port":2}`)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return controls.box.Get().ClearPositions[2] })

	if err := conn.WriteJSON(Envelope{Type: TypeResetRobot}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return controls.resets.Load() == 1 })
}

func TestInvalidMessageAnswersError(t *testing.T) {
	_, _, _, conn := newTestBridge(t)
	if err := conn.WriteJSON(Envelope{Type: TypeClearPosition, Data: json.RawMessage(`{"port":9}`)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var env Envelope
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != TypeError || !strings.Contains(string(env.Data), "out of range") {
		t.Fatalf("unexpected reply %s %s", env.Type, env.Data)
	}
}

func TestTelemetryBroadcast(t *testing.T) {
	srv, _, b, conn := newTestBridge(t)
	waitFor(t, func() bool { return srv.Clients() == 1 })

	tel := robot.Telemetry{Frame: 7, MotorPositions: [robot.NumMotors]int64{12, 34, 0, 0}}
	if err := b.PublishToTopic(bus.TopicRobot, bus.NewEvent(bus.TypeTelemetry, bus.SourceSim, tel)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var env Envelope
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != TypeTelemetry {
		t.Fatalf("type %q", env.Type)
	}
	var got robot.Telemetry
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Frame != 7 || got.MotorPositions[1] != 34 {
		t.Fatalf("telemetry %+v", got)
	}
}

func TestSlowClientKeepsLatestFrame(t *testing.T) {
	c := newClient(nil)
	if c.offer([]byte("a")) {
		t.Fatalf("first frame reported dropped")
	}
	if !c.offer([]byte("b")) {
		t.Fatalf("second frame should replace the first")
	}
	if got := string(<-c.send); got != "b" {
		t.Fatalf("kept %q", got)
	}
}

func TestErrorReplySurvivesTelemetry(t *testing.T) {
	c := newClient(nil)
	if !c.reply([]byte("error")) {
		t.Fatalf("reply refused on an open client")
	}
	c.offer([]byte("t1"))
	c.offer([]byte("t2"))

	for _, want := range []string{"error", "t2"} {
		msg, ok := c.next()
		if !ok || string(msg) != want {
			t.Fatalf("next = %q %v, want %q", msg, ok, want)
		}
	}

	// A closed client never blocks the reader, even with a full reply queue.
	c.close()
	for i := 0; i <= replyQueue; i++ {
		c.reply([]byte("late"))
	}
}

func TestDispatchRejectsUnknownType(t *testing.T) {
	err := dispatch(&fakeControls{box: robot.NewCommandBox(1024)}, Envelope{Type: "teleport"})
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestStopClosesClients(t *testing.T) {
	srv, _, _, conn := newTestBridge(t)
	waitFor(t, func() bool { return srv.Clients() == 1 })
	if err := srv.Stop(t.Context()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected closed connection")
	}
	if err := srv.Start(t.Context()); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("restart after stop: %v", err)
	}
}
