package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tellolink/config"
	"tellolink/engine"
	"tellolink/protocol"
	"tellolink/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// --- Mock publisher ---

type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	fail      bool
	published []published
}

type published struct {
	topic   string
	payload []byte
}

func (m *mockPublisher) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("broker down")
	}
	m.published = append(m.published, published{topic, payload})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.Envelope
	for _, p := range m.published {
		var env protocol.Envelope
		if err := json.Unmarshal(p.payload, &env); err != nil {
			t.Fatalf("decode published envelope: %v", err)
		}
		out = append(out, env)
	}
	return out
}

// --- Mock controller ---

type mockController struct {
	mu        sync.Mutex
	commands  []string
	sequences [][]byte
	done      chan struct{}
}

func newMockController() *mockController {
	return &mockController{done: make(chan struct{}, 16)}
}

func (m *mockController) Context() context.Context { return context.Background() }

func (m *mockController) Exec(_ context.Context, cmd string) (string, error) {
	m.mu.Lock()
	m.commands = append(m.commands, cmd)
	m.mu.Unlock()
	m.done <- struct{}{}
	return "ok", nil
}

func (m *mockController) RunSequenceJSON(_ context.Context, raw []byte) error {
	m.mu.Lock()
	m.sequences = append(m.sequences, raw)
	m.mu.Unlock()
	m.done <- struct{}{}
	return nil
}

func (m *mockController) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-m.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for request %d", i+1)
		}
	}
}

// --- Mock status source ---

type mockStatus struct{ ready bool }

func (m mockStatus) Ready() bool           { return m.ready }
func (m mockStatus) Pending() int          { return 2 }
func (m mockStatus) Uptime() time.Duration { return 90 * time.Second }

// --- DroneHandler tests ---

func TestDroneHandlerRunsInArrivalOrder(t *testing.T) {
	ctrl := newMockController()
	h := NewDroneHandler(ctrl)
	h.Start()
	defer h.Stop()

	env := &protocol.Envelope{ID: "e1"}
	h.HandleCommandRequest(env, &protocol.CommandRequest{Command: "takeoff"})
	h.HandleSequenceRequest(env, &protocol.SequenceRequest{Commands: json.RawMessage(`["up 50","land"]`)})
	h.HandleCommandRequest(env, &protocol.CommandRequest{Command: "battery?"})
	ctrl.wait(t, 3)

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.commands) != 2 || ctrl.commands[0] != "takeoff" || ctrl.commands[1] != "battery?" {
		t.Errorf("commands = %v", ctrl.commands)
	}
	if len(ctrl.sequences) != 1 || string(ctrl.sequences[0]) != `["up 50","land"]` {
		t.Errorf("sequences = %q", ctrl.sequences)
	}
}

func TestDroneHandlerRejectsInvalidSequence(t *testing.T) {
	ctrl := newMockController()
	h := NewDroneHandler(ctrl)
	h.Start()
	defer h.Stop()

	env := &protocol.Envelope{ID: "bad"}
	for _, raw := range []string{`"takeoff"`, `[1,2]`, `{"a":1}`, ``} {
		h.HandleSequenceRequest(env, &protocol.SequenceRequest{Commands: json.RawMessage(raw)})
	}
	h.HandleCommandRequest(env, &protocol.CommandRequest{Command: ""})
	// A valid request afterwards proves the worker is idle, not wedged.
	h.HandleCommandRequest(env, &protocol.CommandRequest{Command: "land"})
	ctrl.wait(t, 1)

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.sequences) != 0 {
		t.Errorf("invalid sequences reached the controller: %q", ctrl.sequences)
	}
	if len(ctrl.commands) != 1 || ctrl.commands[0] != "land" {
		t.Errorf("commands = %v, want [land]", ctrl.commands)
	}
}

func TestLinkFilter(t *testing.T) {
	f := LinkFilter("edge-1")
	tests := []struct {
		dst  protocol.Address
		want bool
	}{
		{protocol.Address{Role: protocol.RoleLink}, true},
		{protocol.Address{Role: protocol.RoleLink, Node: "edge-1"}, true},
		{protocol.Address{Role: protocol.RoleLink, Node: "edge-2"}, false},
		{protocol.Address{Role: protocol.RoleController}, false},
	}
	for _, tt := range tests {
		if got := f(&protocol.RawHeader{Dst: tt.dst}); got != tt.want {
			t.Errorf("filter(%+v) = %v, want %v", tt.dst, got, tt.want)
		}
	}
}

// --- EventReporter tests ---

func TestEventReporterQueuesResultsAndLatestState(t *testing.T) {
	db := testDB(t)
	bus := engine.NewEventBus()
	r := NewEventReporter(db, bus, "edge-1", "tellolink/events")
	r.interval = time.Hour
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	bus.Emit(engine.Event{Type: engine.EventCommandDone, Payload: engine.CommandDoneEvent{
		ID: "c1", Command: "takeoff", Kind: "action", Result: `command "takeoff" done`, Elapsed: 2 * time.Second,
	}})
	bus.Emit(engine.Event{Type: engine.EventCommandDone, Payload: engine.CommandDoneEvent{
		ID: "c2", Command: "flip x", Kind: "action", Error: "no acknowledgment",
	}})
	bus.Emit(engine.Event{Type: engine.EventStateUpdated, Payload: engine.StateUpdatedEvent{State: protocol.State{"bat": 90}}})
	bus.Emit(engine.Event{Type: engine.EventStateUpdated, Payload: engine.StateUpdatedEvent{State: protocol.State{"bat": 89}}})
	r.Stop()

	msgs, err := db.ListPendingOutbox(10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("outbox has %d messages, want 3", len(msgs))
	}
	wantTypes := []string{protocol.TypeCommandResult, protocol.TypeCommandResult, protocol.TypeDroneState}
	for i, m := range msgs {
		if m.MsgType != wantTypes[i] {
			t.Errorf("msg %d type = %q, want %q", i, m.MsgType, wantTypes[i])
		}
		if m.Topic != "tellolink/events" {
			t.Errorf("msg %d topic = %q", i, m.Topic)
		}
	}

	var env protocol.Envelope
	json.Unmarshal(msgs[1].Payload, &env)
	var res protocol.CommandResult
	if err := env.DecodePayload(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Status != store.StatusFailed || res.CommandID != "c2" {
		t.Errorf("result = %+v, want failed c2", res)
	}
	if env.Src.Node != "edge-1" {
		t.Errorf("src node = %q", env.Src.Node)
	}

	json.Unmarshal(msgs[2].Payload, &env)
	var st protocol.DroneState
	env.DecodePayload(&st)
	if st.Fields["bat"] != 89 {
		t.Errorf("state bat = %v, want latest 89", st.Fields["bat"])
	}
}

// --- OutboxDrainer tests ---

func TestOutboxDrainer(t *testing.T) {
	db := testDB(t)
	pub := &mockPublisher{}
	d := NewOutboxDrainer(db, pub, time.Hour)

	db.EnqueueOutbox("events", []byte(`{"n":1}`), "drone.state")
	db.EnqueueOutbox("events", []byte(`{"n":2}`), "drone.state")

	if n := d.drain(); n != 0 {
		t.Errorf("drained %d while disconnected, want 0", n)
	}

	pub.connected = true
	pub.fail = true
	d.drain()
	msgs, _ := db.ListPendingOutbox(10, 0)
	if len(msgs) != 2 || msgs[0].Retries != 1 {
		t.Fatalf("after failure: %+v", msgs)
	}

	pub.fail = false
	if n := d.drain(); n != 2 {
		t.Errorf("drained %d, want 2", n)
	}
	if msgs, _ := db.ListPendingOutbox(10, 0); len(msgs) != 0 {
		t.Errorf("pending = %d, want 0", len(msgs))
	}
	if len(pub.published) != 2 || string(pub.published[0].payload) != `{"n":1}` {
		t.Errorf("published = %+v", pub.published)
	}
}

// --- Heartbeater tests ---

func TestHeartbeaterStartAndStop(t *testing.T) {
	pub := &mockPublisher{connected: true}
	h := NewHeartbeater(pub, mockStatus{ready: true}, "edge-1", "events", time.Hour)
	h.Start()
	h.Stop()
	h.Stop()

	envs := pub.envelopes(t)
	if len(envs) != 2 {
		t.Fatalf("published %d, want 2", len(envs))
	}
	var first, last protocol.DroneStatus
	envs[0].DecodePayload(&first)
	envs[1].DecodePayload(&last)
	if !first.Ready || first.Pending != 2 || first.Uptime != 90 || first.NodeID != "edge-1" {
		t.Errorf("first status = %+v", first)
	}
	if last.Ready {
		t.Error("final status should report not ready")
	}
	if envs[0].Type != protocol.TypeDroneStatus {
		t.Errorf("type = %q", envs[0].Type)
	}
}

func TestOfflineStatus(t *testing.T) {
	data, err := OfflineStatus("edge-1")
	if err != nil {
		t.Fatalf("OfflineStatus: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var st protocol.DroneStatus
	env.DecodePayload(&st)
	if env.Type != protocol.TypeDroneStatus || st.NodeID != "edge-1" || st.Ready {
		t.Errorf("will = %s %+v", env.Type, st)
	}
}

// --- Client tests ---

type fakeBackend struct {
	connectErr error
	up         bool
	sent       []string
	subs       map[string]func([]byte)
	closed     int
}

func (f *fakeBackend) connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.up = true
	return nil
}

func (f *fakeBackend) publish(topic string, _ []byte) error {
	f.sent = append(f.sent, topic)
	return nil
}

func (f *fakeBackend) subscribe(topic string, h func([]byte)) error {
	if f.subs == nil {
		f.subs = map[string]func([]byte){}
	}
	f.subs[topic] = h
	return nil
}

func (f *fakeBackend) connected() bool { return f.up }
func (f *fakeBackend) close()          { f.closed++; f.up = false }

func TestClientRequiresConnect(t *testing.T) {
	fb := &fakeBackend{}
	c := &Client{name: "fake", b: fb}

	if err := c.Publish("events", nil); err == nil {
		t.Error("publish before connect should fail")
	}
	if err := c.Subscribe("commands", func([]byte) {}); err == nil {
		t.Error("subscribe before connect should fail")
	}
	if c.IsConnected() {
		t.Error("connected before Connect")
	}
	c.Close()
	if fb.closed != 0 {
		t.Error("closed a backend that never connected")
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Publish("events", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := c.Subscribe("commands", func([]byte) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !c.IsConnected() || len(fb.sent) != 1 || fb.subs["commands"] == nil {
		t.Errorf("backend state = %+v", fb)
	}
	c.Close()
	c.Close()
	if fb.closed != 1 || c.IsConnected() {
		t.Errorf("closed = %d, connected = %v", fb.closed, c.IsConnected())
	}
}

func TestClientConnectFailure(t *testing.T) {
	c := &Client{name: "fake", b: &fakeBackend{connectErr: errors.New("refused")}}
	if err := c.Connect(); err == nil {
		t.Fatal("expected connect error")
	}
	if err := c.Publish("events", nil); err == nil {
		t.Error("publish after failed connect should fail")
	}
}

func TestClientUnknownBackend(t *testing.T) {
	c := NewClient(&config.MessagingConfig{Backend: "amqp"}, "tellolink-1")
	if err := c.Connect(); err == nil {
		t.Error("expected error for unknown backend")
	}
	if c.IsConnected() {
		t.Error("unknown backend reports connected")
	}
}

func TestClientLastWillOnlyForMQTT(t *testing.T) {
	c := NewClient(&config.MessagingConfig{Backend: "mqtt"}, "tellolink-1")
	c.SetLastWill("events", []byte("gone"))
	m := c.b.(*mqttBackend)
	if m.willTopic != "events" || string(m.willPayload) != "gone" {
		t.Errorf("will = %q %q", m.willTopic, m.willPayload)
	}

	k := NewClient(&config.MessagingConfig{Backend: "kafka"}, "tellolink-1")
	k.SetLastWill("events", []byte("gone"))
	if _, ok := k.b.(*kafkaBackend); !ok {
		t.Errorf("backend = %T", k.b)
	}
}
