package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		cmd  string
		want Kind
	}{
		{"battery?", KindQuery},
		{"speed?", KindQuery},
		{"a?", KindQuery},
		{"takeoff", KindAction},
		{"forward 50", KindAction},
		{"", KindAction},
		{"?", KindAction},
		{"?battery", KindAction},
		{"?x?", KindAction},
	}
	for _, tt := range tests {
		if got := Classify(tt.cmd); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.cmd, got, tt.want)
		}
	}
}

func TestIsAck(t *testing.T) {
	for _, s := range []string{"ok"} {
		if !IsAck(s) {
			t.Errorf("IsAck(%q) = false", s)
		}
	}
	for _, s := range []string{"OK", "ok\r\n", " ok", "error Not joystick", "", "okay"} {
		if IsAck(s) {
			t.Errorf("IsAck(%q) = true", s)
		}
	}
}

func TestDecodeSequence(t *testing.T) {
	cmds, err := DecodeSequence([]byte(` ["command", "takeoff", "land"] `))
	if err != nil {
		t.Fatalf("DecodeSequence: %v", err)
	}
	if len(cmds) != 3 || cmds[0] != "command" || cmds[2] != "land" {
		t.Errorf("cmds = %v", cmds)
	}

	empty, err := DecodeSequence([]byte(`[]`))
	if err != nil {
		t.Fatalf("empty array: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty = %v", empty)
	}
}

func TestDecodeSequenceRejectsNonSequence(t *testing.T) {
	for _, in := range []string{`"takeoff"`, `{"c":"takeoff"}`, `null`, `42`, `true`, ``, `   `, `[1,2]`, `[`, `takeoff`} {
		_, err := DecodeSequence([]byte(in))
		var invalid *InvalidInputError
		if !errors.As(err, &invalid) {
			t.Errorf("DecodeSequence(%q) err = %v, want InvalidInputError", in, err)
		}
	}
}

func TestParseState(t *testing.T) {
	raw := "pitch:0;roll:-2;yaw:15;vgx:0;vgy:0;vgz:0;templ:60;temph:63;tof:10;h:0;bat:87;baro:-47.53;time:0;agx:-2.00;agy:8.00;agz:-999.00;\r\n"
	s, err := ParseState(raw)
	if err != nil {
		t.Fatalf("ParseState: %v", err)
	}
	if s["roll"] != -2 {
		t.Errorf("roll = %v", s["roll"])
	}
	if s["baro"] != -47.53 {
		t.Errorf("baro = %v", s["baro"])
	}
	if bat, ok := s.Battery(); !ok || bat != 87 {
		t.Errorf("battery = %d, %v", bat, ok)
	}
	if len(s) != 16 {
		t.Errorf("fields = %d, want 16", len(s))
	}
}

func TestParseStateSDK2Record(t *testing.T) {
	raw := "mid:-1;x:0;y:0;z:0;mpry:0,0,0;pitch:1;roll:0;yaw:-3;vgx:0;vgy:0;vgz:0;templ:70;temph:72;tof:10;h:0;bat:87;baro:187.53;time:0;agx:5.00;agy:-1.00;agz:-999.00;\r\n"
	s, err := ParseState(raw)
	if err != nil {
		t.Fatalf("ParseState: %v", err)
	}
	if bat, ok := s.Battery(); !ok || bat != 87 {
		t.Errorf("battery = %d, %v", bat, ok)
	}
	if s["mid"] != -1 || s["yaw"] != -3 {
		t.Errorf("mid = %v, yaw = %v", s["mid"], s["yaw"])
	}
	for _, k := range []string{"mpry.0", "mpry.1", "mpry.2"} {
		if _, ok := s[k]; !ok {
			t.Errorf("missing %s", k)
		}
	}
	if _, ok := s["mpry"]; ok {
		t.Error("list field stored under its bare key")
	}
}

func TestParseStateSkipsUnparsableFields(t *testing.T) {
	s, err := ParseState("pitch:abc;mode;bat:50;mpry:1,x,3;")
	if err != nil {
		t.Fatalf("ParseState: %v", err)
	}
	if len(s) != 1 || s["bat"] != 50 {
		t.Errorf("state = %v, want only bat", s)
	}
}

func TestParseStateErrors(t *testing.T) {
	for _, in := range []string{"", ";;", "pitch", "pitch:abc;", ":5;"} {
		if _, err := ParseState(in); err == nil {
			t.Errorf("ParseState(%q) expected error", in)
		}
	}
}

func TestStateString(t *testing.T) {
	s := State{"yaw": 15, "bat": 87, "baro": -1.5}
	if got := s.String(); got != "bat:87;baro:-1.5;yaw:15;" {
		t.Errorf("String() = %q", got)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	src := Address{Role: RoleLink, Node: "tello-1"}
	dst := Address{Role: RoleController}

	env, err := NewEnvelope(TypeCommandResult, src, dst, &CommandResult{
		CommandID: "c-1",
		Command:   "takeoff",
		Kind:      "action",
		Status:    "done",
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Version != Version {
		t.Errorf("version = %d, want %d", env.Version, Version)
	}
	if env.ID == "" {
		t.Error("ID should not be empty")
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID != env.ID || decoded.Type != TypeCommandResult {
		t.Errorf("decoded = %+v", decoded)
	}

	var res CommandResult
	if err := decoded.DecodePayload(&res); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if res.Command != "takeoff" || res.Status != "done" {
		t.Errorf("result = %+v", res)
	}
}

func TestNewReply(t *testing.T) {
	reply, err := NewReply(TypeCommandResult,
		Address{Role: RoleLink},
		Address{Role: RoleController},
		"orig-msg-id",
		&CommandResult{Command: "land"},
	)
	if err != nil {
		t.Fatalf("NewReply: %v", err)
	}
	if reply.CorID != "orig-msg-id" {
		t.Errorf("cor = %q, want %q", reply.CorID, "orig-msg-id")
	}
}

func TestExpiry(t *testing.T) {
	env := &Envelope{ExpiresAt: time.Now().UTC().Add(-1 * time.Minute)}
	if !IsExpired(env) {
		t.Error("expected expired envelope to be detected")
	}
	env.ExpiresAt = time.Now().UTC().Add(10 * time.Minute)
	if IsExpired(env) {
		t.Error("expected future-expiry envelope to not be expired")
	}
	env.ExpiresAt = time.Time{}
	if IsExpired(env) {
		t.Error("expected zero-expiry envelope to not be expired")
	}
}

func TestDefaultTTLFor(t *testing.T) {
	if ttl := DefaultTTLFor(TypeCommandRequest); ttl != 10*time.Second {
		t.Errorf("command request TTL = %v, want 10s", ttl)
	}
	if ttl := DefaultTTLFor("unknown.type"); ttl != FallbackTTL {
		t.Errorf("fallback TTL = %v, want %v", ttl, FallbackTTL)
	}
}

type recordingHandler struct {
	NoOpHandler
	commands  []string
	sequences []json.RawMessage
}

func (h *recordingHandler) HandleCommandRequest(_ *Envelope, p *CommandRequest) {
	h.commands = append(h.commands, p.Command)
}

func (h *recordingHandler) HandleSequenceRequest(_ *Envelope, p *SequenceRequest) {
	h.sequences = append(h.sequences, p.Commands)
}

func encode(t *testing.T, msgType string, dst Address, payload any) []byte {
	t.Helper()
	env, err := NewEnvelope(msgType, Address{Role: RoleController}, dst, payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestIngestorDispatch(t *testing.T) {
	h := &recordingHandler{}
	ing := NewIngestor(h, func(hdr *RawHeader) bool { return hdr.Dst.Node == "tello-1" })

	ing.HandleRaw(encode(t, TypeCommandRequest, Address{Role: RoleLink, Node: "tello-1"}, &CommandRequest{Command: "takeoff"}))
	ing.HandleRaw(encode(t, TypeCommandRequest, Address{Role: RoleLink, Node: "tello-2"}, &CommandRequest{Command: "land"}))
	ing.HandleRaw(encode(t, TypeSequenceRequest, Address{Role: RoleLink, Node: "tello-1"},
		&SequenceRequest{Commands: json.RawMessage(`["up 20","down 20"]`)}))
	ing.HandleRaw([]byte("not json"))

	if len(h.commands) != 1 || h.commands[0] != "takeoff" {
		t.Errorf("commands = %v", h.commands)
	}
	if len(h.sequences) != 1 {
		t.Fatalf("sequences = %d, want 1", len(h.sequences))
	}
	cmds, err := DecodeSequence(h.sequences[0])
	if err != nil || len(cmds) != 2 {
		t.Errorf("sequence = %v, %v", cmds, err)
	}
}

func TestIngestorDropsExpired(t *testing.T) {
	h := &recordingHandler{}
	ing := NewIngestor(h, nil)

	env, _ := NewEnvelope(TypeCommandRequest, Address{Role: RoleController}, Address{Role: RoleLink}, &CommandRequest{Command: "flip l"})
	env.ExpiresAt = time.Now().UTC().Add(-time.Second)
	data, _ := env.Encode()
	ing.HandleRaw(data)

	if len(h.commands) != 0 {
		t.Errorf("expired command was dispatched: %v", h.commands)
	}
}

func TestIngestDropReasons(t *testing.T) {
	h := &recordingHandler{}
	ing := NewIngestor(h, func(hdr *RawHeader) bool { return hdr.Dst.Node == "tello-1" })
	me := Address{Role: RoleLink, Node: "tello-1"}

	if err := ing.Ingest(encode(t, TypeCommandRequest, Address{Role: RoleLink, Node: "tello-2"}, &CommandRequest{Command: "land"})); !errors.Is(err, ErrFiltered) {
		t.Errorf("other node err = %v, want ErrFiltered", err)
	}
	if err := ing.Ingest(encode(t, TypeDroneState, me, &DroneState{})); !errors.Is(err, ErrUnknownType) {
		t.Errorf("outbound type err = %v, want ErrUnknownType", err)
	}
	env, _ := NewEnvelope(TypeCommandRequest, Address{Role: RoleController}, me, &CommandRequest{Command: "flip l"})
	env.ExpiresAt = time.Now().UTC().Add(-time.Second)
	data, _ := env.Encode()
	if err := ing.Ingest(data); !errors.Is(err, ErrExpired) {
		t.Errorf("expired err = %v, want ErrExpired", err)
	}
	bad, _ := NewEnvelope(TypeCommandRequest, Address{Role: RoleController}, me, "takeoff")
	data, _ = bad.Encode()
	if err := ing.Ingest(data); err == nil {
		t.Error("expected payload decode error")
	}
	if err := ing.Ingest(encode(t, TypeCommandRequest, me, &CommandRequest{Command: "takeoff"})); err != nil {
		t.Errorf("valid request err = %v", err)
	}
	if len(h.commands) != 1 {
		t.Errorf("commands = %v, want only takeoff", h.commands)
	}
}
