package statecache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestKeys(t *testing.T) {
	if got := stateKey("edge-1"); got != "tellolink:drone:edge-1:state" {
		t.Errorf("stateKey = %q", got)
	}
	if got := readyKey("edge-1"); got != "tellolink:drone:edge-1:ready" {
		t.Errorf("readyKey = %q", got)
	}
}

func TestDialUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Port 1 on loopback is never a Redis server.
	if _, err := Dial(ctx, "127.0.0.1:1", "", 0); err == nil {
		t.Fatal("expected dial error")
	}
}

// TestRoundTrip runs against a local Redis when one is available.
func TestRoundTrip(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	r := NewRedisStore(client)
	defer r.Close()
	defer r.Clear(context.Background(), "test-node")

	if err := r.SetState(ctx, "test-node", map[string]float64{"bat": 80, "h": 120}); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	s, err := r.GetState(ctx, "test-node")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if bat, ok := s.Battery(); !ok || bat != 80 {
		t.Errorf("battery = %d, %v; want 80, true", bat, ok)
	}
	if err := r.SetReady(ctx, "test-node", true); err != nil {
		t.Fatalf("SetReady: %v", err)
	}
	if ok, _ := r.GetReady(ctx, "test-node"); !ok {
		t.Error("ready = false, want true")
	}
}
