package statecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tellolink/protocol"
)

// StateTTL bounds how long a telemetry snapshot stays readable after the
// drone stops reporting.
const StateTTL = 30 * time.Second

// RedisStore mirrors drone telemetry and readiness into Redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Dial connects to Redis and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("statecache: ping %s: %w", addr, err)
	}
	return NewRedisStore(client), nil
}

func stateKey(nodeID string) string {
	return fmt.Sprintf("tellolink:drone:%s:state", nodeID)
}

func readyKey(nodeID string) string {
	return fmt.Sprintf("tellolink:drone:%s:ready", nodeID)
}

const allDronesKey = "tellolink:drones"

func (r *RedisStore) SetState(ctx context.Context, nodeID string, s protocol.State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, stateKey(nodeID), data, StateTTL)
	pipe.SAdd(ctx, allDronesKey, nodeID)
	_, err = pipe.Exec(ctx)
	return err
}

// GetState returns nil, nil when no recent snapshot exists.
func (r *RedisStore) GetState(ctx context.Context, nodeID string) (protocol.State, error) {
	data, err := r.client.Get(ctx, stateKey(nodeID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s protocol.State
	return s, json.Unmarshal(data, &s)
}

func (r *RedisStore) SetReady(ctx context.Context, nodeID string, ready bool) error {
	return r.client.Set(ctx, readyKey(nodeID), ready, 0).Err()
}

func (r *RedisStore) GetReady(ctx context.Context, nodeID string) (bool, error) {
	ok, err := r.client.Get(ctx, readyKey(nodeID)).Bool()
	if err == redis.Nil {
		return false, nil
	}
	return ok, err
}

func (r *RedisStore) ListDrones(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, allDronesKey).Result()
}

// Clear removes everything stored for nodeID. Called on shutdown.
func (r *RedisStore) Clear(ctx context.Context, nodeID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, stateKey(nodeID), readyKey(nodeID))
	pipe.SRem(ctx, allDronesKey, nodeID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
