package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatcipher/internal/model"
	"chatcipher/internal/protocol/doubleratchet"
	redisSvc "chatcipher/internal/service/redis"
)

// StateStore owns ratchet-state persistence. Sessions are stateless
// handles; all evolving key material lives here, addressed by
// (local device, remote user, remote device).
type StateStore interface {
	// Load returns (nil, nil) when no state exists for key.
	Load(ctx context.Context, key string) (*doubleratchet.RatchetState, error)
	Save(ctx context.Context, key string, st *doubleratchet.RatchetState) error
}

func stateKey(localDevice model.DeviceID, remoteUserID string, remoteDevice model.DeviceID) string {
	return fmt.Sprintf("ratchet:%s:%s:%s", localDevice, remoteUserID, remoteDevice)
}

type RedisStateStore struct {
	redis *redisSvc.RedisService
	ttl   time.Duration
}

func NewRedisStateStore(redis *redisSvc.RedisService, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{redis: redis, ttl: ttl}
}

func (s *RedisStateStore) Load(ctx context.Context, key string) (*doubleratchet.RatchetState, error) {
	v, ok, err := s.redis.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var st doubleratchet.RatchetState
	if err := json.Unmarshal([]byte(v), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RedisStateStore) Save(ctx context.Context, key string, st *doubleratchet.RatchetState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, s.ttl)
}

// MemoryStateStore keeps ratchet state in process. Used in tests and in
// single-process deployments without redis.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]*doubleratchet.RatchetState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]*doubleratchet.RatchetState)}
}

func (s *MemoryStateStore) Load(_ context.Context, key string) (*doubleratchet.RatchetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok {
		return nil, nil
	}
	// round-trip through JSON so callers get an independent copy
	data, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	var cpy doubleratchet.RatchetState
	if err := json.Unmarshal(data, &cpy); err != nil {
		return nil, err
	}
	return &cpy, nil
}

func (s *MemoryStateStore) Save(_ context.Context, key string, st *doubleratchet.RatchetState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = st
	return nil
}
