package oauth

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
	"github.com/lumenflow/orchestrator/common/redis"
)

const stateKeyPrefix = "oauth2:state:"

// StateStore holds pending authorization states. Consume is strictly
// single-use: a second consume of the same token must fail.
type StateStore interface {
	Create(ctx context.Context, token string, record *models.OAuth2StateRecord, ttl time.Duration) error
	Consume(ctx context.Context, token string) (*models.OAuth2StateRecord, error)
}

// RedisStateStore keeps states in redis with a TTL. GETDEL gives atomic
// consume-once semantics across engine replicas.
type RedisStateStore struct {
	redis *redis.Client
}

// NewRedisStateStore creates a redis-backed state store
func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{redis: client}
}

func (s *RedisStateStore) Create(ctx context.Context, token string, record *models.OAuth2StateRecord, ttl time.Duration) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "marshal state record")
	}
	return s.redis.SetWithExpiry(ctx, stateKeyPrefix+token, string(payload), ttl)
}

func (s *RedisStateStore) Consume(ctx context.Context, token string) (*models.OAuth2StateRecord, error) {
	payload, err := s.redis.GetDel(ctx, stateKeyPrefix+token)
	if err == redis.ErrNotFound {
		return nil, errs.New(errs.KindInvalidState, "state token is unknown, expired, or already used")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "consume state token")
	}

	var record models.OAuth2StateRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "unmarshal state record")
	}
	return &record, nil
}

// MemoryStateStore is an in-process store for tests and single-node runs
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryState
}

type memoryState struct {
	record    *models.OAuth2StateRecord
	expiresAt time.Time
}

// NewMemoryStateStore creates an empty in-memory store
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]memoryState)}
}

func (s *MemoryStateStore) Create(ctx context.Context, token string, record *models.OAuth2StateRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = memoryState{record: record, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Consume(ctx context.Context, token string) (*models.OAuth2StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.entries, token)
		return nil, errs.New(errs.KindInvalidState, "state token is unknown, expired, or already used")
	}
	delete(s.entries, token)
	return entry.record, nil
}

// Sweep drops expired entries. Redis expires keys itself; the in-memory
// store needs an explicit pass.
func (s *MemoryStateStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for token, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, token)
		}
	}
}
