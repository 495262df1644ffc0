package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lumenflow/orchestrator/cmd/engine/params"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
	"github.com/lumenflow/orchestrator/common/redis"
)

// MemoryExecutor reads and writes scoped key/value and buffer slots.
// Subtypes: set, get, append, read.
type MemoryExecutor struct {
	store MemoryStore
}

// NewMemoryExecutor creates the memory executor
func NewMemoryExecutor(store MemoryStore) *MemoryExecutor {
	return &MemoryExecutor{store: store}
}

func (e *MemoryExecutor) Kind() models.NodeKind { return models.KindMemory }

func (e *MemoryExecutor) Execute(ctx context.Context, nc *Context) (*Result, error) {
	if e.store == nil {
		return nil, errs.New(errs.KindNotImplemented, "no memory store configured")
	}

	keyName := params.String(nc.Params, "key")
	if keyName == "" {
		return nil, errs.New(errs.KindInvalidInput, "memory node %s has no key", nc.Node.ID)
	}
	key := e.scopedKey(nc, keyName)

	switch nc.Node.Subtype {
	case "set":
		value := params.Map(nc.Params, "value")
		if value == nil {
			value = nc.Input
		}
		if err := e.store.Set(ctx, key, value); err != nil {
			return nil, err
		}
		return &Result{Output: map[string]any{models.DefaultOutputKey: value}}, nil

	case "get":
		value, err := e.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return &Result{Output: map[string]any{models.DefaultOutputKey: value}}, nil

	case "append":
		value := params.Map(nc.Params, "value")
		if value == nil {
			value = nc.Input
		}
		if err := e.store.Append(ctx, key, value); err != nil {
			return nil, err
		}
		return &Result{Output: map[string]any{models.DefaultOutputKey: value}}, nil

	case "read":
		limit := int64(params.Int(nc.Params, "limit", 100))
		values, err := e.store.Read(ctx, key, limit)
		if err != nil {
			return nil, err
		}
		items := make([]any, len(values))
		for i, v := range values {
			items[i] = v
		}
		return &Result{Output: map[string]any{models.DefaultOutputKey: items}}, nil

	default:
		return nil, errs.New(errs.KindNotImplemented, "memory subtype %q is not implemented", nc.Node.Subtype)
	}
}

// scopedKey namespaces memory slots. Execution scope is the default;
// workflow scope survives across executions of the same workflow.
func (e *MemoryExecutor) scopedKey(nc *Context, key string) string {
	switch params.String(nc.Params, "scope") {
	case "workflow":
		return fmt.Sprintf("mem:wf:%s:%s", nc.Workflow.ID, key)
	default:
		return fmt.Sprintf("mem:%s:%s", nc.ExecutionID, key)
	}
}

// RedisMemory implements MemoryStore on redis. Values are JSON documents;
// buffers are lists.
type RedisMemory struct {
	redis *redis.Client
}

// NewRedisMemory creates a redis-backed memory store
func NewRedisMemory(client *redis.Client) *RedisMemory {
	return &RedisMemory{redis: client}
}

func (m *RedisMemory) Set(ctx context.Context, key string, value map[string]any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "encode memory value")
	}
	return m.redis.SetWithExpiry(ctx, key, string(payload), 0)
}

func (m *RedisMemory) Get(ctx context.Context, key string) (map[string]any, error) {
	payload, err := m.redis.Get(ctx, key)
	if err == redis.ErrNotFound {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	var value map[string]any
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "decode memory value")
	}
	return value, nil
}

func (m *RedisMemory) Append(ctx context.Context, key string, value map[string]any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "encode memory value")
	}
	return m.redis.RPush(ctx, key, string(payload))
}

func (m *RedisMemory) Read(ctx context.Context, key string, limit int64) ([]map[string]any, error) {
	raw, err := m.redis.LRange(ctx, key, -limit, -1)
	if err != nil {
		return nil, err
	}
	values := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		var value map[string]any
		if err := json.Unmarshal([]byte(item), &value); err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "decode memory buffer item")
		}
		values = append(values, value)
	}
	return values, nil
}
