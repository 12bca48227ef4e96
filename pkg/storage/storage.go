// Package storage persists small client settings, such as the selected sort
// order of a list, under string keys. Values are CBOR-encoded.
package storage

import (
	"context"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Store is implemented by all backends. Get reports false when the key is
// absent; dst is left untouched in that case.
type Store interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
}

func Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func Unmarshal(data []byte, dst any) error {
	return cbor.Unmarshal(data, dst)
}

// Memory keeps encoded values in a map, so it decodes exactly like the
// durable backends.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.RLock()
	data, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, Unmarshal(data, dst)
}

func (m *Memory) Set(_ context.Context, key string, value any) error {
	data, err := Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = data
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Keys returns the stored keys in no particular order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}
