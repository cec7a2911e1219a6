package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryArea is a process-local area. It backs the session area, which does
// not outlive the relay.
type MemoryArea struct {
	name   string
	mu     sync.RWMutex
	values map[string]json.RawMessage
	Notifier
}

func NewMemoryArea(name string) *MemoryArea {
	return &MemoryArea{
		name:   name,
		values: make(map[string]json.RawMessage),
	}
}

func (m *MemoryArea) Name() string {
	return m.name
}

func (m *MemoryArea) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return cloneRaw(v), ok, nil
}

func (m *MemoryArea) GetAll(_ context.Context) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(m.values))
	for k, v := range m.values {
		out[k] = cloneRaw(v)
	}
	return out, nil
}

func (m *MemoryArea) Set(_ context.Context, values map[string]json.RawMessage) error {
	if err := validateValues(m.name, values); err != nil {
		return err
	}

	m.mu.Lock()
	changes := diff(m.values, values)
	for k := range changes {
		m.values[k] = cloneRaw(values[k])
	}
	m.mu.Unlock()

	m.Publish(changes)
	return nil
}

func (m *MemoryArea) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	changes := make(Changes, len(keys))
	for _, k := range keys {
		if old, ok := m.values[k]; ok {
			changes[k] = Change{OldValue: old}
			delete(m.values, k)
		}
	}
	m.mu.Unlock()

	m.Publish(changes)
	return nil
}

func validateValues(area string, values map[string]json.RawMessage) error {
	for k, v := range values {
		if k == "" {
			return fmt.Errorf("%w: %s: empty key", ErrInvalidValue, area)
		}
		if !json.Valid(v) {
			return fmt.Errorf("%w: %s/%s is not valid JSON", ErrInvalidValue, area, k)
		}
	}
	return nil
}
