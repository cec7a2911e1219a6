// Package storage provides the key-value areas shared by the agents: a
// persistent "local" area holding the credential and analysis records, and an
// ephemeral "session" area holding the pending-analysis and clear signals.
// Every area notifies subscribers of the keys changed by each write.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const (
	AreaLocal   = "local"
	AreaSession = "session"
)

var (
	// ErrUnknownArea is returned when an area name is neither local nor session.
	ErrUnknownArea = errors.New("unknown storage area")
	// ErrInvalidValue is returned by Set for an empty key or a non-JSON value.
	ErrInvalidValue = errors.New("invalid storage value")
)

// Change describes one key touched by a write. NewValue is nil when the key
// was removed, OldValue is nil when it did not exist.
type Change struct {
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

// Changes maps each key touched by a single write to its change.
type Changes map[string]Change

type Area interface {
	Name() string
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	GetAll(ctx context.Context) (map[string]json.RawMessage, error)
	Set(ctx context.Context, values map[string]json.RawMessage) error
	Remove(ctx context.Context, keys ...string) error
	// Subscribe registers fn for change notifications. The returned func
	// unregisters it.
	Subscribe(fn func(Changes)) (unsubscribe func())
}

// GetJSON decodes key into v. It reports false when the key is absent.
func GetJSON(ctx context.Context, a Area, key string, v any) (bool, error) {
	raw, ok, err := a.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode %s/%s: %w", a.Name(), key, err)
	}
	return true, nil
}

// SetJSON encodes each value and writes them in one Set call, so subscribers
// see them as a single batch.
func SetJSON(ctx context.Context, a Area, values map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s/%s: %w", a.Name(), k, err)
		}
		encoded[k] = raw
	}
	return a.Set(ctx, encoded)
}

// Decode unmarshals a change value, treating nil as absent.
func Decode(raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// Notifier fans out change batches to subscribers. Delivery happens on the
// writer's goroutine after the area's own lock has been released.
type Notifier struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Changes)
}

func (n *Notifier) Subscribe(fn func(Changes)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(Changes))
	}
	id := n.next
	n.next++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Publish delivers changes to every subscriber. Empty batches are dropped.
func (n *Notifier) Publish(changes Changes) {
	if len(changes) == 0 {
		return
	}
	n.mu.RLock()
	subs := make([]func(Changes), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.RUnlock()

	for _, fn := range subs {
		deliver(fn, changes)
	}
}

func (n *Notifier) count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

func deliver(fn func(Changes), changes Changes) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("storage subscriber panicked", slog.Any("panic", r))
		}
	}()
	fn(changes)
}

// diff builds the change batch for a set over the previous values. Keys whose
// value is byte-identical are left out.
func diff(prev map[string]json.RawMessage, values map[string]json.RawMessage) Changes {
	changes := make(Changes, len(values))
	for k, v := range values {
		old, existed := prev[k]
		if existed && bytes.Equal(old, v) {
			continue
		}
		c := Change{NewValue: cloneRaw(v)}
		if existed {
			c.OldValue = cloneRaw(old)
		}
		changes[k] = c
	}
	return changes
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
