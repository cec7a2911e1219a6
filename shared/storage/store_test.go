package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// areaFactories builds one fresh area per backend that runs without a server.
func areaFactories(t *testing.T) map[string]func() Area {
	t.Helper()
	return map[string]func() Area{
		"memory": func() Area { return NewMemoryArea(AreaLocal) },
		"file": func() Area {
			a, err := NewFileArea(t.TempDir(), AreaLocal)
			require.NoError(t, err)
			return a
		},
		"sqlite": func() Area {
			db, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			return db.Area(AreaLocal)
		},
	}
}

func TestAreaSetGetRemove(t *testing.T) {
	ctx := context.Background()
	for name, newArea := range areaFactories(t) {
		t.Run(name, func(t *testing.T) {
			a := newArea()

			require.NoError(t, SetJSON(ctx, a, map[string]any{
				"abc12345678": map[string]any{"dLevel": 72, "title": "X"},
				"apiKey":      "secret",
			}))

			var key string
			ok, err := GetJSON(ctx, a, "apiKey", &key)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "secret", key)

			all, err := a.GetAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			require.NoError(t, a.Remove(ctx, "abc12345678"))
			_, ok, err = a.Get(ctx, "abc12345678")
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = a.Get(ctx, "apiKey")
			require.NoError(t, err)
			assert.True(t, ok, "remove must only touch the named key")
		})
	}
}

func TestAreaNotifications(t *testing.T) {
	ctx := context.Background()
	for name, newArea := range areaFactories(t) {
		t.Run(name, func(t *testing.T) {
			a := newArea()

			var batches []Changes
			unsubscribe := a.Subscribe(func(c Changes) { batches = append(batches, c) })

			require.NoError(t, SetJSON(ctx, a, map[string]any{"a": 1, "b": 2}))
			require.Len(t, batches, 1)
			assert.Len(t, batches[0], 2)
			assert.Nil(t, batches[0]["a"].OldValue)
			assert.JSONEq(t, "1", string(batches[0]["a"].NewValue))

			// Identical values produce no notification.
			require.NoError(t, SetJSON(ctx, a, map[string]any{"a": 1}))
			assert.Len(t, batches, 1)

			require.NoError(t, SetJSON(ctx, a, map[string]any{"a": 3}))
			require.Len(t, batches, 2)
			assert.JSONEq(t, "1", string(batches[1]["a"].OldValue))
			assert.JSONEq(t, "3", string(batches[1]["a"].NewValue))

			require.NoError(t, a.Remove(ctx, "b", "missing"))
			require.Len(t, batches, 3)
			assert.Len(t, batches[2], 1)
			assert.Nil(t, batches[2]["b"].NewValue)

			unsubscribe()
			require.NoError(t, SetJSON(ctx, a, map[string]any{"c": 4}))
			assert.Len(t, batches, 3)
		})
	}
}

func TestAreaRejectsInvalidValues(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryArea(AreaSession)

	assert.Error(t, a.Set(ctx, map[string]json.RawMessage{"": json.RawMessage(`1`)}))
	assert.Error(t, a.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`{nope`)}))
}

func TestSubscriberPanicDoesNotStopDelivery(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryArea(AreaSession)

	delivered := 0
	a.Subscribe(func(Changes) { panic("boom") })
	a.Subscribe(func(Changes) { delivered++ })

	require.NoError(t, SetJSON(ctx, a, map[string]any{"k": true}))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 2, a.count())
}

func TestFileAreaPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := NewFileArea(dir, AreaLocal)
	require.NoError(t, err)
	require.NoError(t, SetJSON(ctx, a, map[string]any{"apiKey": "k1"}))

	reopened, err := NewFileArea(dir, AreaLocal)
	require.NoError(t, err)

	var key string
	ok, err := GetJSON(ctx, reopened, "apiKey", &key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "k1", key)
	assert.FileExists(t, filepath.Join(dir, "local.json"))
}

func TestSQLiteAreasAreIsolated(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer db.Close()

	local, session := db.Area(AreaLocal), db.Area(AreaSession)
	require.NoError(t, SetJSON(ctx, local, map[string]any{"k": "local"}))
	require.NoError(t, SetJSON(ctx, session, map[string]any{"k": "session"}))

	var v string
	_, err = GetJSON(ctx, local, "k", &v)
	require.NoError(t, err)
	assert.Equal(t, "local", v)

	all, err := session.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStoreArea(t *testing.T) {
	s := &Store{Local: NewMemoryArea(AreaLocal), Session: NewMemoryArea(AreaSession)}

	a, err := s.Area("session")
	require.NoError(t, err)
	assert.Equal(t, AreaSession, a.Name())

	_, err = s.Area("sync")
	assert.ErrorIs(t, err, ErrUnknownArea)
}

func TestDecode(t *testing.T) {
	var n int
	assert.False(t, Decode(nil, &n))
	assert.True(t, Decode(json.RawMessage(`5`), &n))
	assert.Equal(t, 5, n)
}
