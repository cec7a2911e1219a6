package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileArea keeps an area in memory and persists it to a single JSON object
// file on every write.
type FileArea struct {
	name     string
	filePath string
	mu       sync.RWMutex
	values   map[string]json.RawMessage
	Notifier
}

// NewFileArea creates a file-backed area stored at dataDir/<name>.json.
func NewFileArea(dataDir, name string) (*FileArea, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	area := &FileArea{
		name:     name,
		filePath: filepath.Join(dataDir, name+".json"),
		values:   make(map[string]json.RawMessage),
	}

	if err := area.load(); err != nil {
		return nil, fmt.Errorf("failed to load %s area: %w", name, err)
	}

	return area, nil
}

func (f *FileArea) Name() string {
	return f.name
}

func (f *FileArea) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	return cloneRaw(v), ok, nil
}

func (f *FileArea) GetAll(_ context.Context) (map[string]json.RawMessage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(f.values))
	for k, v := range f.values {
		out[k] = cloneRaw(v)
	}
	return out, nil
}

func (f *FileArea) Set(_ context.Context, values map[string]json.RawMessage) error {
	if err := validateValues(f.name, values); err != nil {
		return err
	}

	f.mu.Lock()
	changes := diff(f.values, values)
	if len(changes) == 0 {
		f.mu.Unlock()
		return nil
	}
	next := f.copyValues()
	for k := range changes {
		next[k] = cloneRaw(values[k])
	}
	if err := f.save(next); err != nil {
		f.mu.Unlock()
		return err
	}
	f.values = next
	f.mu.Unlock()

	f.Publish(changes)
	return nil
}

func (f *FileArea) Remove(_ context.Context, keys ...string) error {
	f.mu.Lock()
	changes := make(Changes, len(keys))
	next := f.copyValues()
	for _, k := range keys {
		if old, ok := next[k]; ok {
			changes[k] = Change{OldValue: old}
			delete(next, k)
		}
	}
	if len(changes) == 0 {
		f.mu.Unlock()
		return nil
	}
	if err := f.save(next); err != nil {
		f.mu.Unlock()
		return err
	}
	f.values = next
	f.mu.Unlock()

	f.Publish(changes)
	return nil
}

func (f *FileArea) copyValues() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// load reads the area from its JSON file
func (f *FileArea) load() error {
	file, err := os.Open(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist yet, start empty
			return nil
		}
		return fmt.Errorf("failed to open area file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&f.values); err != nil {
		return fmt.Errorf("failed to decode area data: %w", err)
	}
	if f.values == nil {
		f.values = make(map[string]json.RawMessage)
	}
	return nil
}

// save writes values to a temp file in the same directory and renames it over
// the area file, so a crash never leaves a partial file behind.
func (f *FileArea) save(values map[string]json.RawMessage) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.filePath), ".dlevel-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(values); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode area data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, f.filePath); err != nil {
		os.Remove(tmpPath) // Best effort cleanup
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
