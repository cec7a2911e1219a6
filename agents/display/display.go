package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"dlevel-stack/internal/models"
	"dlevel-stack/shared/storage"
)

// DeletePrompt is shown to the user before a record is removed.
const DeletePrompt = "Delete this analysis? This action cannot be undone."

var ErrNotFound = errors.New("analysis not found")

// Display is the popup: it browses the analyses cached in the persistent
// area and manages the credential.
type Display struct {
	local storage.Area
}

func New(local storage.Area) *Display {
	return &Display{local: local}
}

// List returns every cached analysis, ordered by key. The credential and
// entries that are not analysis records are left out.
func (d *Display) List(ctx context.Context) ([]Entry, error) {
	values, err := d.local.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read analyses: %w", err)
	}

	entries := make([]Entry, 0, len(values))
	for key, raw := range values {
		if key == models.KeyAPIKey {
			continue
		}
		var record models.AnalysisRecord
		if !storage.Decode(raw, &record) {
			slog.Warn("skipping unreadable entry", slog.String("key", key))
			continue
		}
		entries = append(entries, Entry{Key: key, Record: record})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Get returns the analysis stored under key.
func (d *Display) Get(ctx context.Context, key string) (Entry, error) {
	if key == models.KeyAPIKey {
		return Entry{}, ErrNotFound
	}
	var record models.AnalysisRecord
	ok, err := storage.GetJSON(ctx, d.local, key, &record)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Key: key, Record: record}, nil
}

// Delete removes exactly the record under key once confirm agrees. It reports
// whether the record was removed.
func (d *Display) Delete(ctx context.Context, key string, confirm func(prompt string) bool) (bool, error) {
	if _, err := d.Get(ctx, key); err != nil {
		return false, err
	}
	if confirm != nil && !confirm(DeletePrompt) {
		return false, nil
	}
	if err := d.local.Remove(ctx, key); err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", key, err)
	}
	slog.Info("analysis deleted", slog.String("video_id", key))
	return true, nil
}

func (d *Display) Credential(ctx context.Context) (string, error) {
	var key string
	if _, err := storage.GetJSON(ctx, d.local, models.KeyAPIKey, &key); err != nil {
		return "", err
	}
	return key, nil
}

func (d *Display) SaveCredential(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("API key must not be empty")
	}
	return storage.SetJSON(ctx, d.local, map[string]any{models.KeyAPIKey: key})
}

// Watch calls fn with a fresh list after every change to the persistent
// area. The returned func stops watching.
func (d *Display) Watch(ctx context.Context, fn func([]Entry)) func() {
	return d.local.Subscribe(func(storage.Changes) {
		entries, err := d.List(ctx)
		if err != nil {
			slog.Warn("failed to reload analyses", slog.Any("error", err))
			return
		}
		fn(entries)
	})
}
