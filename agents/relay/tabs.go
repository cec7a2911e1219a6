package relay

import (
	"sort"
	"sync"
	"time"

	"dlevel-stack/internal/models"
	"dlevel-stack/shared/youtube"
)

// TabRegistry tracks the pages known to the relay. Page agents report
// navigations; every message carrying a sender refreshes its tab.
type TabRegistry struct {
	mu   sync.RWMutex
	tabs map[int]*models.Tab
	now  func() time.Time
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{
		tabs: make(map[int]*models.Tab),
		now:  time.Now,
	}
}

// Touch records url as the current address of tab id.
func (t *TabRegistry) Touch(id int, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tab, ok := t.tabs[id]
	if !ok {
		tab = &models.Tab{ID: id}
		t.tabs[id] = tab
	}
	if url != "" {
		tab.URL = url
	}
	tab.UpdatedAt = t.now()
}

func (t *TabRegistry) Remove(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tabs, id)
}

// MarkPanelOpen notes that the side panel was opened for tab id.
func (t *TabRegistry) MarkPanelOpen(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tab, ok := t.tabs[id]; ok {
		tab.SidePanelOpen = true
	}
}

// List returns a snapshot, most recently updated first.
func (t *TabRegistry) List() []models.Tab {
	t.mu.RLock()
	out := make([]models.Tab, 0, len(t.tabs))
	for _, tab := range t.tabs {
		out = append(out, *tab)
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FindEligible returns the first tab whose URL matches a watch page pattern.
func (t *TabRegistry) FindEligible() (models.Tab, bool) {
	for _, tab := range t.List() {
		if youtube.MatchesTabPattern(tab.URL) {
			return tab, true
		}
	}
	return models.Tab{}, false
}
