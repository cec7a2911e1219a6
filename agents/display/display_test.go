package display

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"dlevel-stack/internal/models"
	"dlevel-stack/shared/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(key, title string, level float64) Entry {
	return Entry{Key: key, Record: models.AnalysisRecord{VideoID: key, Title: title, DLevel: level}}
}

func keys(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Key)
	}
	return out
}

func TestBucketFilterExample(t *testing.T) {
	entries := []Entry{entry("abc12345678", "X", 72)}

	assert.Equal(t, []string{"abc12345678"}, keys(Apply(entries, Filter{Buckets: []Bucket{BucketEnergetic}})))
	assert.Empty(t, Apply(entries, Filter{Buckets: []Bucket{BucketCalm}}))
	assert.Equal(t, "Energetic (66-85)", BucketEnergetic.Label())
	assert.Equal(t, "Calm (1-30)", BucketCalm.Label())
}

func TestApply(t *testing.T) {
	entries := []Entry{
		entry("a", "Rocket Launch", 90),
		entry("b", "Quiet rocket build", 31),
		entry("c", "Forest walk", 65),
		entry("d", "Cartoon Mix", 66),
		entry("e", "Lullaby", 30),
		entry("f", "Rocket Science", 31),
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"no filter sorts ascending", Filter{}, []string{"e", "b", "f", "c", "d", "a"}},
		{"descending reverses ascending", Filter{Order: Descending}, []string{"a", "d", "c", "f", "b", "e"}},
		{"inclusive range", Filter{Buckets: []Bucket{BucketBalanced}}, []string{"b", "f", "c"}},
		{"buckets combine with or", Filter{Buckets: []Bucket{BucketCalm, BucketElectrifying}}, []string{"e", "a"}},
		{"search is case insensitive", Filter{Query: "ROCKET"}, []string{"b", "f", "a"}},
		{"search and bucket combine with and", Filter{Query: "rocket", Buckets: []Bucket{BucketBalanced}}, []string{"b", "f"}},
		{"no match", Filter{Query: "rocket", Buckets: []Bucket{BucketEnergetic}}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, keys(Apply(entries, tt.filter)))
		})
	}
}

func TestBucketBoundaries(t *testing.T) {
	tests := []struct {
		level float64
		want  Bucket
	}{
		{1, BucketCalm},
		{30, BucketCalm},
		{31, BucketBalanced},
		{65, BucketBalanced},
		{66, BucketEnergetic},
		{85, BucketEnergetic},
		{86, BucketElectrifying},
		{100, BucketElectrifying},
	}

	for _, tt := range tests {
		for _, b := range Buckets {
			assert.Equal(t, b == tt.want, b.Contains(tt.level), "level %v bucket %s", tt.level, b)
		}
	}
	assert.False(t, BucketCalm.Contains(0))
	assert.False(t, BucketElectrifying.Contains(101))
}

func TestParseBucket(t *testing.T) {
	b, err := ParseBucket(" Energetic ")
	require.NoError(t, err)
	assert.Equal(t, BucketEnergetic, b)

	_, err = ParseBucket("loud")
	assert.Error(t, err)
}

func newStore(t *testing.T) *storage.MemoryArea {
	t.Helper()
	local := storage.NewMemoryArea(storage.AreaLocal)
	require.NoError(t, storage.SetJSON(context.Background(), local, map[string]any{
		models.KeyAPIKey: "secret",
		"abc12345678":    models.AnalysisRecord{VideoID: "abc12345678", Title: "X", DLevel: 72},
		"def12345678":    models.AnalysisRecord{VideoID: "def12345678", Title: "Y", DLevel: 20},
	}))
	require.NoError(t, local.Set(context.Background(), map[string]json.RawMessage{"junk0000000": json.RawMessage(`"text"`)}))
	return local
}

func TestListSkipsCredentialAndJunk(t *testing.T) {
	d := New(newStore(t))

	entries, err := d.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"abc12345678", "def12345678"}, keys(entries))
	assert.Equal(t, "X", entries[0].Record.Title)
}

func TestDeleteRemovesExactlyOneKey(t *testing.T) {
	ctx := context.Background()
	local := newStore(t)
	d := New(local)

	var prompt string
	removed, err := d.Delete(ctx, "abc12345678", func(p string) bool {
		prompt = p
		return true
	})
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, DeletePrompt, prompt)

	all, err := local.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.NotContains(t, all, "abc12345678")
	assert.Contains(t, all, "def12345678")
	assert.Contains(t, all, models.KeyAPIKey)
	assert.Contains(t, all, "junk0000000")
}

func TestDeleteDeclined(t *testing.T) {
	ctx := context.Background()
	local := newStore(t)
	d := New(local)

	removed, err := d.Delete(ctx, "abc12345678", func(string) bool { return false })
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok, err := local.Get(ctx, "abc12345678")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteUnknownOrCredential(t *testing.T) {
	d := New(newStore(t))

	_, err := d.Delete(context.Background(), "missing0000", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.Delete(context.Background(), models.KeyAPIKey, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCredential(t *testing.T) {
	ctx := context.Background()
	d := New(storage.NewMemoryArea(storage.AreaLocal))

	key, err := d.Credential(ctx)
	require.NoError(t, err)
	assert.Empty(t, key)

	assert.Error(t, d.SaveCredential(ctx, "  "))
	require.NoError(t, d.SaveCredential(ctx, " new-key "))

	key, err = d.Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-key", key)
}

func TestWatchReloadsOnChange(t *testing.T) {
	ctx := context.Background()
	local := newStore(t)
	d := New(local)

	var (
		mu   sync.Mutex
		seen [][]string
	)
	stop := d.Watch(ctx, func(entries []Entry) {
		mu.Lock()
		seen = append(seen, keys(entries))
		mu.Unlock()
	})

	require.NoError(t, storage.SetJSON(ctx, local, map[string]any{
		"ghi12345678": models.AnalysisRecord{VideoID: "ghi12345678", Title: "Z", DLevel: 50},
	}))
	stop()
	require.NoError(t, local.Remove(ctx, "abc12345678"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, []string{"abc12345678", "def12345678", "ghi12345678"}, seen[0])
}

func TestDetailRendering(t *testing.T) {
	r := models.AnalysisRecord{
		VideoID:        "abc12345678",
		Title:          "Building a Rocket",
		Verdict:        "Mostly calm with a loud finale.",
		DLevel:         72,
		DopamineTypes:  []models.DopamineType{{Type: "Novelty", Value: 40}, {Type: "Reward", Value: 60}},
		CognitiveDepth: models.DepthScore{Index: "High", Score: 80},
		FullAnalysis:   `### Pacing\nCuts every **two** seconds.`,
	}

	md := DetailMarkdown(r)
	assert.Contains(t, md, "**D-Level: 72** (Energetic)")
	assert.Contains(t, md, "- Novelty: 40%")
	assert.Contains(t, md, "- Cognitive Depth: 80/100 (High)")
	assert.Contains(t, md, "https://www.youtube.com/watch?v=abc12345678")

	html := DetailHTML(r)
	assert.Contains(t, html, "<h3>Pacing</h3>")
	assert.Contains(t, html, "<strong>two</strong>")

	text := DetailText(r)
	assert.Contains(t, text, "Building a Rocket")
	assert.Contains(t, text, "  - Reward: 60%")
	assert.Contains(t, text, "Cuts every two seconds.")
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, []Entry{entry("abc12345678", "X", 72)}))
	assert.Contains(t, buf.String(), "VIDEO ID")
	assert.Contains(t, buf.String(), "abc12345678  72       Energetic  X")

	buf.Reset()
	require.NoError(t, WriteTable(&buf, nil))
	assert.Contains(t, buf.String(), "No analyses found.")
}
