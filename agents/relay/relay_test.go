package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dlevel-stack/internal/errs"
	"dlevel-stack/internal/models"
	"dlevel-stack/shared/ai"
	"dlevel-stack/shared/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	calls    atomic.Int32
	record   models.AnalysisRecord
	response string
	err      error
	release  chan struct{}
}

func (f *fakeAnalyzer) Analyze(_ context.Context, apiKey, videoID, title string) (*models.AnalysisRecord, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.response != "" {
		return ai.ParseAnalysis(f.response)
	}
	rec := f.record
	return &rec, nil
}

type fakeTitles struct {
	calls atomic.Int32
	title string
}

func (f *fakeTitles) Lookup(context.Context, string) string {
	f.calls.Add(1)
	return f.title
}

type fakePanels struct {
	opened []int
}

func (f *fakePanels) OpenSidePanel(tabID int) {
	f.opened = append(f.opened, tabID)
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	relay    *Relay
	local    *storage.MemoryArea
	session  *storage.MemoryArea
	analyzer *fakeAnalyzer
	titles   *fakeTitles
	panels   *fakePanels
}

func newHarness(t *testing.T, withKey bool) *harness {
	t.Helper()
	h := &harness{
		local:   storage.NewMemoryArea(storage.AreaLocal),
		session: storage.NewMemoryArea(storage.AreaSession),
		analyzer: &fakeAnalyzer{record: models.AnalysisRecord{
			VideoID:        "zzzzzzzzzzz",
			Title:          "Some Other Video",
			Verdict:        "Busy",
			DLevel:         72,
			DLevelCategory: "Energetic",
		}},
		titles: &fakeTitles{title: "Real Title"},
		panels: &fakePanels{},
	}
	if withKey {
		require.NoError(t, storage.SetJSON(context.Background(), h.local, map[string]any{models.KeyAPIKey: "key-1"}))
	}
	h.relay = New(Deps{
		Local:    h.local,
		Session:  h.session,
		Analyzer: h.analyzer,
		Titles:   h.titles,
		Panels:   h.panels,
	}, WithClock(func() time.Time { return fixedNow }))
	return h
}

func TestAnalyzeVideoOverridesIdentity(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	resp := h.relay.Handle(ctx, models.Message{Type: models.MessageAnalyzeVideo, VideoID: "abc12345678"})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "abc12345678", resp.Analysis.VideoID)
	assert.Equal(t, "Real Title", resp.Analysis.Title)
	assert.Equal(t, "2025-06-01T12:00:00.000Z", resp.Analysis.CreationDate)

	var stored models.AnalysisRecord
	ok, err := storage.GetJSON(ctx, h.local, "abc12345678", &stored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc12345678", stored.VideoID)
	assert.Equal(t, "Real Title", stored.Title)
	assert.EqualValues(t, 72, stored.DLevel)
}

func TestAnalyzeVideoKeepsServiceCreationDate(t *testing.T) {
	h := newHarness(t, true)
	h.analyzer.record.CreationDate = "2024-01-01T00:00:00.000Z"

	rec, err := h.relay.AnalyzeVideo(context.Background(), "abc12345678")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00.000Z", rec.CreationDate)
}

func TestAnalyzeVideoFillsMissingCategory(t *testing.T) {
	h := newHarness(t, true)
	h.analyzer.record.DLevelCategory = "Wild"
	h.analyzer.record.DLevel = 20

	rec, err := h.relay.AnalyzeVideo(context.Background(), "abc12345678")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryCalm, rec.DLevelCategory)
}

func TestAnalyzeWithoutCredentialMakesNoCalls(t *testing.T) {
	for _, msgType := range []models.MessageType{models.MessageAnalyzeVideo, models.MessageAnalyzeVideoFromSidePanel} {
		t.Run(string(msgType), func(t *testing.T) {
			h := newHarness(t, false)
			h.relay.Tabs().Touch(7, "https://www.youtube.com/watch?v=abc12345678")

			resp := h.relay.Handle(context.Background(), models.Message{Type: msgType, VideoID: "abc12345678"})
			assert.False(t, resp.Success)
			assert.Equal(t, string(errs.KindMissingCredential), resp.ErrorKind)
			assert.Contains(t, resp.Error, "API key")
			assert.Zero(t, h.titles.calls.Load())
			assert.Zero(t, h.analyzer.calls.Load())
		})
	}
}

func TestInvalidResponseIsNotPersisted(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		response string
	}{
		{name: "analyzer error", err: errs.InvalidResponse(assert.AnError)},
		{name: "null document", response: "```json\nnull\n```"},
		{name: "array document", response: "[]"},
		{name: "prose", response: "Sorry, I cannot watch videos."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			h.analyzer.err = tt.err
			h.analyzer.response = tt.response

			resp := h.relay.Handle(context.Background(), models.Message{Type: models.MessageAnalyzeVideo, VideoID: "abc12345678"})
			assert.False(t, resp.Success)
			assert.Equal(t, string(errs.KindInvalidResponseFormat), resp.ErrorKind)
			assert.Equal(t, "Failed to parse the analysis from the AI response.", resp.Error)

			all, err := h.local.GetAll(context.Background())
			require.NoError(t, err)
			assert.Len(t, all, 1, "only the credential may be stored")
		})
	}
}

func TestRemoteServiceErrorIsReported(t *testing.T) {
	h := newHarness(t, true)
	h.analyzer.err = errs.RemoteService(503, "Service Unavailable", nil)

	_, err := h.relay.AnalyzeVideo(context.Background(), "abc12345678")
	assert.ErrorIs(t, err, errs.ErrRemoteService)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 503, e.StatusCode)
}

func TestConcurrentAnalysesShareOneCall(t *testing.T) {
	h := newHarness(t, true)
	h.analyzer.release = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*models.AnalysisRecord, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := h.relay.AnalyzeVideo(context.Background(), "abc12345678")
			assert.NoError(t, err)
			results[i] = rec
		}(i)
	}

	require.Eventually(t, func() bool { return h.analyzer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// Give the other callers time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(h.analyzer.release)
	wg.Wait()

	assert.EqualValues(t, 1, h.analyzer.calls.Load())
	for _, rec := range results {
		require.NotNil(t, rec)
		assert.Equal(t, "abc12345678", rec.VideoID)
	}
}

func TestAnalyzeFromSidePanel(t *testing.T) {
	t.Run("no eligible tab", func(t *testing.T) {
		h := newHarness(t, true)
		h.relay.Tabs().Touch(1, "https://example.com/")

		resp := h.relay.Handle(context.Background(), models.Message{Type: models.MessageAnalyzeVideoFromSidePanel})
		assert.False(t, resp.Success)
		assert.Equal(t, string(errs.KindNoEligibleTab), resp.ErrorKind)
	})

	t.Run("missing video id", func(t *testing.T) {
		h := newHarness(t, true)
		h.relay.Tabs().Touch(1, "https://www.youtube.com/watch?list=abc")

		resp := h.relay.Handle(context.Background(), models.Message{Type: models.MessageAnalyzeVideoFromSidePanel})
		assert.False(t, resp.Success)
		assert.Equal(t, string(errs.KindMissingVideoID), resp.ErrorKind)
	})

	t.Run("kids tab", func(t *testing.T) {
		h := newHarness(t, true)
		h.relay.Handle(context.Background(), models.Message{
			Type:   models.MessageTabNavigated,
			Sender: &models.Sender{TabID: 3, URL: "https://www.youtubekids.com/watch?v=kid12345678"},
		})

		resp := h.relay.Handle(context.Background(), models.Message{Type: models.MessageAnalyzeVideoFromSidePanel})
		require.True(t, resp.Success, resp.Error)
		assert.Equal(t, "Analysis completed successfully!", resp.Message)
		assert.Equal(t, "kid12345678", resp.Analysis.VideoID)
	})
}

func TestClearSidePanel(t *testing.T) {
	h := newHarness(t, false)

	var seen []storage.Changes
	h.session.Subscribe(func(c storage.Changes) { seen = append(seen, c) })

	resp := h.relay.Handle(context.Background(), models.Message{Type: models.MessageClearSidePanel, Sender: &models.Sender{TabID: 1}})
	require.True(t, resp.Success)
	assert.Equal(t, fixedNow.UnixMilli(), resp.Timestamp)

	var ts int64
	ok, err := storage.GetJSON(context.Background(), h.session, models.KeyClearSidePanel, &ts)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, fixedNow.UnixMilli(), ts)
	require.Len(t, seen, 1)
	assert.Contains(t, seen[0], models.KeyClearSidePanel)

	all, err := h.local.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRunClientAnalysis(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	resp := h.relay.Handle(ctx, models.Message{Type: models.MessageRunClientAnalysis, Text: "Video ID: abc12345678"})
	assert.False(t, resp.Success, "messages without a sender tab are ignored")

	resp = h.relay.Handle(ctx, models.Message{
		Type:   models.MessageRunClientAnalysis,
		Text:   "Video ID: abc12345678",
		Sender: &models.Sender{TabID: 4, URL: "https://www.youtube.com/watch?v=abc12345678"},
	})
	require.True(t, resp.Success)

	var text string
	var start int64
	_, err := storage.GetJSON(ctx, h.session, models.KeyPendingText, &text)
	require.NoError(t, err)
	_, err = storage.GetJSON(ctx, h.session, models.KeyAnalysisStartTime, &start)
	require.NoError(t, err)
	assert.Equal(t, "Video ID: abc12345678", text)
	assert.Equal(t, fixedNow.UnixMilli(), start)
}

func TestOpenSidePanel(t *testing.T) {
	h := newHarness(t, false)

	h.relay.Handle(context.Background(), models.Message{Type: models.MessageOpenSidePanel})
	assert.Empty(t, h.panels.opened)

	h.relay.Handle(context.Background(), models.Message{Type: models.MessageOpenSidePanel, Sender: &models.Sender{TabID: 9}})
	assert.Equal(t, []int{9}, h.panels.opened)

	tabs := h.relay.Tabs().List()
	require.Len(t, tabs, 1)
	assert.True(t, tabs[0].SidePanelOpen)
}

func TestTabClosed(t *testing.T) {
	h := newHarness(t, false)
	sender := &models.Sender{TabID: 2, URL: "https://www.youtube.com/watch?v=abc12345678"}

	h.relay.Handle(context.Background(), models.Message{Type: models.MessageTabNavigated, Sender: sender})
	require.Len(t, h.relay.Tabs().List(), 1)

	h.relay.Handle(context.Background(), models.Message{Type: models.MessageTabClosed, Sender: sender})
	assert.Empty(t, h.relay.Tabs().List())
}

func TestUnknownMessage(t *testing.T) {
	h := newHarness(t, false)
	resp := h.relay.Handle(context.Background(), models.Message{Type: "PING"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "PING")
}

func TestSeedCredential(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	require.NoError(t, h.relay.SeedCredential(ctx, "from-env"))
	require.NoError(t, h.relay.SeedCredential(ctx, "second"))

	var key string
	_, err := storage.GetJSON(ctx, h.local, models.KeyAPIKey, &key)
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)
}

func TestTabRegistryOrder(t *testing.T) {
	reg := NewTabRegistry()
	now := fixedNow
	reg.now = func() time.Time { return now }

	reg.Touch(1, "https://www.youtube.com/watch?v=aaaaaaaaaaa")
	now = now.Add(time.Second)
	reg.Touch(2, "https://www.youtube.com/watch?v=bbbbbbbbbbb")

	tab, ok := reg.FindEligible()
	require.True(t, ok)
	assert.Equal(t, 2, tab.ID)

	now = now.Add(time.Second)
	reg.Touch(1, "")
	tab, _ = reg.FindEligible()
	assert.Equal(t, 1, tab.ID)
	assert.Equal(t, "https://www.youtube.com/watch?v=aaaaaaaaaaa", tab.URL)
}
