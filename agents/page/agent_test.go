package page

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dlevel-stack/internal/errs"
	"dlevel-stack/internal/models"
	"dlevel-stack/shared/config"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	mu   sync.Mutex
	url  string
	html string
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Document(context.Context) (*goquery.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return goquery.NewDocumentFromReader(strings.NewReader(p.html))
}

func (p *fakePage) navigate(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

type fakeBridge struct {
	mu       sync.Mutex
	alive    bool
	fail     map[models.MessageType]error
	messages []models.Message
}

func (b *fakeBridge) Send(_ context.Context, msg models.Message) (*models.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return nil, errs.ErrInvalidatedContext
	}
	b.messages = append(b.messages, msg)
	if err := b.fail[msg.Type]; err != nil {
		return nil, err
	}
	return &models.Response{Success: true}, nil
}

func (b *fakeBridge) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive
}

func (b *fakeBridge) kill() {
	b.mu.Lock()
	b.alive = false
	b.mu.Unlock()
}

func (b *fakeBridge) types() []models.MessageType {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.MessageType
	for _, m := range b.messages {
		out = append(out, m.Type)
	}
	return out
}

var testPageConfig = config.PageConfig{PollInterval: 10 * time.Millisecond, DispatchDelay: time.Millisecond}

func newTestAgent(url string) (*Agent, *fakePage, *fakeBridge, *[]Affordance) {
	p := &fakePage{url: url, html: liveWatchHTML}
	b := &fakeBridge{alive: true}
	var changes []Affordance
	a := NewAgent(p, b, 7, testPageConfig, WithOnChange(func(aff Affordance) {
		changes = append(changes, aff)
	}))
	return a, p, b, &changes
}

func TestCheckInjectsOncePerView(t *testing.T) {
	a, p, b, changes := newTestAgent("https://www.youtube.com/watch?v=abc12345678")
	ctx := context.Background()

	a.Check(ctx)
	a.Check(ctx)

	aff, ok := a.Affordance()
	require.True(t, ok)
	assert.Equal(t, AffordanceID, aff.ID)
	assert.Equal(t, "abc12345678", aff.VideoID)
	assert.Equal(t, Label, aff.Label)
	assert.Equal(t, StateReady, aff.State)
	assert.Len(t, *changes, 1)
	assert.Equal(t, []models.MessageType{models.MessageTabNavigated}, b.types())

	p.navigate("https://www.youtube.com/watch?v=def12345678")
	a.Check(ctx)
	aff, _ = a.Affordance()
	assert.Equal(t, "def12345678", aff.VideoID)
	assert.Len(t, *changes, 2)
}

func TestCheckIgnoresIneligiblePages(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"home page", "https://www.youtube.com/"},
		{"watch without id", "https://www.youtube.com/watch"},
		{"other host", "https://example.com/watch?v=abc12345678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _, _ := newTestAgent(tt.url)
			a.Check(context.Background())
			_, ok := a.Affordance()
			assert.False(t, ok)
		})
	}
}

func TestCheckWaitsForReadyPage(t *testing.T) {
	a, p, _, _ := newTestAgent("https://www.youtube.com/watch?v=abc12345678")
	p.html = "<html><body></body></html>"

	a.Check(context.Background())
	_, ok := a.Affordance()
	assert.False(t, ok)

	p.html = liveWatchHTML
	a.Check(context.Background())
	_, ok = a.Affordance()
	assert.True(t, ok)
}

func TestKidsLabel(t *testing.T) {
	a, p, _, _ := newTestAgent("https://www.youtubekids.com/watch?v=kid12345678")
	p.html = kidsHTML

	a.Check(context.Background())
	aff, ok := a.Affordance()
	require.True(t, ok)
	assert.True(t, aff.Kids)
	assert.Equal(t, LabelKids, aff.Label)
}

func TestLeavingWatchViewRemovesAffordance(t *testing.T) {
	a, p, _, changes := newTestAgent("https://www.youtube.com/watch?v=abc12345678")
	a.Check(context.Background())

	p.navigate("https://www.youtube.com/feed/subscriptions")
	a.Check(context.Background())

	_, ok := a.Affordance()
	assert.False(t, ok)
	require.Len(t, *changes, 2)
	assert.Empty(t, (*changes)[1].ID)
}

func TestActivateDispatchesSequence(t *testing.T) {
	a, _, b, _ := newTestAgent("https://www.youtube.com/watch?v=abc12345678")
	a.Check(context.Background())

	require.NoError(t, a.Activate(context.Background()))
	a.wait()

	assert.Equal(t, []models.MessageType{
		models.MessageTabNavigated,
		models.MessageClearSidePanel,
		models.MessageOpenSidePanel,
		models.MessageRunClientAnalysis,
	}, b.types())

	last := b.messages[len(b.messages)-1]
	assert.Contains(t, last.Text, "VIDEO TITLE:\nBuilding a Rocket")
	assert.Contains(t, last.Text, "Video ID: abc12345678")
	require.NotNil(t, last.Sender)
	assert.Equal(t, 7, last.Sender.TabID)
}

func TestActivateContinuesAfterSendFailure(t *testing.T) {
	a, _, b, _ := newTestAgent("https://www.youtube.com/watch?v=abc12345678")
	b.fail = map[models.MessageType]error{models.MessageClearSidePanel: errors.New("relay returned status 500")}
	a.Check(context.Background())

	require.NoError(t, a.Activate(context.Background()))
	a.wait()

	assert.Equal(t, []models.MessageType{
		models.MessageTabNavigated,
		models.MessageClearSidePanel,
		models.MessageOpenSidePanel,
		models.MessageRunClientAnalysis,
	}, b.types())

	aff, ok := a.Affordance()
	require.True(t, ok)
	assert.Equal(t, StateReady, aff.State)
}

func TestActivateWithoutAffordance(t *testing.T) {
	a, _, _, _ := newTestAgent("https://www.youtube.com/")
	assert.Error(t, a.Activate(context.Background()))
}

func TestActivateOnInvalidatedBridge(t *testing.T) {
	a, _, b, changes := newTestAgent("https://www.youtube.com/watch?v=abc12345678")
	a.Check(context.Background())
	b.kill()

	err := a.Activate(context.Background())
	assert.ErrorIs(t, err, errs.ErrInvalidatedContext)
	assert.Equal(t, errs.KindInvalidatedContext, errs.KindOf(err))

	aff, ok := a.Affordance()
	require.True(t, ok)
	assert.Equal(t, StateReloadRequired, aff.State)
	assert.Equal(t, LabelReload, aff.Label)
	assert.Len(t, *changes, 2)

	// A second activation does not re-notify.
	assert.ErrorIs(t, a.Activate(context.Background()), errs.ErrInvalidatedContext)
	assert.Len(t, *changes, 2)
}

func TestRunStopsWithContext(t *testing.T) {
	a, _, b, _ := newTestAgent("https://www.youtube.com/watch?v=abc12345678")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := a.Affordance()
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	types := b.types()
	require.NotEmpty(t, types)
	assert.Equal(t, models.MessageTabNavigated, types[0])
	assert.Equal(t, models.MessageTabClosed, types[len(types)-1])
}
