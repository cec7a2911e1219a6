package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dlevel-stack/internal/errs"
	"dlevel-stack/internal/models"
	"dlevel-stack/shared/config"
	"dlevel-stack/shared/youtube"

	"github.com/PuerkitoBio/goquery"
)

// AffordanceID is the element identity checked before injecting.
const AffordanceID = "dlevel-preliminary-button"

const (
	LabelKids   = "⚡ Check Video Energy Level 🎯"
	LabelReload = "⚠️ Extension Reloaded - Refresh Page"
	Label       = "Run D-Level Analysis"
)

// Page is the hosted page the agent watches.
type Page interface {
	URL() string
	Document(ctx context.Context) (*goquery.Document, error)
}

// MutationSource is implemented by pages that can signal content changes.
// Without it the agent relies on polling alone.
type MutationSource interface {
	Mutations() <-chan struct{}
}

// Bridge is the privileged channel to the relay. relay.Client satisfies it.
type Bridge interface {
	Send(ctx context.Context, msg models.Message) (*models.Response, error)
	Alive() bool
}

type AffordanceState string

const (
	StateReady          AffordanceState = "ready"
	StateReloadRequired AffordanceState = "reload_required"
)

// Affordance is the injected analysis control of one watch view.
type Affordance struct {
	ID      string
	VideoID string
	Label   string
	State   AffordanceState
	Kids    bool
}

// Agent watches one page (one tab) and owns its affordance.
type Agent struct {
	page   Page
	bridge Bridge
	tabID  int

	pollInterval  time.Duration
	dispatchDelay time.Duration
	onChange      func(Affordance)

	mu         sync.Mutex
	lastURL    string
	affordance *Affordance
	inflight   sync.WaitGroup
}

type Option func(*Agent)

// WithOnChange registers a callback invoked whenever the affordance is
// injected, removed or changes state.
func WithOnChange(fn func(Affordance)) Option {
	return func(a *Agent) { a.onChange = fn }
}

func NewAgent(p Page, bridge Bridge, tabID int, cfg config.PageConfig, opts ...Option) *Agent {
	a := &Agent{
		page:          p,
		bridge:        bridge,
		tabID:         tabID,
		pollInterval:  cfg.PollInterval,
		dispatchDelay: cfg.DispatchDelay,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run checks the page on every poll tick and mutation until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	var mutations <-chan struct{}
	if m, ok := a.page.(MutationSource); ok {
		mutations = m.Mutations()
	}

	a.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			a.inflight.Wait()
			a.closeTab(ctx)
			return ctx.Err()
		case <-ticker.C:
			a.Check(ctx)
		case <-mutations:
			a.Check(ctx)
		}
	}
}

// Check reports navigation to the relay and injects the affordance when the
// page is an eligible watch view that does not have one yet.
func (a *Agent) Check(ctx context.Context) {
	url := a.page.URL()

	a.mu.Lock()
	navigated := url != a.lastURL
	a.lastURL = url
	a.mu.Unlock()

	if navigated {
		a.reportNavigation(ctx, url)
	}

	if !youtube.IsWatchURL(url) {
		a.setAffordance(nil)
		return
	}
	videoID := youtube.VideoIDFromURL(url)

	a.mu.Lock()
	existing := a.affordance
	a.mu.Unlock()
	if existing != nil && existing.VideoID == videoID {
		return
	}

	doc, err := a.page.Document(ctx)
	if err != nil {
		slog.Debug("page not readable yet", slog.String("url", url), slog.Any("error", err))
		return
	}
	if !ready(doc) {
		return
	}

	kids := youtube.IsKidsHost(url)
	label := Label
	if kids {
		label = LabelKids
	}
	a.setAffordance(&Affordance{
		ID:      AffordanceID,
		VideoID: videoID,
		Label:   label,
		State:   StateReady,
		Kids:    kids,
	})
	slog.Info("affordance injected", slog.String("video_id", videoID), slog.Bool("kids", kids))
}

// ready mirrors the container checks of a live page, falling back to the
// metadata a statically served page carries.
func ready(doc *goquery.Document) bool {
	for _, sel := range []string{
		"#actions #menu #top-level-buttons-computed",
		"ytk-slim-video-metadata-renderer",
		"#metadata-container",
		"#subscribe-container",
		`meta[property="og:title"]`,
		`meta[name="title"]`,
	} {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// closeTab tells the relay the tab is gone so it stops being a candidate for
// side panel analysis.
func (a *Agent) closeTab(ctx context.Context) {
	if !a.bridge.Alive() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	a.mu.Lock()
	url := a.lastURL
	a.mu.Unlock()

	msg := models.Message{Type: models.MessageTabClosed, Sender: a.sender(url)}
	if _, err := a.bridge.Send(ctx, msg); err != nil {
		slog.Debug("failed to report tab close", slog.Any("error", err))
	}
}

func (a *Agent) reportNavigation(ctx context.Context, url string) {
	if !a.bridge.Alive() {
		return
	}
	msg := models.Message{Type: models.MessageTabNavigated, Sender: a.sender(url)}
	if _, err := a.bridge.Send(ctx, msg); err != nil {
		if errors.Is(err, errs.ErrInvalidatedContext) {
			a.degrade()
			return
		}
		slog.Warn("failed to report navigation", slog.Any("error", err))
	}
}

// Affordance returns the current affordance, if any.
func (a *Agent) Affordance() (Affordance, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.affordance == nil {
		return Affordance{}, false
	}
	return *a.affordance, true
}

// Activate is the affordance's click handler. It scrapes the page and starts
// the clear, open panel, client analysis sequence without waiting for it.
func (a *Agent) Activate(ctx context.Context) error {
	aff, ok := a.Affordance()
	if !ok {
		return fmt.Errorf("no affordance on this page")
	}
	if aff.State == StateReloadRequired || !a.bridge.Alive() {
		a.degrade()
		return errs.ErrInvalidatedContext
	}

	url := a.page.URL()
	doc, err := a.page.Document(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page: %w", err)
	}
	text := Scrape(doc, url).Text()
	sender := a.sender(url)

	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		a.dispatch(context.WithoutCancel(ctx), sender, text)
	}()
	return nil
}

func (a *Agent) dispatch(ctx context.Context, sender *models.Sender, text string) {
	for _, t := range []models.MessageType{models.MessageClearSidePanel, models.MessageOpenSidePanel} {
		if !a.send(ctx, models.Message{Type: t, Sender: sender}) {
			return
		}
	}

	// Give the panel time to come up before the text lands.
	time.Sleep(a.dispatchDelay)
	a.send(ctx, models.Message{Type: models.MessageRunClientAnalysis, Text: text, Sender: sender})
}

// send delivers msg and reports false only once the bridge is invalidated.
// Other failures are logged and the caller carries on.
func (a *Agent) send(ctx context.Context, msg models.Message) bool {
	resp, err := a.bridge.Send(ctx, msg)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidatedContext) {
			a.degrade()
			return false
		}
		slog.Error("failed to send message", slog.String("type", string(msg.Type)), slog.Any("error", err))
		return true
	}
	if !resp.Success {
		slog.Warn("relay rejected message", slog.String("type", string(msg.Type)), slog.String("error", resp.Error))
	}
	return true
}

// degrade switches the affordance to the reload required state.
func (a *Agent) degrade() {
	a.mu.Lock()
	if a.affordance == nil || a.affordance.State == StateReloadRequired {
		a.mu.Unlock()
		return
	}
	aff := *a.affordance
	aff.State = StateReloadRequired
	aff.Label = LabelReload
	a.affordance = &aff
	a.mu.Unlock()

	slog.Warn("bridge invalidated, page reload required")
	a.notify(aff)
}

func (a *Agent) setAffordance(aff *Affordance) {
	a.mu.Lock()
	prev := a.affordance
	a.affordance = aff
	a.mu.Unlock()

	switch {
	case aff != nil:
		a.notify(*aff)
	case prev != nil:
		a.notify(Affordance{})
	}
}

func (a *Agent) notify(aff Affordance) {
	if a.onChange != nil {
		a.onChange(aff)
	}
}

func (a *Agent) sender(url string) *models.Sender {
	return &models.Sender{TabID: a.tabID, URL: url}
}

// wait blocks until every started dispatch sequence has finished.
func (a *Agent) wait() {
	a.inflight.Wait()
}
