// Package relay coordinates the other agents: it answers runtime messages,
// runs remote analyses, persists their results and relays control signals
// through the session area.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dlevel-stack/internal/errs"
	"dlevel-stack/internal/models"
	"dlevel-stack/shared/monitoring"
	"dlevel-stack/shared/storage"
	"dlevel-stack/shared/youtube"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// RemoteAnalyzer produces an analysis for one video.
type RemoteAnalyzer interface {
	Analyze(ctx context.Context, apiKey, videoID, title string) (*models.AnalysisRecord, error)
}

// TitleLookup returns a title for a video. It must not fail.
type TitleLookup interface {
	Lookup(ctx context.Context, videoID string) string
}

// PanelOpener asks the host to show the side panel for a tab.
type PanelOpener interface {
	OpenSidePanel(tabID int)
}

type Deps struct {
	Local    storage.Area
	Session  storage.Area
	Analyzer RemoteAnalyzer
	Titles   TitleLookup
	Tabs     *TabRegistry
	Panels   PanelOpener
	Monitor  *monitoring.Monitor
}

type Option func(*Relay)

// WithRequestsPerMinute bounds remote analyses. Zero or less means unlimited.
func WithRequestsPerMinute(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

type Relay struct {
	local    storage.Area
	session  storage.Area
	analyzer RemoteAnalyzer
	titles   TitleLookup
	tabs     *TabRegistry
	panels   PanelOpener
	monitor  *monitoring.Monitor

	limiter  *rate.Limiter
	inflight singleflight.Group
	now      func() time.Time
}

func New(d Deps, opts ...Option) *Relay {
	r := &Relay{
		local:    d.Local,
		session:  d.Session,
		analyzer: d.Analyzer,
		titles:   d.Titles,
		tabs:     d.Tabs,
		panels:   d.Panels,
		monitor:  d.Monitor,
		now:      time.Now,
	}
	if r.tabs == nil {
		r.tabs = NewTabRegistry()
	}
	if r.monitor == nil {
		r.monitor = monitoring.NewMonitor()
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Tabs() *TabRegistry {
	return r.tabs
}

// Handle answers one runtime message. Failures are carried in the response.
func (r *Relay) Handle(ctx context.Context, msg models.Message) models.Response {
	if msg.Sender != nil && msg.Type != models.MessageTabClosed {
		r.tabs.Touch(msg.Sender.TabID, msg.Sender.URL)
	}

	switch msg.Type {
	case models.MessageAnalyzeVideo:
		record, err := r.AnalyzeVideo(ctx, msg.VideoID)
		if err != nil {
			return failure(err)
		}
		return models.Response{Success: true, Analysis: record}

	case models.MessageAnalyzeVideoFromSidePanel:
		record, err := r.AnalyzeFromSidePanel(ctx)
		if err != nil {
			return failure(err)
		}
		return models.Response{Success: true, Message: "Analysis completed successfully!", Analysis: record}

	case models.MessageRunClientAnalysis:
		if msg.Sender == nil {
			return models.Response{Success: false, Error: "client analysis requires a sender tab"}
		}
		if err := r.RunClientAnalysis(ctx, msg.Text); err != nil {
			return failure(err)
		}
		return models.Response{Success: true}

	case models.MessageClearSidePanel:
		ts, err := r.ClearSidePanel(ctx)
		if err != nil {
			return failure(err)
		}
		return models.Response{Success: true, Timestamp: ts}

	case models.MessageOpenSidePanel:
		if msg.Sender != nil {
			r.OpenSidePanel(msg.Sender.TabID)
		}
		return models.Response{Success: true}

	case models.MessageTabNavigated:
		return models.Response{Success: true}

	case models.MessageTabClosed:
		if msg.Sender != nil {
			r.tabs.Remove(msg.Sender.TabID)
		}
		return models.Response{Success: true}

	default:
		return models.Response{Success: false, Error: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
}

// AnalyzeVideo runs the full remote flow for videoID and persists the
// result. Concurrent calls for the same video share one remote request.
func (r *Relay) AnalyzeVideo(ctx context.Context, videoID string) (*models.AnalysisRecord, error) {
	if videoID == "" {
		return nil, errs.ErrMissingVideoID
	}

	v, err, shared := r.inflight.Do(videoID, func() (any, error) {
		return r.analyze(ctx, videoID)
	})
	if shared {
		slog.Debug("joined in-flight analysis", slog.String("video_id", videoID))
	}
	if err != nil {
		return nil, err
	}
	record := *v.(*models.AnalysisRecord)
	return &record, nil
}

func (r *Relay) analyze(ctx context.Context, videoID string) (*models.AnalysisRecord, error) {
	start := r.now()

	apiKey, err := r.credential(ctx)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		r.monitor.RecordPartialFailure(fmt.Errorf("analysis of %s: %w", videoID, errs.ErrMissingCredential), 0)
		return nil, errs.ErrMissingCredential
	}

	title := r.titles.Lookup(ctx, videoID)
	slog.Info("starting analysis", slog.String("video_id", videoID), slog.String("title", title))

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	record, err := r.analyzer.Analyze(ctx, apiKey, videoID, title)
	if err != nil {
		r.monitor.RecordCriticalFailure(fmt.Errorf("analysis of %s: %w", videoID, err), r.now().Sub(start))
		return nil, err
	}

	if record.VideoID != videoID || record.Title != title {
		slog.Debug("overriding reported identity",
			slog.String("reported_id", record.VideoID), slog.String("reported_title", record.Title))
	}
	record.VideoID = videoID
	record.Title = title
	if !record.DLevelCategory.Valid() {
		record.DLevelCategory = models.CategoryForLevel(record.DLevel)
	}
	record.Stamp(r.now())

	if err := storage.SetJSON(ctx, r.local, map[string]any{videoID: record}); err != nil {
		r.monitor.RecordCriticalFailure(fmt.Errorf("saving analysis of %s: %w", videoID, err), r.now().Sub(start))
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}

	r.monitor.RecordSuccess(fmt.Sprintf("analysed %s (D-Level %g)", videoID, record.DLevel), r.now().Sub(start))
	return record, nil
}

// credential returns the stored API key, or "" when none is set.
func (r *Relay) credential(ctx context.Context) (string, error) {
	var apiKey string
	ok, err := storage.GetJSON(ctx, r.local, models.KeyAPIKey, &apiKey)
	if err != nil {
		slog.Warn("stored credential is unreadable", slog.Any("error", err))
		return "", nil
	}
	if !ok {
		return "", nil
	}
	return apiKey, nil
}

// AnalyzeFromSidePanel analyses the video of the most recent eligible tab.
func (r *Relay) AnalyzeFromSidePanel(ctx context.Context) (*models.AnalysisRecord, error) {
	tab, ok := r.tabs.FindEligible()
	if !ok {
		return nil, errs.ErrNoEligibleTab
	}
	videoID := youtube.VideoIDFromURL(tab.URL)
	if videoID == "" {
		return nil, errs.ErrMissingVideoID
	}
	return r.AnalyzeVideo(ctx, videoID)
}

// RunClientAnalysis publishes scraped page text for the panel.
func (r *Relay) RunClientAnalysis(ctx context.Context, text string) error {
	return storage.SetJSON(ctx, r.session, map[string]any{
		models.KeyPendingText:       text,
		models.KeyAnalysisStartTime: r.now().UnixMilli(),
	})
}

// ClearSidePanel writes a clear signal and returns its timestamp.
func (r *Relay) ClearSidePanel(ctx context.Context) (int64, error) {
	ts := r.now().UnixMilli()
	if err := storage.SetJSON(ctx, r.session, map[string]any{models.KeyClearSidePanel: ts}); err != nil {
		slog.Error("failed to store clear signal", slog.Any("error", err))
		return 0, err
	}
	slog.Debug("clear signal stored", slog.Int64("timestamp", ts))
	return ts, nil
}

func (r *Relay) OpenSidePanel(tabID int) {
	r.tabs.MarkPanelOpen(tabID)
	if r.panels != nil {
		r.panels.OpenSidePanel(tabID)
	}
}

// SeedCredential stores apiKey when no credential exists yet.
func (r *Relay) SeedCredential(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return nil
	}
	existing, err := r.credential(ctx)
	if err != nil || existing != "" {
		return err
	}
	slog.Info("seeding stored credential from configuration")
	return storage.SetJSON(ctx, r.local, map[string]any{models.KeyAPIKey: apiKey})
}

func failure(err error) models.Response {
	resp := models.Response{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: string(errs.KindOf(err)),
	}
	var e *errs.Error
	if errors.As(err, &e) {
		resp.Error = e.Message
	}
	return resp
}
