package panel

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dlevel-stack/agents/relay"
	"dlevel-stack/internal/errs"
	"dlevel-stack/internal/models"
	"dlevel-stack/shared/ai"
	"dlevel-stack/shared/config"
	"dlevel-stack/shared/markup"
	"dlevel-stack/shared/storage"
)

const (
	defaultProbeTimeout = 5 * time.Second
	minResultLength     = 10
	savedNoticeDelay    = 3 * time.Second

	statusLoading    = "Loading new video..."
	statusReady      = "Ready for Promise Analysis! Click below."
	savedCredential  = "✓ API key saved successfully!"
	examiningPromise = `<p>🎯 Examining what this content promises through its title, description, and presentation...</p>`
	promiseBanner    = `<p class="banner">🎯 Promise Analysis complete. This examines what the content promises through its metadata. Run the Full Analysis below to verify if the video delivers on this promise with measured D-Level scoring.</p>`
)

var videoIDPattern = regexp.MustCompile(`Video ID: ([a-zA-Z0-9_-]{11})`)

// ExtractVideoID finds the "Video ID: <id>" line of a pending text.
func ExtractVideoID(text string) string {
	if m := videoIDPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// Messenger sends one message to the relay. relay.Client satisfies it.
type Messenger interface {
	Send(ctx context.Context, msg models.Message) (*models.Response, error)
}

type Deps struct {
	Local    storage.Area
	Session  storage.Area
	Model    LocalModel // nil when no local model is configured
	Relay    Messenger
	Renderer Renderer
}

type Option func(*Agent)

func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithProbeTimeout bounds the local model availability check.
func WithProbeTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.probeTimeout = d
		}
	}
}

// Agent is the side panel. All of its state is owned by the Run loop;
// store notifications, user actions and async completions are queued onto
// it and handled one at a time.
type Agent struct {
	local    storage.Area
	session  storage.Area
	model    LocalModel
	relay    Messenger
	renderer Renderer

	clearFreshness time.Duration
	downloadPoll   time.Duration
	probeTimeout   time.Duration
	now            func() time.Time

	events chan func(context.Context)
	done   chan struct{}

	text                string
	currentVideoID      string
	lastAnalyzedVideoID string
	lastAnalysisStart   int64
	cloudRun            int
	prepareRun          int

	probing atomic.Int32 // availability checks in flight

	mu   sync.Mutex
	view View
}

func New(d Deps, cfg config.PanelConfig, opts ...Option) *Agent {
	a := &Agent{
		local:          d.Local,
		session:        d.Session,
		model:          d.Model,
		relay:          d.Relay,
		renderer:       d.Renderer,
		clearFreshness: cfg.ClearFreshness,
		downloadPoll:   cfg.DownloadPollInterval,
		probeTimeout:   defaultProbeTimeout,
		now:            time.Now,
		events:         make(chan func(context.Context), 64),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run subscribes to the session area, performs the startup checks and
// processes queued events until ctx is done. It must be called once.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.done)

	unsubscribe := a.session.Subscribe(func(changes storage.Changes) {
		a.post(func(ctx context.Context) { a.handleChanges(ctx, changes) })
	})
	defer unsubscribe()

	a.start(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.events:
			ev(ctx)
		}
	}
}

// View returns a snapshot of what the panel shows.
func (a *Agent) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view
}

func (a *Agent) StartLocalAnalysis() {
	a.post(a.startLocal)
}

func (a *Agent) StartCloudAnalysis() {
	a.post(a.startCloud)
}

func (a *Agent) SaveCredential(key string) {
	a.post(func(ctx context.Context) { a.saveCredential(ctx, key) })
}

func (a *Agent) post(fn func(context.Context)) {
	select {
	case a.events <- fn:
	case <-a.done:
	}
}

func (a *Agent) later(d time.Duration, fn func(context.Context)) {
	time.AfterFunc(d, func() { a.post(fn) })
}

func (a *Agent) update(fn func(v *View)) {
	a.mu.Lock()
	fn(&a.view)
	v := a.view
	a.mu.Unlock()

	if a.renderer != nil {
		a.renderer.Render(v)
	}
}

func (a *Agent) setStatus(status string) {
	a.update(func(v *View) { v.Status = status })
}

func (a *Agent) setCloud(status string, tone Tone) {
	a.update(func(v *View) {
		v.CloudStatus = status
		v.CloudTone = tone
	})
}

func (a *Agent) start(ctx context.Context) {
	var ts int64
	ok, err := storage.GetJSON(ctx, a.session, models.KeyClearSidePanel, &ts)
	switch {
	case err != nil:
		slog.Warn("failed to read clear signal", slog.Any("error", err))
	case ok && a.fresh(ts):
		slog.Info("recent clear signal found at startup")
		a.clear()
	}

	a.prepare(ctx)
	a.checkCredential(ctx)
}

// fresh reports whether a clear signal stamped at ts (unix ms) may be acted on.
func (a *Agent) fresh(ts int64) bool {
	return a.now().UnixMilli()-ts < a.clearFreshness.Milliseconds()
}

func (a *Agent) handleChanges(ctx context.Context, changes storage.Changes) {
	if c, ok := changes[models.KeyClearSidePanel]; ok {
		var ts int64
		if storage.Decode(c.NewValue, &ts) && a.fresh(ts) {
			slog.Debug("clear signal received")
			a.clear()
		} else {
			slog.Debug("ignoring stale clear signal", slog.Int64("timestamp", ts))
		}
	}

	_, text := changes[models.KeyPendingText]
	_, started := changes[models.KeyAnalysisStartTime]
	if text || started {
		a.prepare(ctx)
	}
}

// clear resets the transient view and the analysed-video tracking.
func (a *Agent) clear() {
	a.lastAnalyzedVideoID = ""
	a.lastAnalysisStart = 0
	// An in-flight cloud call no longer owns the status line.
	a.cloudRun++

	a.update(func(v *View) {
		v.Result = ""
		v.CloudStatus = ""
		v.CloudTone = ToneNone
		v.Status = statusLoading
		v.ClientControl = Control{Enabled: true}
	})
}

func (a *Agent) prepare(ctx context.Context) {
	if a.model == nil {
		a.setStatus("Error: No local language model is configured.")
		return
	}

	var text string
	ok, err := storage.GetJSON(ctx, a.session, models.KeyPendingText, &text)
	if err != nil {
		a.setStatus(fmt.Sprintf("Error: %v. Try reloading the page.", err))
		return
	}
	if !ok || text == "" {
		a.setStatus("Error: No text found. Click the button on the YouTube page first.")
		return
	}

	var started int64
	if _, err := storage.GetJSON(ctx, a.session, models.KeyAnalysisStartTime, &started); err != nil {
		slog.Warn("failed to read analysis start time", slog.Any("error", err))
	}

	a.text = text
	a.currentVideoID = ExtractVideoID(text)

	videoChanged := a.lastAnalyzedVideoID != "" && a.currentVideoID != "" && a.lastAnalyzedVideoID != a.currentVideoID
	newAnalysis := started != 0 && started != a.lastAnalysisStart
	if videoChanged || newAnalysis || a.lastAnalyzedVideoID == "" {
		a.update(func(v *View) {
			v.Result = ""
			v.CloudStatus = ""
			v.CloudTone = ToneNone
		})
	}
	if started != 0 {
		a.lastAnalysisStart = started
	}

	a.setStatus("Checking AI model availability...")
	if a.currentVideoID != "" {
		a.showCached(ctx)
	}

	a.prepareRun++
	run := a.prepareRun
	a.probing.Add(1)
	go func() {
		defer a.probing.Add(-1)
		availability, err := a.probe(ctx)
		a.post(func(context.Context) { a.finishPrepare(run, availability, err) })
	}()
}

// finishPrepare applies a probe result unless a newer prepare superseded it.
func (a *Agent) finishPrepare(run int, availability ai.Availability, err error) {
	if run != a.prepareRun {
		return
	}
	if err != nil {
		slog.Error("availability check failed", slog.Any("error", err))
		a.setStatus(fmt.Sprintf("Error: %v. Try reloading the page.", err))
		return
	}

	switch availability {
	case ai.Unavailable:
		a.setStatus("Error: AI Model is not available on this device.")
	case ai.Downloading:
		a.setStatus("AI Model is currently downloading... Please wait and the analysis will start automatically.")
		a.later(a.downloadPoll, a.prepare)
	case ai.Downloadable:
		a.showControl("Download AI Model & Start")
	case ai.Available:
		a.showControl("Start Promise Analysis")
	default:
		slog.Warn("unexpected availability", slog.String("availability", string(availability)))
		a.setStatus(fmt.Sprintf("Unexpected availability status: %s.", availability))
	}
}

func (a *Agent) showControl(label string) {
	a.update(func(v *View) {
		v.Status = statusReady
		v.ClientControl = Control{Visible: true, Enabled: true, Label: label}
	})
}

// probe races the availability call against the probe timeout.
func (a *Agent) probe(ctx context.Context) (ai.Availability, error) {
	type result struct {
		availability ai.Availability
		err          error
	}

	ctx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		av, err := a.model.Availability(ctx)
		ch <- result{availability: av, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil {
			return ai.NormalizeAvailability(string(r.availability)), nil
		}
		if ctx.Err() == nil {
			return "", r.err
		}
	case <-ctx.Done():
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", errors.New("availability check timeout")
	}
	return "", ctx.Err()
}

func (a *Agent) showCached(ctx context.Context) {
	var record models.AnalysisRecord
	ok, err := storage.GetJSON(ctx, a.local, a.currentVideoID, &record)
	if err != nil {
		slog.Warn("failed to read cached analysis", slog.String("video_id", a.currentVideoID), slog.Any("error", err))
		return
	}
	if !ok {
		return
	}

	created, ok := record.CreatedAt()
	if !ok {
		created = a.now()
	}
	a.setCloud(fmt.Sprintf("✓ Full Analysis cached (D-Level: %s, %s) - Check popup for details",
		record.LevelText(), ageText(a.now().Sub(created))), ToneSuccess)
}

func ageText(age time.Duration) string {
	minutes := int(age.Minutes())
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}
	return fmt.Sprintf("%dh ago", minutes/60)
}

func (a *Agent) startLocal(ctx context.Context) {
	if a.text == "" {
		a.setStatus("Error: No text to analyze.")
		return
	}
	if a.model == nil {
		a.setStatus("Error: No local language model is configured.")
		return
	}

	a.update(func(v *View) {
		v.ClientControl.Enabled = false
		v.Status = "Creating AI session..."
	})

	text := a.text
	started := a.now()
	go func() {
		reply, err := a.runLocal(ctx, text)
		a.post(func(context.Context) { a.finishLocal(started, text, reply, err) })
	}()
}

// runLocal prompts a fresh session and always destroys it.
func (a *Agent) runLocal(ctx context.Context, text string) (string, error) {
	session, err := a.model.Create(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Destroy()

	a.post(func(context.Context) {
		a.update(func(v *View) {
			v.Status = "Analyzing promised experience from metadata..."
			v.Result = examiningPromise
		})
	})

	return session.Prompt(ctx, ai.BuildPromisePrompt(text))
}

func (a *Agent) finishLocal(started time.Time, text, reply string, err error) {
	if err != nil {
		slog.Error("local analysis failed", slog.Any("error", err))
		a.update(func(v *View) {
			v.Status = fmt.Sprintf("Error: %v", err)
			v.ClientControl.Enabled = true
		})
		return
	}

	if len(strings.TrimSpace(reply)) < minResultLength {
		a.update(func(v *View) {
			v.Status = "Analysis Error:"
			v.Result = shortReply(reply, len(text))
			v.ClientControl = Control{Visible: true, Enabled: true, Label: v.ClientControl.Label}
		})
		return
	}

	secs := a.now().Sub(started).Seconds()
	a.update(func(v *View) {
		v.Status = fmt.Sprintf("✅ Promise Analysis Complete (%.1fs - Local AI)", secs)
		v.Result = promiseBanner + markup.Simple(reply)
		v.ClientControl.Visible = false
	})
	a.lastAnalyzedVideoID = a.currentVideoID
}

func shortReply(reply string, inputLen int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p class=\"error\">The AI model returned an empty or very short response (%d characters).</p>", len(reply))
	fmt.Fprintf(&b, "<p><strong>Returned value:</strong> \"%s\"</p>", html.EscapeString(reply))
	b.WriteString("<p>This might happen because:</p><ul>")
	b.WriteString("<li>The local model needs more context or a different prompt format</li>")
	b.WriteString("<li>The model is not fully initialized</li>")
	b.WriteString("<li>Try using simpler questions</li></ul>")
	fmt.Fprintf(&b, "<p><strong>Input text length:</strong> %d characters</p>", inputLen)
	b.WriteString("<p><strong>Try the server-side analysis for reliable results.</strong></p>")
	return b.String()
}

func (a *Agent) credential(ctx context.Context) (string, error) {
	var key string
	if _, err := storage.GetJSON(ctx, a.local, models.KeyAPIKey, &key); err != nil {
		return "", err
	}
	return key, nil
}

func (a *Agent) checkCredential(ctx context.Context) {
	key, err := a.credential(ctx)
	if err != nil {
		slog.Warn("failed to read credential", slog.Any("error", err))
		return
	}
	if key == "" {
		a.update(func(v *View) { v.CredentialPrompt = true })
	}
}

func (a *Agent) startCloud(ctx context.Context) {
	if a.View().CloudBusy {
		return
	}

	key, err := a.credential(ctx)
	if err != nil {
		a.setCloud(fmt.Sprintf("Error: %v", err), ToneError)
		return
	}
	if key == "" {
		a.update(func(v *View) {
			v.CredentialPrompt = true
			v.CloudStatus = "Please add your Gemini API key first"
			v.CloudTone = ToneError
		})
		return
	}

	a.cloudRun++
	run := a.cloudRun
	started := a.now()
	a.update(func(v *View) {
		v.CloudBusy = true
		v.CloudStatus = cloudProgress(0)
		v.CloudTone = ToneMuted
	})

	done := make(chan struct{})
	go a.tick(run, started, done)
	go func() {
		resp, err := a.relay.Send(ctx, models.Message{Type: models.MessageAnalyzeVideoFromSidePanel})
		close(done)
		a.post(func(context.Context) { a.finishCloud(run, started, resp, err) })
	}()
}

func cloudProgress(elapsed time.Duration) string {
	return fmt.Sprintf("🔄 Full analysis in progress... (%ds elapsed - Cloud AI)", int(elapsed.Seconds()))
}

// tick refreshes the elapsed time once a second until done is closed.
func (a *Agent) tick(run int, started time.Time, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			a.post(func(context.Context) {
				if run != a.cloudRun || !a.View().CloudBusy {
					return
				}
				a.setCloud(cloudProgress(a.now().Sub(started)), ToneMuted)
			})
		}
	}
}

func (a *Agent) finishCloud(run int, started time.Time, resp *models.Response, err error) {
	a.update(func(v *View) { v.CloudBusy = false })
	if run != a.cloudRun {
		return
	}

	var record *models.AnalysisRecord
	if err == nil {
		record, err = relay.Result(resp)
	}

	switch {
	case err == nil:
		level := "N/A"
		if record != nil {
			level = record.LevelText()
		}
		secs := a.now().Sub(started).Seconds()
		a.setCloud(fmt.Sprintf("✓ Analysis completed! (D-Level: %s, %.1fs - Cloud AI) Check the extension popup for details.", level, secs), ToneSuccess)
		a.lastAnalyzedVideoID = a.currentVideoID
	case errs.KindOf(err) == errs.KindMissingCredential || strings.Contains(err.Error(), "API key"):
		a.update(func(v *View) {
			v.CloudStatus = "⚠️ " + err.Error()
			v.CloudTone = ToneError
			v.CredentialPrompt = true
		})
	default:
		slog.Error("cloud analysis failed", slog.Any("error", err))
		a.setCloud("Error: "+err.Error(), ToneError)
	}
}

func (a *Agent) saveCredential(ctx context.Context, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		a.setCloud("Please enter a valid API key", ToneError)
		return
	}

	if err := storage.SetJSON(ctx, a.local, map[string]any{models.KeyAPIKey: key}); err != nil {
		a.setCloud(fmt.Sprintf("Error: %v", err), ToneError)
		return
	}

	a.update(func(v *View) {
		v.CloudStatus = savedCredential
		v.CloudTone = ToneSuccess
		v.CredentialPrompt = false
	})
	a.later(savedNoticeDelay, func(context.Context) {
		if a.View().CloudStatus == savedCredential {
			a.setCloud("", ToneNone)
		}
	})
}
