package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"dlevel-stack/internal/errs"
	"dlevel-stack/internal/models"
	"dlevel-stack/shared/config"

	"google.golang.org/genai"
)

// Analyzer runs remote D-Level analyses on Gemini. The credential is read
// from the store per request, so clients are created lazily per API key.
type Analyzer struct {
	model          string
	baseURL        string
	thinkingBudget int32
	promptFile     string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewAnalyzer(cfg config.AIConfig) *Analyzer {
	return &Analyzer{
		model:          cfg.Model,
		baseURL:        cfg.BaseURL,
		thinkingBudget: cfg.ThinkingBudget,
		promptFile:     cfg.PromptFile,
		clients:        make(map[string]*genai.Client),
	}
}

func (a *Analyzer) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[apiKey]; ok {
		return c, nil
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if a.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: a.baseURL}
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	a.clients[apiKey] = c
	return c, nil
}

// Analyze asks the model for the analysis of one video. The returned record
// is exactly what the model produced; callers own identity and timestamps.
func (a *Analyzer) Analyze(ctx context.Context, apiKey, videoID, title string) (*models.AnalysisRecord, error) {
	if apiKey == "" {
		return nil, errs.ErrMissingCredential
	}

	systemPrompt, err := LoadSystemPrompt(a.promptFile)
	if err != nil {
		return nil, err
	}

	client, err := a.client(ctx, apiKey)
	if err != nil {
		return nil, errs.New(errs.KindRemoteService, "Gemini API request failed", err)
	}

	parts := []*genai.Part{
		genai.NewPartFromText(systemPrompt),
		genai.NewPartFromText(BuildUserPrompt(videoID, title)),
		genai.NewPartFromURI(WatchURL(videoID), "video/mp4"),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	genConfig := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(a.thinkingBudget),
		},
	}

	slog.Info("requesting remote analysis",
		slog.String("video_id", videoID),
		slog.String("model", a.model),
		slog.Int("thinking_budget", int(a.thinkingBudget)))

	result, err := client.Models.GenerateContent(ctx, a.model, contents, genConfig)
	if err != nil {
		return nil, remoteError(err)
	}

	record, err := ParseAnalysis(result.Text())
	if err != nil {
		slog.Error("failed to parse remote analysis", slog.String("video_id", videoID), slog.Any("error", err))
		return nil, err
	}

	if record.VideoID != "" && record.VideoID != videoID {
		slog.Warn("model reported a different video",
			slog.String("video_id", videoID), slog.String("reported", record.VideoID))
	}
	return record, nil
}

// remoteError maps a genai failure to a RemoteServiceError, keeping the HTTP
// status when the service returned one.
func remoteError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return errs.RemoteService(apiErr.Code, statusDetail(apiErr), err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return errs.RemoteService(apiErrPtr.Code, statusDetail(*apiErrPtr), err)
	}
	return errs.New(errs.KindRemoteService, "Gemini API request failed", err)
}

func statusDetail(e genai.APIError) string {
	detail := http.StatusText(e.Code)
	if e.Message != "" {
		detail += " - " + e.Message
	}
	return detail
}
