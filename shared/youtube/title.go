package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"dlevel-stack/shared/config"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// TitleSource fetches the canonical title of a video.
type TitleSource interface {
	Title(ctx context.Context, videoID string) (string, error)
}

// OEmbed reads titles from the public oEmbed endpoint. No credential needed.
type OEmbed struct {
	endpoint string
	client   *http.Client
}

func NewOEmbed(endpoint string) *OEmbed {
	return &OEmbed{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (o *OEmbed) Title(ctx context.Context, videoID string) (string, error) {
	q := url.Values{}
	q.Set("url", "https://www.youtube.com/watch?v="+videoID)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, "GET", o.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch oEmbed data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oEmbed returned status %d", resp.StatusCode)
	}

	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode oEmbed response: %w", err)
	}
	return payload.Title, nil
}

// DataAPI reads titles through the YouTube Data API v3 with an API key.
type DataAPI struct {
	service *yt.Service
}

func NewDataAPI(ctx context.Context, apiKey string, opts ...option.ClientOption) (*DataAPI, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	return &DataAPI{service: service}, nil
}

func (d *DataAPI) Title(ctx context.Context, videoID string) (string, error) {
	resp, err := d.service.Videos.List([]string{"snippet"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get video details: %w", err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return "", fmt.Errorf("video %s not found", videoID)
	}
	return resp.Items[0].Snippet.Title, nil
}

// TitleLookup never fails: any error or empty title becomes the placeholder.
type TitleLookup struct {
	source TitleSource
}

func NewTitleLookup(source TitleSource) *TitleLookup {
	return &TitleLookup{source: source}
}

// NewTitleLookupFromConfig picks the configured source.
func NewTitleLookupFromConfig(ctx context.Context, cfg config.YouTubeConfig) (*TitleLookup, error) {
	if cfg.TitleSource == "data_api" {
		api, err := NewDataAPI(ctx, cfg.DataAPIKey)
		if err != nil {
			return nil, err
		}
		return NewTitleLookup(api), nil
	}
	return NewTitleLookup(NewOEmbed(cfg.OEmbedURL)), nil
}

func (l *TitleLookup) Lookup(ctx context.Context, videoID string) string {
	title, err := l.source.Title(ctx, videoID)
	if err != nil {
		slog.Warn("failed to fetch video title", slog.String("video_id", videoID), slog.Any("error", err))
		return PlaceholderTitle
	}
	if title == "" {
		return PlaceholderTitle
	}
	return title
}
