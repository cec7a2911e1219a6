package youtube

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestIsWatchURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=abc12345678", true},
		{"https://m.youtube.com/watch?v=abc12345678&t=10", true},
		{"https://www.youtubekids.com/watch?v=abc12345678", true},
		{"https://www.youtube.com/watch", false},
		{"https://www.youtube.com/results?search_query=cats", false},
		{"https://www.youtube.com/shorts/abc12345678", false},
		{"https://example.com/watch?v=abc12345678", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWatchURL(tt.url))
		})
	}
}

func TestMatchesTabPattern(t *testing.T) {
	assert.True(t, MatchesTabPattern("https://www.youtube.com/watch?v=abc12345678"))
	assert.True(t, MatchesTabPattern("https://www.youtubekids.com/watch?v=abc12345678"))
	assert.False(t, MatchesTabPattern("https://m.youtube.com/watch?v=abc12345678"))
	assert.False(t, MatchesTabPattern("https://www.youtube.com/feed/subscriptions"))
}

func TestVideoIDFromURL(t *testing.T) {
	assert.Equal(t, "abc12345678", VideoIDFromURL("https://www.youtube.com/watch?v=abc12345678&list=x"))
	assert.Equal(t, "", VideoIDFromURL("https://www.youtube.com/watch"))
	assert.Equal(t, "", VideoIDFromURL("::not a url"))
}

func TestIsKidsHost(t *testing.T) {
	assert.True(t, IsKidsHost("https://www.youtubekids.com/watch?v=abc12345678"))
	assert.False(t, IsKidsHost("https://www.youtube.com/watch?v=abc12345678"))
}

func TestOEmbedTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://www.youtube.com/watch?v=abc12345678", r.URL.Query().Get("url"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Write([]byte(`{"title":"Cats Doing Things","author_name":"Cat Channel"}`))
	}))
	defer srv.Close()

	title, err := NewOEmbed(srv.URL).Title(context.Background(), "abc12345678")
	require.NoError(t, err)
	assert.Equal(t, "Cats Doing Things", title)
}

func TestOEmbedStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewOEmbed(srv.URL).Title(context.Background(), "abc12345678")
	assert.Error(t, err)
}

func TestDataAPITitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc12345678", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"id":"abc12345678","snippet":{"title":"From Data API"}}]}`))
	}))
	defer srv.Close()

	api, err := NewDataAPI(context.Background(), "key", option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	title, err := api.Title(context.Background(), "abc12345678")
	require.NoError(t, err)
	assert.Equal(t, "From Data API", title)
}

type stubSource struct {
	title string
	err   error
}

func (s stubSource) Title(context.Context, string) (string, error) {
	return s.title, s.err
}

func TestTitleLookupFallsBackToPlaceholder(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "Real", NewTitleLookup(stubSource{title: "Real"}).Lookup(ctx, "abc12345678"))
	assert.Equal(t, PlaceholderTitle, NewTitleLookup(stubSource{err: errors.New("offline")}).Lookup(ctx, "abc12345678"))
	assert.Equal(t, PlaceholderTitle, NewTitleLookup(stubSource{}).Lookup(ctx, "abc12345678"))
}
