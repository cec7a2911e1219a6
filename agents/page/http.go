package page

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// HTTPPage is a page fetched over HTTP. Navigate plays the role of the
// user moving to another view and signals a mutation.
type HTTPPage struct {
	client    *http.Client
	userAgent string

	mu        sync.Mutex
	url       string
	mutations chan struct{}
}

func NewHTTPPage(url string) *HTTPPage {
	return &HTTPPage{
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: "Mozilla/5.0 (X11; Linux x86_64) dlevel-page-agent",
		url:       url,
		mutations: make(chan struct{}, 1),
	}
}

func (p *HTTPPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *HTTPPage) Navigate(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()

	select {
	case p.mutations <- struct{}{}:
	default:
	}
}

func (p *HTTPPage) Mutations() <-chan struct{} {
	return p.mutations
}

func (p *HTTPPage) Document(ctx context.Context) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return doc, nil
}
