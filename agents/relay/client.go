package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dlevel-stack/internal/errs"
	"dlevel-stack/internal/models"
	"dlevel-stack/shared/storage"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is how the page, panel and display agents reach the relay.
// Transport failures are returned as plain errors and the next call tries
// again, unless the client was built WithInvalidateOnFailure.
type Client struct {
	baseURL string
	http    *http.Client

	latch       bool
	invalidated atomic.Bool

	mu       sync.Mutex
	areas    map[string]*RemoteArea
	onOpen   []func(tabID int)
	streamOn bool
	stop     context.CancelFunc
}

type ClientOption func(*Client)

// WithInvalidateOnFailure makes the first transport failure final: Send
// returns InvalidatedContext from then on and Alive reports false. The page
// bridge uses it, since a page has to be reloaded once it lost the relay.
func WithInvalidateOnFailure() ClientOption {
	return func(c *Client) { c.latch = true }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Remote analyses have no deadline.
		http:  &http.Client{},
		areas: make(map[string]*RemoteArea),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Alive reports whether the client can still be used. Only a client built
// WithInvalidateOnFailure ever stops being alive.
func (c *Client) Alive() bool {
	return !c.invalidated.Load()
}

func (c *Client) transportError(err error) error {
	if !c.latch {
		return fmt.Errorf("relay unreachable: %w", err)
	}
	if !c.invalidated.Swap(true) {
		slog.Warn("relay unreachable, bridge invalidated", slog.Any("error", err))
	}
	return errs.New(errs.KindInvalidatedContext, errs.ErrInvalidatedContext.Message, err)
}

// Send delivers msg and waits for the relay's response. A relay level
// failure comes back as a Response with Success false, not as an error.
func (c *Client) Send(ctx context.Context, msg models.Message) (*models.Response, error) {
	if !c.Alive() {
		return nil, errs.ErrInvalidatedContext
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	var resp models.Response
	if err := c.do(ctx, http.MethodPost, "/v1/messages", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Post sends msg without waiting for the response.
func (c *Client) Post(msg models.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	go func() {
		resp, err := c.Send(context.Background(), msg)
		if err != nil {
			slog.Warn("failed to post message", slog.String("type", string(msg.Type)), slog.Any("error", err))
			return
		}
		if !resp.Success {
			slog.Warn("relay rejected message", slog.String("type", string(msg.Type)), slog.String("error", resp.Error))
		}
	}()
}

// Result converts a response into the record or the error it carries.
func Result(resp *models.Response) (*models.AnalysisRecord, error) {
	if resp.Success {
		return resp.Analysis, nil
	}
	return nil, errs.FromKind(errs.Kind(resp.ErrorKind), resp.Error)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("relay returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode relay response: %w", err)
	}
	return nil
}

var errNotFound = errors.New("not found")

// Area returns the remote view of a store area.
func (c *Client) Area(name string) *RemoteArea {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.areas[name]; ok {
		return a
	}
	a := &RemoteArea{client: c, name: name}
	c.areas[name] = a
	return a
}

// OnOpenSidePanel registers fn for panel open requests relayed by the hub.
func (c *Client) OnOpenSidePanel(fn func(tabID int)) {
	c.mu.Lock()
	c.onOpen = append(c.onOpen, fn)
	c.mu.Unlock()
	c.ensureStream()
}

// Close stops the event stream.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
	}
}

func (c *Client) ensureStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamOn {
		return
	}
	c.streamOn = true

	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	go c.stream(ctx)
}

func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/v1/events")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// stream keeps an event connection open, reconnecting with a growing delay.
func (c *Client) stream(ctx context.Context) {
	target, err := c.eventsURL()
	if err != nil {
		slog.Error("invalid relay URL", slog.Any("error", err))
		return
	}

	backoff := time.Second
	connected := false
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err != nil {
			slog.Debug("event stream dial failed", slog.Any("error", err), slog.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		if connected {
			c.resync(ctx)
		}
		connected = true

		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		c.readEvents(conn)
		conn.Close()
	}
}

// resync republishes the full content of every area after a reconnect, since
// change batches sent while the stream was down are lost. Keys removed in the
// meantime are not reported.
func (c *Client) resync(ctx context.Context) {
	c.mu.Lock()
	areas := make([]*RemoteArea, 0, len(c.areas))
	for _, a := range c.areas {
		areas = append(areas, a)
	}
	c.mu.Unlock()

	for _, a := range areas {
		values, err := a.GetAll(ctx)
		if err != nil {
			slog.Warn("failed to resync area", slog.String("area", a.name), slog.Any("error", err))
			continue
		}
		if len(values) == 0 {
			continue
		}
		changes := make(storage.Changes, len(values))
		for k, v := range values {
			changes[k] = storage.Change{NewValue: v}
		}
		a.Publish(changes)
	}
	slog.Debug("event stream reconnected, areas resynced", slog.Int("areas", len(areas)))
}

func (c *Client) readEvents(conn *websocket.Conn) {
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev Event) {
	switch ev.Kind {
	case EventStorage:
		c.mu.Lock()
		area := c.areas[ev.Area]
		c.mu.Unlock()
		if area != nil {
			area.Publish(ev.Changes)
		}
	case EventOpenSidePanel:
		c.mu.Lock()
		handlers := append([]func(int){}, c.onOpen...)
		c.mu.Unlock()
		for _, fn := range handlers {
			fn(ev.TabID)
		}
	}
}

// RemoteArea implements storage.Area over the relay's HTTP API. Change
// notifications arrive through the client's event stream.
type RemoteArea struct {
	client *Client
	name   string
	storage.Notifier
}

func (a *RemoteArea) Name() string {
	return a.name
}

func (a *RemoteArea) path(key string) string {
	p := "/v1/storage/" + url.PathEscape(a.name)
	if key != "" {
		p += "/" + url.PathEscape(key)
	}
	return p
}

func (a *RemoteArea) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var raw json.RawMessage
	err := a.client.do(ctx, http.MethodGet, a.path(key), nil, &raw)
	if err == errNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (a *RemoteArea) GetAll(ctx context.Context) (map[string]json.RawMessage, error) {
	values := make(map[string]json.RawMessage)
	if err := a.client.do(ctx, http.MethodGet, a.path(""), nil, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func (a *RemoteArea) Set(ctx context.Context, values map[string]json.RawMessage) error {
	body, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode values: %w", err)
	}
	return a.client.do(ctx, http.MethodPut, a.path(""), bytes.NewReader(body), nil)
}

func (a *RemoteArea) Remove(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := a.client.do(ctx, http.MethodDelete, a.path(k), nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers fn and opens the event stream on first use.
func (a *RemoteArea) Subscribe(fn func(storage.Changes)) func() {
	unsubscribe := a.Notifier.Subscribe(fn)
	a.client.ensureStream()
	return unsubscribe
}
