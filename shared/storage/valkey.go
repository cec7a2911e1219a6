package storage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyOptions configures the connection used by valkey areas.
type ValkeyOptions struct {
	Address  string
	Password string
	TLS      bool
	Prefix   string
}

// ValkeyStore shares one client between the areas opened from it.
type ValkeyStore struct {
	client valkey.Client
	prefix string
}

func OpenValkey(ctx context.Context, opts ValkeyOptions) (*ValkeyStore, error) {
	clientOpts := valkey.ClientOption{
		InitAddress:      []string{opts.Address},
		Password:         opts.Password,
		ConnWriteTimeout: 5 * time.Second,
		SelectDB:         0,
	}
	if opts.TLS {
		clientOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("valkey: failed to create client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey: failed to ping %s: %w", opts.Address, err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "dlevel"
	}
	slog.Info("connected to valkey", slog.String("address", opts.Address))
	return &ValkeyStore{client: client, prefix: prefix}, nil
}

func (s *ValkeyStore) Close() {
	s.client.Close()
}

// Area returns the area stored in the hash <prefix>:<name>. Every write is
// published on <prefix>:changes:<name>, so subscribers in other processes
// sharing the server see it too.
func (s *ValkeyStore) Area(name string) *ValkeyArea {
	return &ValkeyArea{
		client:  s.client,
		name:    name,
		key:     s.prefix + ":" + name,
		channel: s.prefix + ":changes:" + name,
	}
}

type ValkeyArea struct {
	client  valkey.Client
	name    string
	key     string
	channel string

	Notifier
	listenOnce sync.Once
	cancel     context.CancelFunc
}

func (a *ValkeyArea) Name() string {
	return a.name
}

func (a *ValkeyArea) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	value, err := a.client.Do(ctx, a.client.B().Hget().Key(a.key).Field(key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("valkey: get %s/%s: %w", a.name, key, err)
	}
	return json.RawMessage(value), true, nil
}

func (a *ValkeyArea) GetAll(ctx context.Context) (map[string]json.RawMessage, error) {
	values, err := a.client.Do(ctx, a.client.B().Hgetall().Key(a.key).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("valkey: list %s: %w", a.name, err)
	}
	out := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		out[k] = json.RawMessage(v)
	}
	return out, nil
}

func (a *ValkeyArea) Set(ctx context.Context, values map[string]json.RawMessage) error {
	if err := validateValues(a.name, values); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	prev := make(map[string]json.RawMessage, len(values))
	for k := range values {
		old, ok, err := a.Get(ctx, k)
		if err != nil {
			return err
		}
		if ok {
			prev[k] = old
		}
	}
	changes := diff(prev, values)
	if len(changes) == 0 {
		return nil
	}

	cmd := a.client.B().Hset().Key(a.key).FieldValue()
	for k := range changes {
		cmd = cmd.FieldValue(k, string(values[k]))
	}
	if err := a.client.Do(ctx, cmd.Build()).Error(); err != nil {
		return fmt.Errorf("valkey: set %s: %w", a.name, err)
	}

	return a.announce(ctx, changes)
}

func (a *ValkeyArea) Remove(ctx context.Context, keys ...string) error {
	changes := make(Changes, len(keys))
	present := make([]string, 0, len(keys))
	for _, k := range keys {
		old, ok, err := a.Get(ctx, k)
		if err != nil {
			return err
		}
		if ok {
			changes[k] = Change{OldValue: old}
			present = append(present, k)
		}
	}
	if len(present) == 0 {
		return nil
	}

	if err := a.client.Do(ctx, a.client.B().Hdel().Key(a.key).Field(present...).Build()).Error(); err != nil {
		return fmt.Errorf("valkey: remove %s: %w", a.name, err)
	}

	return a.announce(ctx, changes)
}

// Subscribe registers fn and starts the channel listener on first use.
// Local writes reach fn through the channel as well, so every subscriber
// sees exactly one delivery per write.
func (a *ValkeyArea) Subscribe(fn func(Changes)) func() {
	a.listenOnce.Do(a.listen)
	return a.Notifier.Subscribe(fn)
}

// Close stops the channel listener.
func (a *ValkeyArea) Close() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *ValkeyArea) announce(ctx context.Context, changes Changes) error {
	payload, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("valkey: encode changes: %w", err)
	}
	if err := a.client.Do(ctx, a.client.B().Publish().Channel(a.channel).Message(string(payload)).Build()).Error(); err != nil {
		return fmt.Errorf("valkey: publish %s: %w", a.channel, err)
	}
	return nil
}

func (a *ValkeyArea) listen() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		for ctx.Err() == nil {
			err := a.client.Receive(ctx, a.client.B().Subscribe().Channel(a.channel).Build(), func(msg valkey.PubSubMessage) {
				var changes Changes
				if err := json.Unmarshal([]byte(msg.Message), &changes); err != nil {
					slog.Warn("dropping malformed change notification",
						slog.String("channel", a.channel), slog.Any("error", err))
					return
				}
				a.Publish(changes)
			})
			if ctx.Err() != nil {
				return
			}
			slog.Warn("valkey subscription ended, resubscribing",
				slog.String("channel", a.channel), slog.Any("error", err))
			time.Sleep(time.Second)
		}
	}()
}
