package storage

import (
	"context"
	"fmt"

	"dlevel-stack/shared/config"
)

// Store bundles the two areas the relay serves.
type Store struct {
	Local   Area
	Session Area
	closers []func()
}

// Area returns the area with the given name, or ErrUnknownArea.
func (s *Store) Area(name string) (Area, error) {
	switch name {
	case AreaLocal:
		return s.Local, nil
	case AreaSession:
		return s.Session, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownArea, name)
	}
}

func (s *Store) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Open builds the store for the configured backend. The session area is kept
// in memory unless the backend is valkey, where both areas live on the server.
func Open(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	switch cfg.Backend {
	case "file", "":
		local, err := NewFileArea(cfg.DataDir, AreaLocal)
		if err != nil {
			return nil, err
		}
		return &Store{Local: local, Session: NewMemoryArea(AreaSession)}, nil

	case "sqlite":
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Store{
			Local:   db.Area(AreaLocal),
			Session: NewMemoryArea(AreaSession),
			closers: []func(){func() { db.Close() }},
		}, nil

	case "valkey":
		vs, err := OpenValkey(ctx, ValkeyOptions{
			Address:  cfg.Valkey.Address,
			Password: cfg.Valkey.Password,
			TLS:      cfg.Valkey.TLS,
			Prefix:   cfg.Valkey.Prefix,
		})
		if err != nil {
			return nil, err
		}
		local, session := vs.Area(AreaLocal), vs.Area(AreaSession)
		return &Store{
			Local:   local,
			Session: session,
			closers: []func(){vs.Close, local.Close, session.Close},
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
