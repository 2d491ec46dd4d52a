package mtproto

import (
	"context"

	"github.com/gotd/td/session"
)

// SessionRepo хранит сырые MTProto-сессии.
type SessionRepo interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	StoreMTProtoSession(ctx context.Context, name string, data []byte) error
}

// SessionDB хранит сессию gotd в базе под указанным именем.
type SessionDB struct {
	repo SessionRepo
	name string
}

var _ session.Storage = (*SessionDB)(nil)

// NewSessionDB создаёт хранилище сессии.
func NewSessionDB(repo SessionRepo, name string) *SessionDB {
	return &SessionDB{repo: repo, name: name}
}

// LoadSession загружает сессию. Сохранённые в чужом формате данные конвертируются.
func (s *SessionDB) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := s.repo.LoadMTProtoSession(ctx, s.name)
	if err != nil {
		return nil, err
	}
	normalized, converted, err := NormalizeSessionBytes(data)
	if err != nil {
		return nil, err
	}
	if converted {
		if err := s.repo.StoreMTProtoSession(ctx, s.name, normalized); err != nil {
			return nil, err
		}
	}
	return normalized, nil
}

// StoreSession сохраняет сессию.
func (s *SessionDB) StoreSession(ctx context.Context, data []byte) error {
	return s.repo.StoreMTProtoSession(ctx, s.name, data)
}
