package mtproto

import (
	"context"
	"sync"
)

// PeerKind различает пространства идентификаторов Telegram.
type PeerKind string

const (
	PeerChannel PeerKind = "channel"
	PeerUser    PeerKind = "user"
)

// PeerCache хранит access hash, без которого MTProto не принимает идентификаторы.
type PeerCache interface {
	AccessHash(ctx context.Context, kind PeerKind, id int64) (int64, bool, error)
	StoreAccessHashes(ctx context.Context, kind PeerKind, hashes map[int64]int64) error
}

// MemoryPeers хранит access hash в памяти процесса.
type MemoryPeers struct {
	mu     sync.RWMutex
	hashes map[PeerKind]map[int64]int64
}

// NewMemoryPeers создаёт пустой кэш.
func NewMemoryPeers() *MemoryPeers {
	return &MemoryPeers{hashes: make(map[PeerKind]map[int64]int64)}
}

func (m *MemoryPeers) AccessHash(_ context.Context, kind PeerKind, id int64) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hash, ok := m.hashes[kind][id]
	return hash, ok, nil
}

func (m *MemoryPeers) StoreAccessHashes(_ context.Context, kind PeerKind, hashes map[int64]int64) error {
	if len(hashes) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.hashes[kind]
	if !ok {
		bucket = make(map[int64]int64, len(hashes))
		m.hashes[kind] = bucket
	}
	for id, hash := range hashes {
		bucket[id] = hash
	}
	return nil
}
