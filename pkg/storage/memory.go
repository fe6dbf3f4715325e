package storage

import (
	"sync"

	"github.com/rewritedb/rewritedb/pkg/cid"
)

// Memory is an in-memory BlockStorage. It is safe for concurrent use and is
// the default backend when no data path is configured.
type Memory struct {
	mu     sync.RWMutex
	blocks map[cid.Cid][]byte
	meta   map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		blocks: make(map[cid.Cid][]byte),
		meta:   make(map[string][]byte),
	}
}

func (m *Memory) PutBytes(c cid.Cid, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[c]; ok {
		return nil
	}
	m.blocks[c] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) GetBytes(c cid.Cid) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blocks[c]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Has(c cid.Cid) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[c]
	return ok
}

func (m *Memory) PutMeta(key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[key] = append([]byte(nil), val...)
	return nil
}

func (m *Memory) GetMeta(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.meta[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), val...), nil
}

// Len returns the number of stored blocks.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}
