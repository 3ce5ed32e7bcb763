package store

import (
	"context"
	"sync"
	"time"
)

type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: map[string]Record{}}
}

func (m *Memory) LoadState(_ context.Context, roomID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[roomID]
	if !ok {
		return nil, nil
	}
	rec.Doc = append([]byte(nil), rec.Doc...)
	return &rec, nil
}

func (m *Memory) SaveState(_ context.Context, roomID string, doc []byte, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.records[roomID]; ok && cur.Version >= version {
		return ErrStaleWrite
	}
	m.records[roomID] = Record{
		Doc:       append([]byte(nil), doc...),
		Version:   version,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (m *Memory) DeleteState(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, roomID)
	return nil
}
