package store

import (
	"context"
	"sync"
)

// memStore is an in-process KVStore used only to exercise the contract in
// tests; PostgresStore is the production implementation and needs a live
// database to test against.
type memStore struct {
	mu       sync.Mutex
	counters map[string]int64
	hashes   map[string]map[string]string
	lists    map[string][]string
	blobs    map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{
		counters: map[string]int64{},
		hashes:   map[string]map[string]string{},
		lists:    map[string][]string{},
		blobs:    map[string][]byte{},
	}
}

func (m *memStore) Incr(_ context.Context, counter string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[counter]++
	return m.counters[counter], nil
}

func (m *memStore) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashes[key] == nil {
		m.hashes[key] = map[string]string{}
	}
	m.hashes[key][field] = value
	return nil
}

func (m *memStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.hashes[key][field]
	return v, ok, nil
}

func (m *memStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) LPush(_ context.Context, key, value string, cap int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([]string{value}, m.lists[key]...)
	if cap > 0 && len(m.lists[key]) > cap {
		m.lists[key] = m.lists[key][:cap]
	}
	return nil
}

func (m *memStore) LRange(_ context.Context, key string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

func (m *memStore) GetBytes(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[key], nil
}

func (m *memStore) SetBytes(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) AppendBytes(_ context.Context, key string, suffix []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append(m.blobs[key], suffix...)
	return nil
}

func (m *memStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = map[string]int64{}
	m.hashes = map[string]map[string]string{}
	m.lists = map[string][]string{}
	m.blobs = map[string][]byte{}
	return nil
}

func (m *memStore) Close() {}

var _ KVStore = (*memStore)(nil)
