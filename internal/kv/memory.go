package kv

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
)

// Memory is an in-memory Store used by tests and local development.
// It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	values  map[string]string
	sets    map[string]map[string]struct{}
	expires map[string]time.Time
	clock   func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values:  make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		expires: make(map[string]time.Time),
		clock:   time.Now,
	}
}

// SetClock overrides the time source, letting tests advance TTL expiry.
func (m *Memory) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// Get returns the value stored under key, or errors.ErrNotFound.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.expired(key) {
		return "", errors.NewNotFoundError("kv entry", key)
	}
	value, ok := m.values[key]
	if !ok {
		return "", errors.NewNotFoundError("kv entry", key)
	}
	return value, nil
}

// Set stores value under key with no expiry.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	delete(m.expires, key)
	return nil
}

// SetEx stores value under key with the given time to live.
func (m *Memory) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	m.expires[key] = m.clock().Add(ttl)
	return nil
}

// Exists reports whether key is present.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.expired(key) {
		return false, nil
	}
	if _, ok := m.values[key]; ok {
		return true, nil
	}
	_, ok := m.sets[key]
	return ok, nil
}

// Del removes the given keys.
func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.values, key)
		delete(m.sets, key)
		delete(m.expires, key)
	}
	return nil
}

// GetSet returns the members of the set stored under key.
func (m *Memory) GetSet(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	return members, nil
}

// AddSet adds members to the set stored under key.
func (m *Memory) AddSet(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

// Keys returns all keys starting with the given prefix.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found []string
	for key := range m.values {
		if strings.HasPrefix(key, prefix) && !m.expired(key) {
			found = append(found, key)
		}
	}
	for key := range m.sets {
		if strings.HasPrefix(key, prefix) {
			found = append(found, key)
		}
	}
	return found, nil
}

// expired reports whether key carries a TTL that has passed.
// Callers must hold at least the read lock.
func (m *Memory) expired(key string) bool {
	deadline, ok := m.expires[key]
	if !ok {
		return false
	}
	return m.clock().After(deadline)
}
