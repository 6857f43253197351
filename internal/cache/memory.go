package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Memory is a process-local cache backend, the default when no
// redis server is configured
type Memory struct {
	mutex   sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: map[string]memoryEntry{},
	}
}

func (m *Memory) Set(key string, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.mutex.Lock()
	m.entries[key] = entry
	m.mutex.Unlock()
	return nil
}

func (m *Memory) Get(key string) (string, error) {
	m.mutex.RLock()
	entry, ok := m.entries[key]
	m.mutex.RUnlock()
	if !ok {
		return "", fmt.Errorf("failed to get key[%s]: not found", key)
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mutex.Lock()
		delete(m.entries, key)
		m.mutex.Unlock()
		return "", fmt.Errorf("failed to get key[%s]: not found", key)
	}
	return entry.value, nil
}

func (m *Memory) Scan(prefix string) ([]string, error) {
	prefix = strings.TrimSuffix(prefix, "*")
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := []string{}
	now := time.Now()
	for key, entry := range m.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *Memory) Del(key string) error {
	m.mutex.Lock()
	delete(m.entries, key)
	m.mutex.Unlock()
	return nil
}

func (m *Memory) Ping() error {
	return nil
}
