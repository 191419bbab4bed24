package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// Memory keeps objects in process. It backs local development and tests.
type Memory struct {
	mu         sync.RWMutex
	publicBase string
	objects    map[string][]byte
	failWith   error
}

// NewMemory builds an empty in-process store.
func NewMemory(publicBase string) *Memory {
	if publicBase == "" {
		publicBase = "memory://objects"
	}
	return &Memory{publicBase: publicBase, objects: make(map[string][]byte)}
}

// FailWith makes every subsequent Put return err. Passing nil restores normal behaviour.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Put stores the object bytes.
func (m *Memory) Put(ctx context.Context, obj Object, reader io.Reader) (string, error) {
	m.mu.RLock()
	failure := m.failWith
	m.mu.RUnlock()
	if failure != nil {
		return "", failure
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", fmt.Errorf("read object %s: %w", obj.Key, err)
	}

	m.mu.Lock()
	m.objects[obj.Key] = buf.Bytes()
	m.mu.Unlock()
	return joinURL(m.publicBase, obj.Key), nil
}

// Keys lists the stored keys.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	return keys
}

// Get returns the bytes stored under key.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}
