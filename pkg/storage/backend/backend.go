// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend implements the object storage backends behind
// types.ObjectStorage: a local filesystem store for development and tests,
// and an S3 store with threshold-based multipart transfers.
//
// Every operation validates its arguments before any I/O and reports
// failures as *Error, classified InvalidArgument, NotFound or StorageFailure
// the same way on every backend.
package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/LeeDigitalWorks/zapstore/pkg/types"
)

// Registry holds registered backend factories
var (
	registryMu sync.RWMutex
	registry   = make(map[types.StorageType]Factory)
)

// Factory creates an ObjectStorage from config
type Factory func(cfg types.BackendConfig) (types.ObjectStorage, error)

// Register adds a factory for a storage type
func Register(t types.StorageType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates an ObjectStorage from config
func New(cfg types.BackendConfig) (types.ObjectStorage, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, invalidArgument(opNew, fmt.Sprintf("unknown storage type: %q", cfg.Type))
	}
	return f(cfg)
}

// Manager tracks multiple backends
type Manager struct {
	mu       sync.RWMutex
	backends map[string]types.ObjectStorage
	configs  map[string]types.BackendConfig
}

// NewManager creates a backend manager
func NewManager() *Manager {
	return &Manager{
		backends: make(map[string]types.ObjectStorage),
		configs:  make(map[string]types.BackendConfig),
	}
}

// Add creates and registers a backend
func (m *Manager) Add(id string, cfg types.BackendConfig) error {
	storage, err := New(cfg)
	if err != nil {
		return fmt.Errorf("create backend %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, exists := m.backends[id]; exists {
		old.Close()
	}

	m.backends[id] = storage
	m.configs[id] = cfg
	return nil
}

// AddStorage registers an already constructed backend under id.
func (m *Manager) AddStorage(id string, storage types.ObjectStorage, cfg types.BackendConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, exists := m.backends[id]; exists && old != storage {
		old.Close()
	}
	m.backends[id] = storage
	m.configs[id] = cfg
}

// Config returns the configuration a backend was created with
func (m *Manager) Config(id string) (types.BackendConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[id]
	return cfg, ok
}

// Get retrieves a backend by ID
func (m *Manager) Get(id string) (types.ObjectStorage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[id]
	return b, ok
}

// Remove closes and removes a backend
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.backends[id]; ok {
		b.Close()
		delete(m.backends, id)
		delete(m.configs, id)
	}
	return nil
}

// List returns all backend IDs
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.backends))
	for id := range m.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes all backends
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.backends {
		b.Close()
	}
	m.backends = make(map[string]types.ObjectStorage)
	m.configs = make(map[string]types.BackendConfig)
	return nil
}
