package service

import "sync"

// Manager guarantees that only one live AuthService mutates the session
// at a time. Installing a replacement closes the previous instance first,
// so a stale instance can never keep delivering notifications or racing
// the new one for the stored session.
type Manager struct {
	mu      sync.Mutex
	current *AuthService
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Install closes any existing instance, then builds and installs the
// replacement. On build failure no instance is installed.
func (m *Manager) Install(build func() (*AuthService, error)) (*AuthService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Close()
		m.current = nil
	}

	svc, err := build()
	if err != nil {
		return nil, err
	}
	m.current = svc
	return svc, nil
}

// Current returns the live instance, or nil when none is installed.
func (m *Manager) Current() *AuthService {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close shuts down the live instance, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}
