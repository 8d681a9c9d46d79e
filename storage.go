package goElevate

import (
	"context"
	"sync"
)

// DeviceStore persists client state on the device: the session token, the
// last known session view (a cache, always superseded by a refresh) and the
// biometric enrollment.
type DeviceStore interface {
	LoadToken(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error

	LoadSessionView(ctx context.Context) (SessionView, bool, error)
	SaveSessionView(ctx context.Context, view SessionView) error
	ClearSessionView(ctx context.Context) error

	LoadBiometric(ctx context.Context) (BiometricEnrollment, error)
	SaveBiometric(ctx context.Context, e BiometricEnrollment) error
}

// MemoryStore is a process-local DeviceStore, used by web clients and tests.
type MemoryStore struct {
	mu        sync.Mutex
	token     string
	view      *SessionView
	biometric BiometricEnrollment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) LoadToken(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryStore) SaveToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryStore) ClearToken(context.Context) error {
	return m.SaveToken(context.Background(), "")
}

func (m *MemoryStore) LoadSessionView(context.Context) (SessionView, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.view == nil {
		return SessionView{}, false, nil
	}
	return copyView(*m.view), true, nil
}

func (m *MemoryStore) SaveSessionView(_ context.Context, view SessionView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := copyView(view)
	m.view = &v
	return nil
}

func (m *MemoryStore) ClearSessionView(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view = nil
	return nil
}

func (m *MemoryStore) LoadBiometric(context.Context) (BiometricEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.biometric, nil
}

func (m *MemoryStore) SaveBiometric(_ context.Context, e BiometricEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.biometric = e.Normalize()
	return nil
}

func copyView(v SessionView) SessionView {
	if v.Identity != nil {
		id := *v.Identity
		v.Identity = &id
	}
	return v
}
