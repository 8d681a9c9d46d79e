package backend

import (
	"context"
	"strings"
	"sync"
)

// MemoryUserProvider is an in-process [UserProvider] for development
// servers and tests.
type MemoryUserProvider struct {
	mu         sync.RWMutex
	users      map[string]UserRecord
	byUsername map[string]string
	totp       map[string]TOTPRecord
	backup     map[string][]BackupCodeRecord
}

func NewMemoryUserProvider() *MemoryUserProvider {
	return &MemoryUserProvider{
		users:      make(map[string]UserRecord),
		byUsername: make(map[string]string),
		totp:       make(map[string]TOTPRecord),
		backup:     make(map[string][]BackupCodeRecord),
	}
}

// Put inserts or replaces a user. Usernames match case-insensitively.
func (m *MemoryUserProvider) Put(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = u
	m.byUsername[strings.ToLower(u.Username)] = u.UserID
}

// PutTOTP installs an enabled secret directly, bypassing enrollment.
func (m *MemoryUserProvider) PutTOTP(userID string, secret []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totp[userID] = TOTPRecord{Secret: append([]byte(nil), secret...), Enabled: true}
	if u, ok := m.users[userID]; ok {
		u.TwoFactorEnabled = true
		m.users[userID] = u
	}
}

func (m *MemoryUserProvider) GetUserByUsername(_ context.Context, username string) (UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUsername[strings.ToLower(username)]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return m.users[id], nil
}

func (m *MemoryUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *MemoryUserProvider) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	return m.update(userID, func(u *UserRecord) { u.PasswordHash = hash })
}

func (m *MemoryUserProvider) UpdateVerificationStatus(_ context.Context, userID, status string) error {
	return m.update(userID, func(u *UserRecord) { u.VerificationStatus = status })
}

func (m *MemoryUserProvider) GetTOTP(_ context.Context, userID string) (TOTPRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totp[userID], nil
}

func (m *MemoryUserProvider) SetPendingTOTP(_ context.Context, userID string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.totp[userID]
	rec.PendingSecret = append([]byte(nil), secret...)
	m.totp[userID] = rec
	return nil
}

func (m *MemoryUserProvider) EnableTOTP(_ context.Context, userID string, secret []byte, counter int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	m.totp[userID] = TOTPRecord{Secret: append([]byte(nil), secret...), Enabled: true, LastUsedCounter: counter}
	u.TwoFactorEnabled = true
	m.users[userID] = u
	return nil
}

func (m *MemoryUserProvider) DisableTOTP(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	delete(m.totp, userID)
	u.TwoFactorEnabled = false
	m.users[userID] = u
	return nil
}

func (m *MemoryUserProvider) UpdateTOTPLastUsedCounter(_ context.Context, userID string, counter int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.totp[userID]
	if counter > rec.LastUsedCounter {
		rec.LastUsedCounter = counter
	}
	m.totp[userID] = rec
	return nil
}

func (m *MemoryUserProvider) GetBackupCodes(_ context.Context, userID string) ([]BackupCodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]BackupCodeRecord(nil), m.backup[userID]...), nil
}

func (m *MemoryUserProvider) ReplaceBackupCodes(_ context.Context, userID string, codes []BackupCodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(codes) == 0 {
		delete(m.backup, userID)
		return nil
	}
	m.backup[userID] = append([]BackupCodeRecord(nil), codes...)
	return nil
}

func (m *MemoryUserProvider) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := m.backup[userID]
	for i, c := range codes {
		if c.Hash == hash {
			m.backup[userID] = append(codes[:i:i], codes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryUserProvider) update(userID string, fn func(*UserRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(&u)
	m.users[userID] = u
	return nil
}
