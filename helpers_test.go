package goElevate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

const (
	testPassword = "correct-horse-42"
	testCode     = "123456"
	testSentinel = "test-sentinel"
)

type fakeUser struct {
	identity    Identity
	password    string
	twoFactor   bool
	backupCodes map[string]bool
}

type fakeSession struct {
	userID   string
	verified bool
	elevated bool
	attempts int
}

// fakeBackend is an in-memory server with the same rejection semantics as
// the reference backend.
type fakeBackend struct {
	mu       sync.Mutex
	users    map[string]*fakeUser
	sessions map[string]*fakeSession
	failures map[string]int
	seq      int

	captchaThreshold int
	maxAttempts      int
	pendingSetup     map[string]bool

	loginCalls   int
	loginTokens  []string
	sessionCalls int
	elevateCalls int

	// hooks
	sessionErr    error
	elevateErr    error
	loginReject   func(call int, req LoginRequest) error
	verifyEntered chan struct{}
	verifyGate    chan struct{}
	sessionDelay  func(call int) time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:            make(map[string]*fakeUser),
		sessions:         make(map[string]*fakeSession),
		failures:         make(map[string]int),
		pendingSetup:     make(map[string]bool),
		captchaThreshold: 5,
		maxAttempts:      5,
	}
}

func (f *fakeBackend) addUser(username string, id Identity, twoFactor bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id.Username = username
	f.users[username] = &fakeUser{
		identity:    id,
		password:    testPassword,
		twoFactor:   twoFactor,
		backupCodes: map[string]bool{"ABCD-EFGH": true, "JKLM-NPQR": true},
	}
}

func (f *fakeBackend) userByID(id string) *fakeUser {
	for _, u := range f.users {
		if u.identity.ID == id {
			return u
		}
	}
	return nil
}

// invalidateAll drops every session of userID, like an admin revocation.
func (f *fakeBackend) invalidateAll(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for tok, s := range f.sessions {
		if s.userID == userID {
			delete(f.sessions, tok)
		}
	}
}

func rejection(reason Reason, msg string) *RejectionError {
	return &RejectionError{Reason: reason, Message: msg, AttemptsRemaining: -1}
}

func (f *fakeBackend) Login(_ context.Context, req LoginRequest) (LoginResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	f.loginTokens = append(f.loginTokens, req.ChallengeToken)
	if f.loginReject != nil {
		if err := f.loginReject(f.loginCalls, req); err != nil {
			return LoginResponse{}, err
		}
	}

	captchaRequired := f.failures[req.Username] >= f.captchaThreshold
	if captchaRequired && req.ChallengeToken == "" {
		rej := rejection(ReasonCaptchaRequired, "captcha required")
		rej.CaptchaRequired = true
		return LoginResponse{}, rej
	}

	u, ok := f.users[req.Username]
	if !ok || u.password != req.Password {
		f.failures[req.Username]++
		rej := rejection(ReasonInvalidCredentials, "invalid credentials")
		rej.CaptchaRequired = f.failures[req.Username] >= f.captchaThreshold
		return LoginResponse{}, rej
	}
	delete(f.failures, req.Username)

	f.seq++
	token := fmt.Sprintf("tok-%d", f.seq)
	f.sessions[token] = &fakeSession{userID: u.identity.ID, verified: !u.twoFactor, elevated: !u.twoFactor}
	if u.twoFactor {
		return LoginResponse{RequiresTwoFactor: true, UserID: u.identity.ID, Token: token}, nil
	}
	return LoginResponse{UserID: u.identity.ID, Token: token, Identity: u.identity}, nil
}

func (f *fakeBackend) session(ctx context.Context) (*fakeSession, error) {
	s, ok := f.sessions[SessionTokenFrom(ctx)]
	if !ok {
		return nil, rejection(ReasonRequiresLogin, "login required")
	}
	return s, nil
}

func (f *fakeBackend) VerifyTwoFactor(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	if f.verifyEntered != nil {
		f.verifyEntered <- struct{}{}
	}
	if f.verifyGate != nil {
		<-f.verifyGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.session(ctx)
	if err != nil {
		return VerifyResponse{}, err
	}
	if s.attempts >= f.maxAttempts {
		return VerifyResponse{}, rejection(ReasonAttemptsExceeded, "too many attempts")
	}
	u := f.userByID(s.userID)

	ok := false
	if req.BackupCode != "" {
		key := canonicalBackupCode(req.BackupCode)
		for c, live := range u.backupCodes {
			if live && canonicalBackupCode(c) == key {
				u.backupCodes[c] = false
				ok = true
			}
		}
	} else {
		ok = req.Code == testCode
	}
	if !ok {
		s.attempts++
		rej := rejection(ReasonInvalidCode, "invalid code")
		rej.AttemptsRemaining = f.maxAttempts - s.attempts
		if rej.AttemptsRemaining == 0 {
			rej.Reason = ReasonAttemptsExceeded
		}
		return VerifyResponse{}, rej
	}
	s.verified = true
	return VerifyResponse{UserID: s.userID, ReturnURL: "/"}, nil
}

func (f *fakeBackend) ElevateSession(ctx context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elevateCalls++
	s, err := f.session(ctx)
	if err != nil {
		return err
	}
	if f.elevateErr != nil {
		if s.verified {
			s.elevated = true
		}
		return f.elevateErr
	}
	if !s.verified {
		return rejection(ReasonSecondFactorRequired, "second factor required")
	}
	s.elevated = true
	return nil
}

func (f *fakeBackend) Session(ctx context.Context) (SessionView, error) {
	f.mu.Lock()
	f.sessionCalls++
	call := f.sessionCalls
	delay := f.sessionDelay
	view, err := f.viewLocked(SessionTokenFrom(ctx))
	f.mu.Unlock()

	// the answer is computed before the delay, like a slow response
	if delay != nil {
		time.Sleep(delay(call))
	}
	return view, err
}

func (f *fakeBackend) viewLocked(token string) (SessionView, error) {
	if f.sessionErr != nil {
		return SessionView{}, f.sessionErr
	}
	s, ok := f.sessions[token]
	if !ok {
		return SessionView{}, nil
	}
	u := f.userByID(s.userID)
	id := u.identity
	return SessionView{
		Authenticated:     true,
		TwoFactorEnabled:  u.twoFactor,
		TwoFactorVerified: u.twoFactor && s.elevated,
		Identity:          &id,
	}, nil
}

func (f *fakeBackend) setStatus(userID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userByID(userID).identity.VerificationStatus = status
}

func (f *fakeBackend) setSessionErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionErr = err
}

func (f *fakeBackend) calls() (login, session, elevate int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls, f.sessionCalls, f.elevateCalls
}

func (f *fakeBackend) BeginTwoFactorSetup(ctx context.Context) (TwoFactorSetup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.session(ctx)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	if !s.elevated {
		return TwoFactorSetup{}, rejection(ReasonNotElevated, "not elevated")
	}
	f.pendingSetup[s.userID] = true
	return TwoFactorSetup{Secret: "GEZDGNBVGY3TQOJQ", QRPayload: "otpauth://totp/Exchange:" + s.userID}, nil
}

func (f *fakeBackend) ConfirmTwoFactorSetup(ctx context.Context, code string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.session(ctx)
	if err != nil {
		return nil, err
	}
	if !f.pendingSetup[s.userID] {
		return nil, rejection(ReasonSetupNotStarted, "setup not started")
	}
	if code != testCode {
		return nil, rejection(ReasonInvalidCode, "invalid code")
	}
	delete(f.pendingSetup, s.userID)
	u := f.userByID(s.userID)
	u.twoFactor = true
	u.backupCodes = map[string]bool{"AAAA-BBBB": true, "CCCC-DDDD": true}
	s.verified, s.elevated = true, true
	return []string{"AAAA-BBBB", "CCCC-DDDD"}, nil
}

func (f *fakeBackend) DisableTwoFactor(ctx context.Context, code string, backup bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.session(ctx)
	if err != nil {
		return err
	}
	u := f.userByID(s.userID)
	if !u.twoFactor {
		return rejection(ReasonTwoFactorNotEnabled, "not enabled")
	}
	if backup || code != testCode {
		return rejection(ReasonInvalidCode, "invalid code")
	}
	u.twoFactor = false
	u.backupCodes = nil
	return nil
}

func (f *fakeBackend) RegenerateBackupCodes(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.session(ctx)
	if err != nil {
		return nil, err
	}
	if !s.elevated {
		return nil, rejection(ReasonNotElevated, "not elevated")
	}
	u := f.userByID(s.userID)
	f.seq++
	fresh := fmt.Sprintf("NEW%d-CODE", f.seq)
	u.backupCodes = map[string]bool{fresh: true}
	return []string{fresh}, nil
}

func (f *fakeBackend) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, SessionTokenFrom(ctx))
	return nil
}

type callbacks struct {
	mu          sync.Mutex
	challenges  []string
	verified    []Destination
	invalidated int
}

func (c *callbacks) invalidatedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated
}

func testClientConfig() Config {
	cfg := DefaultConfig()
	cfg.Production = false
	cfg.BotMitigation.SentinelToken = testSentinel
	cfg.BotMitigation.Timeout = 200 * time.Millisecond
	cfg.Session.ElevateConfirmDelay = 0
	cfg.Bridge.ReconnectMin = time.Millisecond
	cfg.Bridge.ReconnectMax = 5 * time.Millisecond
	return cfg
}

type clientOption func(*Builder)

func newTestClient(t *testing.T, be Backend, opts ...clientOption) (*Client, *callbacks) {
	t.Helper()
	cb := &callbacks{}
	b := New().
		WithConfig(testClientConfig()).
		WithBackend(be).
		OnChallengeRequired(func(userID string) {
			cb.mu.Lock()
			cb.challenges = append(cb.challenges, userID)
			cb.mu.Unlock()
		}).
		OnVerified(func(_ SessionView, dest Destination) {
			cb.mu.Lock()
			cb.verified = append(cb.verified, dest)
			cb.mu.Unlock()
		}).
		OnSessionInvalidated(func() {
			cb.mu.Lock()
			cb.invalidated++
			cb.mu.Unlock()
		})
	for _, o := range opts {
		o(b)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c, cb
}

func standardBackend() *fakeBackend {
	f := newFakeBackend()
	f.addUser("alice", Identity{ID: "7", IsAdmin: true, IsContractor: true, VerificationStatus: "verified"}, false)
	f.addUser("bob", Identity{ID: "42", VerificationStatus: "verified"}, true)
	return f
}
