// Package service orchestrates the session lifecycle and the dependent
// bookmark operations over the domain and adapter layers.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/davidshq/forgetfulme-sub002/internal/adapter/outbound/supabase"
	"github.com/davidshq/forgetfulme-sub002/internal/config"
	"github.com/davidshq/forgetfulme-sub002/internal/domain/cache"
	"github.com/davidshq/forgetfulme-sub002/internal/domain/session"
	"github.com/davidshq/forgetfulme-sub002/internal/observe"
	"github.com/davidshq/forgetfulme-sub002/internal/port/outbound"
)

// ClientFactory constructs the remote auth client for a remote config.
// Injected so tests can substitute a mock endpoint.
type ClientFactory func(rc *config.RemoteConfig) (outbound.AuthAPI, error)

// DefaultClientFactory builds the real Supabase auth client.
func DefaultClientFactory(metrics *observe.Metrics) ClientFactory {
	return func(rc *config.RemoteConfig) (outbound.AuthAPI, error) {
		return supabase.NewAuthClient(rc.URL, rc.AnonKey, supabase.WithMetrics(metrics)), nil
	}
}

// AuthChangeListener receives the new session on every completed
// sign-in/refresh transition and nil on sign-out.
type AuthChangeListener func(*session.Session)

// AuthStatus is a point-in-time summary of the auth state.
type AuthStatus struct {
	IsAuthenticated bool
	HasConfig       bool
	// User is nil when unauthenticated.
	User *AuthStatusUser
}

// AuthStatusUser is the user slice of AuthStatus.
type AuthStatusUser struct {
	ID        string
	Email     string
	ExpiresAt time.Time
}

// SignUpResult is the three-outcome result of SignUp: a session (account
// created and signed in), or RequiresConfirmation (account created, email
// verification pending -- not an error), with plain errors as the third
// outcome.
type SignUpResult struct {
	Session              *session.Session
	RequiresConfirmation bool
	Email                string
}

type authListener struct {
	id int
	fn AuthChangeListener
}

// AuthService owns the session lifecycle: initialize, restore, refresh,
// sign-in/out, and listener notification.
//
// Every operation that can mutate the current session runs through a FIFO
// queue with exactly one operation in flight, so a sign-out issued while a
// refresh is in flight can never interleave and leave the stored session
// and the in-memory session pointing at different credentials.
type AuthService struct {
	provider  config.RemoteProvider
	newClient ClientFactory
	sessions  *session.Store
	cache     *cache.Cache
	logger    *slog.Logger
	metrics   *observe.Metrics
	queue     *opQueue

	mu         sync.Mutex
	client     outbound.AuthAPI
	current    *session.Session
	listeners  []authListener
	nextListID int
	closed     bool
}

// NewAuthService creates an AuthService. Call Initialize before use and
// Close when done. Prefer installing instances through a Manager so only
// one live instance mutates the session at a time.
func NewAuthService(provider config.RemoteProvider, factory ClientFactory, sessions *session.Store, c *cache.Cache, logger *slog.Logger, metrics *observe.Metrics) *AuthService {
	if metrics == nil {
		metrics = observe.NopMetrics()
	}
	return &AuthService{
		provider:  provider,
		newClient: factory,
		sessions:  sessions,
		cache:     c,
		logger:    logger,
		metrics:   metrics,
		queue:     newOpQueue(logger, metrics),
	}
}

// Initialize reads the remote configuration and, when present, constructs
// the remote client and attempts to restore a persisted session.
//
// Returns (false, nil) when no remote configuration exists -- the expected
// pre-configuration state, not a failure. A failed restore is swallowed:
// it leaves the service configured but signed out. Returns (true, nil)
// once the client is constructed, regardless of restore outcome.
func (s *AuthService) Initialize(ctx context.Context) (bool, error) {
	v, err := s.queue.Do(ctx, "initialize", func(ctx context.Context) (any, error) {
		rc, err := s.provider.GetRemoteConfig(ctx)
		if err != nil {
			return false, opErr("auth.Initialize", "Unable to load backend configuration.", err)
		}
		if rc == nil {
			s.logger.Info("no remote configuration, running unconfigured")
			return false, nil
		}

		client, err := s.newClient(rc)
		if err != nil {
			return false, opErr("auth.Initialize", "Unable to connect to the sync backend.", err)
		}
		s.mu.Lock()
		s.client = client
		s.mu.Unlock()

		if err := s.restoreSession(ctx); err != nil {
			// Restore failure is not an initialization failure; the
			// user simply starts signed out.
			s.logger.Warn("session restore failed", "error", err)
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	configured, _ := v.(bool)
	return configured, nil
}

// restoreSession loads the persisted session, discards it if expired, and
// otherwise installs it optimistically and schedules a background refresh.
// Runs inside the initialize queue slot; the background refresh is queued
// behind it rather than awaited, so restore never blocks on network.
func (s *AuthService) restoreSession(ctx context.Context) error {
	sess, err := s.sessions.Load(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	if sess.IsExpired() {
		s.logger.Info("stored session expired, clearing", "email", sess.Email)
		s.cleanupLocal(ctx)
		return nil
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	s.metrics.AuthTransitions.WithLabelValues("restore", "ok").Inc()
	s.logger.Info("session restored", "email", sess.Email)

	s.queue.DoAsync(context.WithoutCancel(ctx), "backgroundRefresh", func(ctx context.Context) (any, error) {
		// Background refresh failures are silent: there is no caller
		// to show them to. doRefresh logs and cleans up on its own.
		_, _ = s.doRefresh(ctx)
		return nil, nil
	})
	return nil
}

// SignIn exchanges credentials for a session and installs it.
// Malformed input is rejected before any remote call.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*session.Session, error) {
	if err := validateCredentials("auth.SignIn", email, password); err != nil {
		return nil, err
	}

	v, err := s.queue.Do(ctx, "signIn", func(ctx context.Context) (any, error) {
		client, err := s.requireClient("auth.SignIn")
		if err != nil {
			return nil, err
		}

		res, err := client.SignInWithPassword(ctx, email, password)
		if err != nil {
			s.metrics.AuthTransitions.WithLabelValues("sign_in", "error").Inc()
			return nil, opErr("auth.SignIn", "Unable to sign in. Check your email and password.", err)
		}
		if res.User == nil || res.Session == nil {
			s.metrics.AuthTransitions.WithLabelValues("sign_in", "error").Inc()
			return nil, opErr("auth.SignIn", "Sign-in succeeded but no session was returned.", nil)
		}

		sess, err := s.handleAuthSuccess(ctx, res, nil)
		if err != nil {
			s.metrics.AuthTransitions.WithLabelValues("sign_in", "error").Inc()
			return nil, opErr("auth.SignIn", "Unable to save your session.", err)
		}
		s.metrics.AuthTransitions.WithLabelValues("sign_in", "ok").Inc()
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session), nil
}

// SignUp registers a new account. Callers must check RequiresConfirmation
// on the result: an account pending email verification is a successful
// outcome with no session installed.
func (s *AuthService) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	if err := validateCredentials("auth.SignUp", email, password); err != nil {
		return nil, err
	}

	v, err := s.queue.Do(ctx, "signUp", func(ctx context.Context) (any, error) {
		client, err := s.requireClient("auth.SignUp")
		if err != nil {
			return nil, err
		}

		res, err := client.SignUp(ctx, email, password)
		if err != nil {
			s.metrics.AuthTransitions.WithLabelValues("sign_up", "error").Inc()
			return nil, opErr("auth.SignUp", "Unable to create your account.", err)
		}

		if res.Session == nil {
			if res.User != nil && res.User.EmailConfirmedAt == nil {
				s.logger.Info("sign-up pending email confirmation", "email", res.User.Email)
				s.metrics.AuthTransitions.WithLabelValues("sign_up", "ok").Inc()
				return &SignUpResult{RequiresConfirmation: true, Email: res.User.Email}, nil
			}
			s.metrics.AuthTransitions.WithLabelValues("sign_up", "error").Inc()
			return nil, opErr("auth.SignUp", "Sign-up succeeded but no session was returned.", nil)
		}
		if res.User == nil {
			s.metrics.AuthTransitions.WithLabelValues("sign_up", "error").Inc()
			return nil, opErr("auth.SignUp", "Sign-up succeeded but no user was returned.", nil)
		}

		sess, err := s.handleAuthSuccess(ctx, res, nil)
		if err != nil {
			s.metrics.AuthTransitions.WithLabelValues("sign_up", "error").Inc()
			return nil, opErr("auth.SignUp", "Unable to save your session.", err)
		}
		s.metrics.AuthTransitions.WithLabelValues("sign_up", "ok").Inc()
		return &SignUpResult{Session: sess}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SignUpResult), nil
}

// SignOut revokes the session remotely (best effort) and unconditionally
// clears local state: current session, session store, session-derived
// cache entries. Listeners are notified with nil.
func (s *AuthService) SignOut(ctx context.Context) error {
	_, err := s.queue.Do(ctx, "signOut", func(ctx context.Context) (any, error) {
		s.mu.Lock()
		client := s.client
		current := s.current
		s.mu.Unlock()

		if client != nil && current != nil {
			if err := client.SignOut(ctx, current.AccessToken); err != nil {
				// Remote failure never blocks local cleanup.
				s.logger.Warn("remote sign-out failed, clearing local session anyway", "error", err)
			}
		}

		s.cleanupLocal(ctx)
		s.metrics.AuthTransitions.WithLabelValues("sign_out", "ok").Inc()
		return nil, nil
	})
	return err
}

// GetSession returns the current session, refreshing it first when the
// access token has expired. Returns (nil, nil) when signed out.
func (s *AuthService) GetSession(ctx context.Context) (*session.Session, error) {
	v, err := s.queue.Do(ctx, "getSession", func(ctx context.Context) (any, error) {
		s.mu.Lock()
		current := s.current.Clone()
		s.mu.Unlock()

		if current == nil {
			return (*session.Session)(nil), nil
		}
		if !current.IsExpired() {
			return current, nil
		}
		return s.doRefresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	sess, _ := v.(*session.Session)
	return sess, nil
}

// RefreshSession exchanges the refresh token for new credentials. On any
// failure -- including the routine "no session to refresh" -- it runs the
// sign-out cleanup path and returns (nil, nil) rather than an error.
func (s *AuthService) RefreshSession(ctx context.Context) (*session.Session, error) {
	v, err := s.queue.Do(ctx, "refreshSession", func(ctx context.Context) (any, error) {
		return s.doRefresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	sess, _ := v.(*session.Session)
	return sess, nil
}

// doRefresh is the refresh body shared by RefreshSession, GetSession, and
// the post-restore background refresh. Must run from inside a queue slot.
func (s *AuthService) doRefresh(ctx context.Context) (*session.Session, error) {
	s.mu.Lock()
	client := s.client
	current := s.current.Clone()
	s.mu.Unlock()

	if client == nil || current == nil {
		// Nothing to refresh. Normal unauthenticated use, not an error.
		s.cleanupLocal(ctx)
		return nil, nil
	}

	res, err := client.RefreshSession(ctx, current.RefreshToken)
	if err != nil {
		if supabase.IsSessionAbsence(err) {
			s.logger.Debug("no session to refresh")
		} else {
			s.logger.Error("session refresh failed", "error", err)
			s.metrics.AuthTransitions.WithLabelValues("refresh", "error").Inc()
		}
		s.cleanupLocal(ctx)
		return nil, nil
	}
	if res.Session == nil {
		s.logger.Debug("refresh returned no session")
		s.cleanupLocal(ctx)
		return nil, nil
	}

	sess, err := s.handleAuthSuccess(ctx, res, current)
	if err != nil {
		s.logger.Error("persisting refreshed session failed", "error", err)
		s.metrics.AuthTransitions.WithLabelValues("refresh", "error").Inc()
		s.cleanupLocal(ctx)
		return nil, nil
	}
	s.metrics.AuthTransitions.WithLabelValues("refresh", "ok").Inc()
	return sess, nil
}

// ResetPassword triggers the password-recovery email flow.
func (s *AuthService) ResetPassword(ctx context.Context, email string) error {
	if err := validateEmail("auth.ResetPassword", email); err != nil {
		return err
	}
	client, err := s.requireClient("auth.ResetPassword")
	if err != nil {
		return err
	}
	if err := client.ResetPasswordForEmail(ctx, email); err != nil {
		return opErr("auth.ResetPassword", "Unable to send the password reset email.", err)
	}
	return nil
}

// handleAuthSuccess normalizes the remote result into a Session, persists
// it, installs it, and notifies listeners synchronously in registration
// order. prior supplies user identity fields when the remote result omits
// them (refresh responses sometimes do). Must run from inside a queue slot.
func (s *AuthService) handleAuthSuccess(ctx context.Context, res *outbound.AuthResult, prior *session.Session) (*session.Session, error) {
	sess := normalizeSession(res, prior)
	if !sess.Complete() {
		return nil, opErr("auth.handleAuthSuccess", "Remote session was incomplete.", nil)
	}

	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = sess
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	s.notify(listeners, sess.Clone())
	return sess.Clone(), nil
}

// normalizeSession maps the remote {user, session} pair onto the public
// Session shape. A missing expires_at is derived from expires_in.
func normalizeSession(res *outbound.AuthResult, prior *session.Session) *session.Session {
	sess := &session.Session{
		AccessToken:  res.Session.AccessToken,
		RefreshToken: res.Session.RefreshToken,
		ExpiresAt:    res.Session.ExpiresAt,
	}
	if sess.ExpiresAt == 0 && res.Session.ExpiresIn > 0 {
		sess.ExpiresAt = time.Now().Unix() + res.Session.ExpiresIn
	}
	if res.User != nil {
		sess.UserID = res.User.ID
		sess.Email = res.User.Email
	}
	if prior != nil {
		if sess.UserID == "" {
			sess.UserID = prior.UserID
		}
		if sess.Email == "" {
			sess.Email = prior.Email
		}
	}
	return sess
}

// cleanupLocal is the shared sign-out cleanup path: drop the in-memory
// session, clear the session store, wipe session-derived cache entries,
// and notify listeners with nil. Storage errors are logged, not returned;
// local cleanup is unconditional.
func (s *AuthService) cleanupLocal(ctx context.Context) {
	s.mu.Lock()
	hadSession := s.current != nil
	s.current = nil
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	if err := s.sessions.Clear(ctx); err != nil {
		s.logger.Warn("clearing stored session failed", "error", err)
	}
	s.cache.InvalidateAll()

	if hadSession {
		s.notify(listeners, nil)
	}
}

// notify delivers sess to each listener in registration order. A panic in
// one listener is contained so the remaining listeners still run.
func (s *AuthService) notify(listeners []authListener, sess *session.Session) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("auth change listener panicked", "error", r)
				}
			}()
			l.fn(sess)
		}()
	}
}

// AddAuthChangeListener registers cb for every future sign-in/refresh and
// sign-out transition. The returned function deregisters exactly this
// callback.
func (s *AuthService) AddAuthChangeListener(cb AuthChangeListener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextListID
	s.nextListID++
	s.listeners = append(s.listeners, authListener{id: id, fn: cb})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// IsConfigured reports whether the remote client has been constructed.
func (s *AuthService) IsConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// IsAuthenticated reports whether a session is currently installed.
func (s *AuthService) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// GetCurrentUser returns a copy of the current credential bundle, or nil
// when signed out.
func (s *AuthService) GetCurrentUser() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// GetAuthStatus returns a point-in-time summary of the auth state.
func (s *AuthService) GetAuthStatus() AuthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := AuthStatus{
		IsAuthenticated: s.current != nil,
		HasConfig:       s.client != nil,
	}
	if s.current != nil {
		status.User = &AuthStatusUser{
			ID:        s.current.UserID,
			Email:     s.current.Email,
			ExpiresAt: s.current.ExpiryTime(),
		}
	}
	return status
}

// Close clears the listener set and shuts the operation queue down,
// waiting for in-flight operations. A closed service rejects further
// session operations; a stale instance must never keep delivering
// notifications after a replacement is installed.
func (s *AuthService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.listeners = nil
	s.mu.Unlock()

	s.queue.Close()
}

func (s *AuthService) requireClient(op string) (outbound.AuthAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, opErr(op, "Sync backend is not configured yet.", nil)
	}
	return s.client, nil
}

func (s *AuthService) snapshotListenersLocked() []authListener {
	out := make([]authListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}
