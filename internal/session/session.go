// Package session owns one authenticated Steam connection for one
// account and exposes the state machine spec.md §4.3 describes:
// DISCONNECTED → CONNECTING → AUTHING → LOGGED_ON → READY, with
// FAILED on a terminal auth rejection and auto-reconnect on an
// unsolicited drop.
//
// Grounded on the teacher's callback-pump design note (spec.md §9):
// a dedicated worker reads events off the protocol client and
// dispatches to typed handlers that complete promise-like signals. The
// worker itself is built on the teacher's pubsub package, kept
// unmodified as the event-dispatch backbone; refresh-token staleness
// reuses the teacher's JWT-handling instinct (auth.go decoded claims
// out of access tokens) via golang-jwt/jwt/v5.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/ManifestHub/ManifestHub/internal/steamclient"
	"github.com/ManifestHub/ManifestHub/internal/steamerr"
	"github.com/ManifestHub/ManifestHub/pubsub"
)

// State is one node of the session state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthing
	StateLoggedOn
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthing:
		return "authing"
	case StateLoggedOn:
		return "logged_on"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is published on the session's internal bus on every state
// transition; callers only see it through WaitReady, which subscribes to
// the bus and blocks until READY or FAILED arrives.
type Event struct {
	State State
	Err   error
}

// reconnectDelay is the unsolicited-disconnect reconnect wait, fixed at
// 5s per spec.md §4.3.
const reconnectDelay = 5 * time.Second

// Session drives one account's connection lifecycle.
type Session struct {
	client      steamclient.Client
	accountName string
	password    string

	bus *pubsub.ChannelBus[Event]

	mu           sync.Mutex
	state        State
	refreshToken string
	lastRefresh  time.Time
	accountID    uint32
	stateErr     error
	licenses     []steamclient.License

	cancelPump context.CancelFunc
	pumpDone   chan struct{}

	log *slog.Logger
}

// New constructs a Session bound to client for the named account.
// password may be empty if only a refresh-token logon will be
// attempted.
func New(client steamclient.Client, accountName, password string, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		client:      client,
		accountName: accountName,
		password:    password,
		bus:         pubsub.NewMemoryBus[Event](),
		log:         log.With("account", accountName),
	}
}

func (s *Session) setState(st State, err error) {
	s.mu.Lock()
	s.state = st
	s.stateErr = err
	s.mu.Unlock()
	_ = pubsub.Publish(context.Background(), pubsub.Empty{}, Event{State: st, Err: err}, s.bus)
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RefreshToken returns the most recently issued refresh token (spec.md
// §4.4's get_account_info contract). Whether it changed is visible
// through LastRefresh.
func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// LastRefresh returns the time the refresh token was last rotated, or
// the zero time if it never was during this session's lifetime.
func (s *Session) LastRefresh() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefresh
}

// AccountID returns the logged-on account's 32-bit Steam id, used to
// (re)derive the branch index per spec.md §4.4.
func (s *Session) AccountID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

// Licenses returns the license list observed on the READY transition,
// the downloader's input for its product-info fan-out (spec.md §4.4
// step 2).
func (s *Session) Licenses() []steamclient.License {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.licenses
}

// Client returns the underlying steamclient.Client, so the downloader
// can run RPCs over the same connection this session authenticated.
func (s *Session) Client() steamclient.Client {
	return s.client
}

// Connect drives DISCONNECTED → ... → READY (or FAILED). If
// refreshToken is non-empty and isStale does not reject it, it is tried
// first; on any failure, falls back to password credentials exactly
// once, per spec.md §4.3. A stale or unparseable token is not tried at
// all and the credentials are used directly.
func (s *Session) Connect(ctx context.Context, refreshToken string) error {
	s.setState(StateConnecting, nil)
	if err := s.client.Connect(ctx); err != nil {
		s.setState(StateFailed, err)
		return err
	}

	s.setState(StateAuthing, nil)
	result, err := s.logOn(ctx, refreshToken)
	if err != nil {
		s.setState(StateFailed, err)
		return err
	}

	s.mu.Lock()
	s.refreshToken = result.RefreshToken
	s.accountID = result.AccountID
	if result.RefreshToken != refreshToken {
		s.lastRefresh = time.Now()
	}
	s.mu.Unlock()
	s.setState(StateLoggedOn, nil)

	licenses, err := s.client.Licenses(ctx)
	if err != nil {
		s.setState(StateFailed, err)
		return err
	}
	s.mu.Lock()
	s.licenses = licenses
	s.mu.Unlock()
	s.setState(StateReady, nil)

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancelPump = cancel
	s.pumpDone = make(chan struct{})
	go s.pumpCallbacks(pumpCtx)
	return nil
}

func (s *Session) logOn(ctx context.Context, refreshToken string) (steamclient.LogOnResult, error) {
	if refreshToken != "" && !isStale(refreshToken) {
		result, err := s.client.LogOnWithToken(ctx, refreshToken)
		if err == nil {
			return result, nil
		}
		s.log.Warn("refresh token logon failed, falling back to credentials", "error", err)
	}
	if s.password == "" {
		return steamclient.LogOnResult{}, steamerr.New(steamerr.ResultInvalidPassword, "no refresh token and no password available")
	}
	return s.client.LogOnWithCredentials(ctx, steamclient.Credentials{
		AccountName: s.accountName,
		Password:    s.password,
	})
}

// isStale decodes (without verifying) the refresh token's exp claim and
// reports whether it has already passed — a JWT the way the teacher's
// auth.go reads claims out of an access token, not the way it mints or
// verifies one.
func isStale(token string) bool {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().After(exp.Time)
}

// pumpCallbacks is the dedicated worker spec.md §5 describes: it polls
// for disconnects on a 100ms cadence and reacts to an unsolicited drop
// by waiting 5s and reconnecting, until cancelled.
func (s *Session) pumpCallbacks(ctx context.Context) {
	defer close(s.pumpDone)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.client.Disconnected():
			s.setState(StateDisconnected, nil)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			token := s.RefreshToken()
			if err := s.Connect(ctx, token); err != nil {
				s.log.Error("reconnect failed", "error", err)
			}
			return
		case <-ticker.C:
		}
	}
}

// Close terminates the callback pump and the underlying client
// connection, per spec.md §4.3's user-initiated disconnect path.
func (s *Session) Close() error {
	if s.cancelPump != nil {
		s.cancelPump()
		<-s.pumpDone
	}
	if err := s.client.Close(); err != nil {
		return errors.Wrap(err, "close steam client")
	}
	return s.bus.Close()
}

// WaitReady blocks until the session reaches READY or FAILED, or ctx is
// done.
func (s *Session) WaitReady(ctx context.Context) error {
	if s.State() == StateReady {
		return nil
	}
	if s.State() == StateFailed {
		return s.stateErrSnapshot()
	}
	events, err := pubsub.Subscribe(ctx, s.bus)
	if err != nil {
		return err
	}
	for evt := range events {
		switch evt.State {
		case StateReady:
			return nil
		case StateFailed:
			return evt.Err
		}
	}
	return ctx.Err()
}

func (s *Session) stateErrSnapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateErr
}
