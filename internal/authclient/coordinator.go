package authclient

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/screenlog/screenlog-client/internal/session"
)

// refreshFunc performs the actual network refresh call.
type refreshFunc func(ctx context.Context, refreshToken string) (TokenResponse, error)

type refreshOutcome struct {
	token string
	err   error
}

// Coordinator serializes token refreshes: however many callers observe an
// expired token at once, exactly one network refresh is issued and every
// caller receives that one outcome. Implemented as an explicit in-flight
// flag plus a waiter queue released together, rather than a bare boolean
// checked ad hoc - that is what rules out lost wakeups and duplicate
// refresh calls.
type Coordinator struct {
	mu       sync.Mutex
	inFlight bool
	waiters  []chan refreshOutcome

	session *session.State
	do      refreshFunc

	// onSessionExpired fires after a failed refresh has cleared the
	// session; the application typically routes to its login entry point.
	onSessionExpired func()
}

// NewCoordinator creates a Coordinator refreshing through do.
func NewCoordinator(state *session.State, do refreshFunc, onSessionExpired func()) *Coordinator {
	return &Coordinator{session: state, do: do, onSessionExpired: onSessionExpired}
}

// Refresh obtains a new access token. The first caller while idle becomes
// the leader and issues the network call; callers arriving while a refresh
// is in flight wait for that same outcome and never issue a second call.
//
// A waiter whose context is cancelled stops waiting, but the in-flight
// refresh always runs to completion and settles the remaining waiters.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.inFlight {
		ch := make(chan refreshOutcome, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		log.Debug().Msg("refresh already in flight, waiting for outcome")
		select {
		case out := <-ch:
			return out.token, out.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	// A missing or known-expired refresh token fails locally: the network
	// call is doomed either way.
	refreshToken := c.session.RefreshToken()
	if refreshToken == "" || c.session.RefreshTokenExpired() {
		c.mu.Unlock()

		log.Warn().
			Bool("refreshTokenExpired", refreshToken != "").
			Msg("no usable refresh token, clearing session")
		if err := c.session.Clear(); err != nil {
			log.Warn().Err(err).Msg("failed to clear persisted session")
		}
		c.notifyExpired()
		return "", ErrNoRefreshToken
	}

	c.inFlight = true
	c.mu.Unlock()

	out := c.execute(ctx, refreshToken)

	// Settle: release every waiter registered during the in-flight window,
	// in FIFO order, then return to idle.
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- out
	}
	return out.token, out.err
}

// WaitSettled blocks until no refresh is in flight. Logout uses it so a
// fresh token can never be persisted after the session was cleared.
func (c *Coordinator) WaitSettled(ctx context.Context) error {
	c.mu.Lock()
	if !c.inFlight {
		c.mu.Unlock()
		return nil
	}
	ch := make(chan refreshOutcome, 1)
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute performs the network refresh and applies its result. The call
// runs on a context detached from the leader's: once started, a refresh is
// never cancelled, so late waiters cannot be stranded by an early caller
// giving up.
func (c *Coordinator) execute(ctx context.Context, refreshToken string) refreshOutcome {
	resp, err := c.do(context.WithoutCancel(ctx), refreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("token refresh rejected, clearing session")
		if clearErr := c.session.Clear(); clearErr != nil {
			log.Warn().Err(clearErr).Msg("failed to clear persisted session")
		}
		c.notifyExpired()

		var rejected *RefreshRejectedError
		if !errors.As(err, &rejected) {
			err = &RefreshRejectedError{Err: err}
		}
		return refreshOutcome{err: err}
	}

	// The backend only sometimes rotates the refresh token; ApplyRefresh
	// keeps the previous one when the response omits it.
	if applyErr := c.session.ApplyRefresh(resp.AccessToken, resp.RefreshToken, resp.ExpiresAt(c.session.Now())); applyErr != nil {
		log.Warn().Err(applyErr).Msg("refreshed tokens not persisted, in-memory session still valid")
	}

	refreshExpiry := resp.RefreshExpiresAt(c.session.Now())
	if !refreshExpiry.IsZero() {
		c.session.SetRefreshExpiry(refreshExpiry)
	}

	log.Debug().
		Bool("rotatedRefreshToken", resp.RefreshToken != "").
		Time("refreshExpiresAt", refreshExpiry).
		Msg("token refresh succeeded")
	return refreshOutcome{token: resp.AccessToken}
}

func (c *Coordinator) notifyExpired() {
	if c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}
