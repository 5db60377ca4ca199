package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"qrattend/internal/logger"
)

// ErrAuthRequired means no usable credential exists; the user must log in again.
var ErrAuthRequired = errors.New("authentication required")

// Credential is the access/refresh pair issued at login.
type Credential struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	RefreshToken(ctx context.Context, refresh string) (string, error)
}

// RefreshObserver is told about every refresh attempt.
type RefreshObserver interface {
	ObserveRefresh(ok bool)
}

// Guard is the only component that reads or writes the stored credential pair.
type Guard struct {
	store     Store
	refresher Refresher
	observer  RefreshObserver
	now       func() time.Time
	log       zerolog.Logger
}

// NewGuard creates a guard over store using refresher for token exchange.
func NewGuard(store Store, refresher Refresher) *Guard {
	return &Guard{
		store:     store,
		refresher: refresher,
		now:       time.Now,
		log:       logger.Component("auth"),
	}
}

// WithObserver attaches a refresh observer (metrics).
func (g *Guard) WithObserver(o RefreshObserver) *Guard {
	g.observer = o
	return g
}

// WithClock overrides the clock used for expiry checks.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Save stores a freshly issued credential pair.
func (g *Guard) Save(ctx context.Context, c Credential) error {
	if c.Access == "" || c.Refresh == "" {
		return errors.New("access and refresh tokens are required")
	}
	if err := g.store.Set(ctx, AccessTokenKey, c.Access); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if err := g.store.Set(ctx, RefreshTokenKey, c.Refresh); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// Clear removes both stored tokens.
func (g *Guard) Clear(ctx context.Context) error {
	return g.store.Delete(ctx, AccessTokenKey, RefreshTokenKey)
}

// Status reports whether a credential is stored and whether its access token is still valid.
func (g *Guard) Status(ctx context.Context) (stored bool, valid bool, err error) {
	access, ok, err := g.store.Get(ctx, AccessTokenKey)
	if err != nil {
		return false, false, err
	}
	_, hasRefresh, err := g.store.Get(ctx, RefreshTokenKey)
	if err != nil {
		return false, false, err
	}
	return ok || hasRefresh, ok && IsValid(access, g.now()), nil
}

// GetValid returns a credential whose access token is not expired, refreshing at most once.
func (g *Guard) GetValid(ctx context.Context) (Credential, error) {
	access, ok, err := g.store.Get(ctx, AccessTokenKey)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: read access token: %v", ErrAuthRequired, err)
	}
	if ok && IsValid(access, g.now()) {
		refresh, _, err := g.store.Get(ctx, RefreshTokenKey)
		if err != nil {
			return Credential{}, fmt.Errorf("%w: read refresh token: %v", ErrAuthRequired, err)
		}
		return Credential{Access: access, Refresh: refresh}, nil
	}

	newAccess, err := g.Refresh(ctx)
	if err != nil {
		return Credential{}, err
	}
	refresh, _, _ := g.store.Get(ctx, RefreshTokenKey)
	return Credential{Access: newAccess, Refresh: refresh}, nil
}

// Refresh exchanges the stored refresh token for a new access token. Any failure clears
// both stored tokens and returns an error wrapping ErrAuthRequired.
func (g *Guard) Refresh(ctx context.Context) (string, error) {
	refresh, ok, err := g.store.Get(ctx, RefreshTokenKey)
	if err != nil {
		return "", g.fail(ctx, fmt.Errorf("read refresh token: %w", err))
	}
	if !ok || refresh == "" {
		return "", g.fail(ctx, errors.New("no refresh token stored"))
	}

	access, err := g.refresher.RefreshToken(ctx, refresh)
	if err != nil {
		return "", g.fail(ctx, err)
	}
	if access == "" {
		return "", g.fail(ctx, errors.New("refresh response carried no access token"))
	}
	if err := g.store.Set(ctx, AccessTokenKey, access); err != nil {
		return "", g.fail(ctx, fmt.Errorf("store access token: %w", err))
	}

	g.observe(true)
	g.log.Debug().Msg("access token refreshed")
	return access, nil
}

func (g *Guard) fail(ctx context.Context, cause error) error {
	g.observe(false)
	if err := g.Clear(ctx); err != nil {
		g.log.Error().Err(err).Msg("failed to clear credentials")
	}
	g.log.Warn().Err(cause).Msg("token refresh failed, credentials cleared")
	return fmt.Errorf("%w: %v", ErrAuthRequired, cause)
}

func (g *Guard) observe(ok bool) {
	if g.observer != nil {
		g.observer.ObserveRefresh(ok)
	}
}
