package google

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

type OAuthStub struct {
	mu        sync.Mutex
	refreshes int
	// RefreshErr is returned by Refresh when set.
	RefreshErr error
	// RefreshDelay widens the window for concurrent refresh tests.
	RefreshDelay time.Duration
	// RotateRefreshToken makes Refresh issue a new refresh token.
	RotateRefreshToken bool
	Lifetime           time.Duration
}

func NewOAuthStub() *OAuthStub {
	return &OAuthStub{Lifetime: time.Hour}
}

func (o *OAuthStub) AuthCodeURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?access_type=offline&state=" + state
}

func (o *OAuthStub) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("unable to exchange authorization code: %w", ErrInvalidGrant)
	}
	return &oauth2.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(o.Lifetime),
	}, nil
}

func (o *OAuthStub) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if o.RefreshDelay > 0 {
		select {
		case <-time.After(o.RefreshDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.RefreshErr != nil {
		return nil, o.RefreshErr
	}
	o.refreshes++
	token := &oauth2.Token{
		AccessToken: fmt.Sprintf("refreshed-%d", o.refreshes),
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(o.Lifetime),
	}
	if o.RotateRefreshToken {
		token.RefreshToken = fmt.Sprintf("%s-rotated-%d", refreshToken, o.refreshes)
	}
	return token, nil
}

func (o *OAuthStub) Refreshes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refreshes
}
