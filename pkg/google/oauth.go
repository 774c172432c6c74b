package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kinsync/kinsync/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
)

const CallbackPath = "/api/external-calendar/auth/callback"

// TokenExchanger covers the OAuth2 authorization code flow and token refresh.
type TokenExchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

type OAuth struct {
	config *oauth2.Config
}

func NewOAuth(cfg config.Application) *OAuth {
	return &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.Google.ClientId,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Host + CallbackPath,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				gcal.CalendarEventsScope,
				gcal.CalendarReadonlyScope,
			},
		},
	}
}

// AuthCodeURL asks for offline access and forces consent so a refresh token is always issued.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := o.config.Exchange(ctx, code)
	if err != nil {
		return nil, mapTokenError("unable to exchange authorization code", err)
	}
	return token, nil
}

func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	// a token without access token is always refreshed by the token source
	token, err := o.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, mapTokenError("unable to refresh token", err)
	}
	return token, nil
}

func mapTokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" || strings.Contains(string(retrieveErr.Body), "invalid_grant") {
			return fmt.Errorf("%s: %w: %w", op, ErrInvalidGrant, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
