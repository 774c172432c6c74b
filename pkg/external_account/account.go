package external_account

import (
	"errors"
	"time"

	"golang.org/x/oauth2"
)

var (
	ErrNotConnected   = errors.New("external calendar is not connected")
	ErrReauthRequired = errors.New("external calendar needs to be connected again")
	ErrInvalidState   = errors.New("invalid or expired authorization state")
)

const (
	ProviderGoogle    = "google"
	DefaultCalendarId = "primary"
)

// Account is the credential record of a user's external calendar connection.
type Account struct {
	UserId         int
	Provider       string
	AccessToken    string
	RefreshToken   string
	TokenType      string
	Expiry         time.Time
	CalendarId     string
	SyncEnabled    bool
	ReauthRequired bool
	// SyncToken is the provider's incremental listing cursor for CalendarId.
	SyncToken    string
	LastSyncedAt *time.Time
	ConnectedAt  time.Time
}

func (a Account) token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		TokenType:    a.TokenType,
		Expiry:       a.Expiry,
	}
}

type Status struct {
	Connected      bool
	SyncEnabled    bool
	ReauthRequired bool
	CalendarId     string
	LastSyncedAt   *time.Time
}

func (a Account) status() Status {
	return Status{
		Connected:      true,
		SyncEnabled:    a.SyncEnabled,
		ReauthRequired: a.ReauthRequired,
		CalendarId:     a.CalendarId,
		LastSyncedAt:   a.LastSyncedAt,
	}
}
