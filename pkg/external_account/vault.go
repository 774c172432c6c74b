package external_account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kinsync/kinsync/internal/config"
	"github.com/kinsync/kinsync/internal/event_bus"
	"github.com/kinsync/kinsync/internal/utils"
	"github.com/kinsync/kinsync/pkg/google"
	"github.com/kinsync/kinsync/pkg/user"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const stateTTL = 10 * time.Minute

// Vault owns the external calendar credentials of every user and hands out valid access tokens.
type Vault struct {
	repo   Repository
	oauth  google.TokenExchanger
	bus    *event_bus.EventBus
	clock  utils.Clock
	margin time.Duration
	locks  *utils.KeyedMutex[int]
}

func NewVault(repo Repository, oauth google.TokenExchanger, bus *event_bus.EventBus, clock utils.Clock, cfg config.Sync) *Vault {
	return &Vault{
		repo:   repo,
		oauth:  oauth,
		bus:    bus,
		clock:  clock,
		margin: cfg.TokenRefreshMargin,
		locks:  utils.NewKeyedMutex[int](),
	}
}

func (v *Vault) now() time.Time {
	return v.clock.Now().UTC().Truncate(time.Microsecond)
}

func (v *Vault) fresh(account Account) bool {
	return account.AccessToken != "" && account.Expiry.After(v.clock.Now().Add(v.margin))
}

// GetValidToken returns a token valid for at least the refresh margin, refreshing it when needed.
// Concurrent callers for the same user share one refresh.
func (v *Vault) GetValidToken(ctx context.Context, userId int) (*oauth2.Token, error) {
	account, err := v.repo.GetAccount(ctx, userId)
	if err != nil {
		return nil, err
	}
	if account.ReauthRequired {
		return nil, ErrReauthRequired
	}
	if v.fresh(account) {
		return account.token(), nil
	}

	unlock := v.locks.Lock(userId)
	defer unlock()

	var token *oauth2.Token
	reauth := false
	err = v.repo.WithTransaction(ctx, func(repo Repository) error {
		account, err := repo.GetAccountForUpdate(ctx, userId)
		if err != nil {
			return err
		}
		if account.ReauthRequired {
			return ErrReauthRequired
		}
		// another caller may have refreshed while we waited
		if v.fresh(account) {
			token = account.token()
			return nil
		}
		if account.RefreshToken == "" {
			log.Warnf("external calendar account of user %d has no refresh token", userId)
			reauth = true
			return repo.MarkReauthRequired(ctx, userId)
		}

		refreshed, err := v.oauth.Refresh(ctx, account.RefreshToken)
		if errors.Is(err, google.ErrInvalidGrant) {
			log.Warnf("refresh token of user %d was revoked: %v", userId, err)
			reauth = true
			return repo.MarkReauthRequired(ctx, userId)
		}
		if err != nil {
			return fmt.Errorf("failed to refresh token of user %d: %w", userId, err)
		}

		account.AccessToken = refreshed.AccessToken
		if refreshed.RefreshToken != "" {
			account.RefreshToken = refreshed.RefreshToken
		}
		if refreshed.TokenType != "" {
			account.TokenType = refreshed.TokenType
		}
		account.Expiry = refreshed.Expiry.UTC()
		if err := repo.UpdateToken(ctx, userId, account.AccessToken, account.RefreshToken, account.TokenType, account.Expiry); err != nil {
			return err
		}
		log.Debugf("refreshed access token of user %d, valid until %s", userId, account.Expiry)
		token = account.token()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reauth {
		v.publishChanged(ctx, userId, false)
		return nil, ErrReauthRequired
	}
	return token, nil
}

// AuthURL starts the browser authorization flow of the current user.
// finalUrl travels in the state and is handed back by CompleteAuth.
func (v *Vault) AuthURL(ctx context.Context, finalUrl string) (string, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %w", err)
	}
	nonce := uuid.NewString()
	if err := v.repo.StoreState(ctx, nonce, userId, v.now()); err != nil {
		return "", err
	}
	return v.oauth.AuthCodeURL(finalUrl + "|" + nonce), nil
}

// CompleteAuth finishes the browser flow. The user is resolved from the state nonce.
func (v *Vault) CompleteAuth(ctx context.Context, state, code string) (finalUrl string, err error) {
	finalUrl, nonce, ok := strings.Cut(state, "|")
	if !ok {
		return "", ErrInvalidState
	}
	userId, err := v.repo.ConsumeState(ctx, nonce, v.now().Add(-stateTTL))
	if err != nil {
		return finalUrl, err
	}
	if _, err := v.Connect(ctx, userId, code, ""); err != nil {
		return finalUrl, err
	}
	return finalUrl, nil
}

// Connect exchanges an authorization code and replaces the user's account record.
func (v *Vault) Connect(ctx context.Context, userId int, code, calendarId string) (Status, error) {
	token, err := v.oauth.Exchange(ctx, code)
	if err != nil {
		return Status{}, err
	}
	if calendarId == "" {
		calendarId = DefaultCalendarId
	}
	account := Account{
		UserId:       userId,
		Provider:     ProviderGoogle,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry.UTC(),
		CalendarId:   calendarId,
		SyncEnabled:  true,
		ConnectedAt:  v.now(),
	}
	if err := v.repo.ReplaceAccount(ctx, account); err != nil {
		return Status{}, err
	}
	log.Infof("user %d connected external calendar %q", userId, calendarId)
	v.publishChanged(ctx, userId, true)
	return account.status(), nil
}

// Disconnect removes the account. Sync mappings go with it, events in both calendars stay.
func (v *Vault) Disconnect(ctx context.Context, userId int) error {
	deleted, err := v.repo.DeleteAccount(ctx, userId)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotConnected
	}
	log.Infof("user %d disconnected external calendar", userId)
	v.publishChanged(ctx, userId, false)
	return nil
}

func (v *Vault) UpdateSettings(ctx context.Context, userId int, calendarId string, syncEnabled bool) (Status, error) {
	if calendarId == "" {
		calendarId = DefaultCalendarId
	}
	if err := v.repo.UpdateSettings(ctx, userId, calendarId, syncEnabled); err != nil {
		return Status{}, err
	}
	account, err := v.repo.GetAccount(ctx, userId)
	if err != nil {
		return Status{}, err
	}
	v.publishChanged(ctx, userId, account.SyncEnabled && !account.ReauthRequired)
	return account.status(), nil
}

// Status reports a disconnected user as a zero Status.
func (v *Vault) Status(ctx context.Context, userId int) (Status, error) {
	account, err := v.repo.GetAccount(ctx, userId)
	if errors.Is(err, ErrNotConnected) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return account.status(), nil
}

func (v *Vault) Account(ctx context.Context, userId int) (Account, error) {
	return v.repo.GetAccount(ctx, userId)
}

func (v *Vault) SaveSyncState(ctx context.Context, userId int, syncToken string) error {
	return v.repo.UpdateSyncState(ctx, userId, syncToken, v.now())
}

// MarkReauthRequired is used when the provider rejects a token the vault considered valid.
func (v *Vault) MarkReauthRequired(ctx context.Context, userId int) error {
	if err := v.repo.MarkReauthRequired(ctx, userId); err != nil {
		return err
	}
	v.publishChanged(ctx, userId, false)
	return nil
}

func (v *Vault) ListSyncEnabledUserIds(ctx context.Context) ([]int, error) {
	return v.repo.ListSyncEnabledUserIds(ctx)
}

func (v *Vault) publishChanged(ctx context.Context, userId int, syncEnabled bool) {
	if v.bus == nil {
		return
	}
	err := v.bus.Publish(event_bus.NewEvent(ctx, event_bus.ExternalAccountChangedType, event_bus.ExternalAccountChanged{
		UserId:      userId,
		SyncEnabled: syncEnabled,
	}))
	if err != nil {
		log.Warnf("external account subscribers failed: %v", err)
	}
}
