package external_account

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

type oauthState struct {
	userId    int
	createdAt time.Time
}

type RepositoryStub struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	accounts map[int]Account
	states   map[string]oauthState
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		accounts: make(map[int]Account),
		states:   make(map[string]oauthState),
	}
}

func (r *RepositoryStub) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = make(map[int]Account)
	r.states = make(map[string]oauthState)
}

func (r *RepositoryStub) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	accounts := maps.Clone(r.accounts)
	states := maps.Clone(r.states)
	r.mu.RUnlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.accounts = accounts
		r.states = states
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *RepositoryStub) GetAccount(ctx context.Context, userId int) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[userId]
	if !ok {
		return Account{}, ErrNotConnected
	}
	return account, nil
}

func (r *RepositoryStub) GetAccountForUpdate(ctx context.Context, userId int) (Account, error) {
	return r.GetAccount(ctx, userId)
}

func (r *RepositoryStub) ReplaceAccount(ctx context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.UserId] = account
	return nil
}

func (r *RepositoryStub) DeleteAccount(ctx context.Context, userId int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[userId]
	delete(r.accounts, userId)
	return ok, nil
}

func (r *RepositoryStub) update(userId int, fn func(a *Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[userId]
	if !ok {
		return ErrNotConnected
	}
	fn(&account)
	r.accounts[userId] = account
	return nil
}

func (r *RepositoryStub) UpdateToken(ctx context.Context, userId int, accessToken, refreshToken, tokenType string, expiry time.Time) error {
	return r.update(userId, func(a *Account) {
		a.AccessToken = accessToken
		a.RefreshToken = refreshToken
		a.TokenType = tokenType
		a.Expiry = expiry
	})
}

func (r *RepositoryStub) UpdateSettings(ctx context.Context, userId int, calendarId string, syncEnabled bool) error {
	return r.update(userId, func(a *Account) {
		if a.CalendarId != calendarId {
			a.SyncToken = ""
		}
		a.CalendarId = calendarId
		a.SyncEnabled = syncEnabled
	})
}

func (r *RepositoryStub) MarkReauthRequired(ctx context.Context, userId int) error {
	return r.update(userId, func(a *Account) {
		a.ReauthRequired = true
		a.AccessToken = ""
	})
}

func (r *RepositoryStub) UpdateSyncState(ctx context.Context, userId int, syncToken string, lastSyncedAt time.Time) error {
	return r.update(userId, func(a *Account) {
		a.SyncToken = syncToken
		a.LastSyncedAt = &lastSyncedAt
	})
}

func (r *RepositoryStub) ListSyncEnabledUserIds(ctx context.Context) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userIds := make([]int, 0, len(r.accounts))
	for _, a := range r.accounts {
		if a.SyncEnabled && !a.ReauthRequired {
			userIds = append(userIds, a.UserId)
		}
	}
	slices.Sort(userIds)
	return userIds, nil
}

func (r *RepositoryStub) StoreState(ctx context.Context, nonce string, userId int, createdAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[nonce] = oauthState{userId: userId, createdAt: createdAt}
	return nil
}

func (r *RepositoryStub) ConsumeState(ctx context.Context, nonce string, notBefore time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[nonce]
	delete(r.states, nonce)
	if !ok || state.createdAt.Before(notBefore) {
		return 0, ErrInvalidState
	}
	return state.userId, nil
}
