package external_account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinsync/kinsync/internal/database"
	log "github.com/sirupsen/logrus"
)

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error
	GetAccount(ctx context.Context, userId int) (Account, error)
	GetAccountForUpdate(ctx context.Context, userId int) (Account, error)
	// ReplaceAccount removes the existing record with its sync mappings and stores the new one.
	ReplaceAccount(ctx context.Context, account Account) error
	DeleteAccount(ctx context.Context, userId int) (bool, error)
	UpdateToken(ctx context.Context, userId int, accessToken, refreshToken, tokenType string, expiry time.Time) error
	// UpdateSettings resets the provider sync token when the calendar changes.
	UpdateSettings(ctx context.Context, userId int, calendarId string, syncEnabled bool) error
	MarkReauthRequired(ctx context.Context, userId int) error
	UpdateSyncState(ctx context.Context, userId int, syncToken string, lastSyncedAt time.Time) error
	ListSyncEnabledUserIds(ctx context.Context) ([]int, error)
	StoreState(ctx context.Context, nonce string, userId int, createdAt time.Time) error
	// ConsumeState deletes the nonce and returns its user unless it was created before notBefore.
	ConsumeState(ctx context.Context, nonce string, notBefore time.Time) (int, error)
}

type RepositoryImpl struct {
	db *pgxpool.Pool
	tx pgx.Tx
}

func NewRepository(db *pgxpool.Pool) *RepositoryImpl {
	return &RepositoryImpl{db: db, tx: nil}
}

func (r *RepositoryImpl) getQueryer() database.Queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *RepositoryImpl) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	return database.InTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&RepositoryImpl{db: r.db, tx: tx})
	})
}

const accountColumns = `user_id, provider, access_token, refresh_token, token_type, expiry, calendar_id,
       sync_enabled, reauth_required, sync_token, last_synced_at, connected_at`

func (r *RepositoryImpl) GetAccount(ctx context.Context, userId int) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM external_calendar_account WHERE user_id = $1`
	return scanAccount(r.getQueryer().QueryRow(ctx, query, userId))
}

func (r *RepositoryImpl) GetAccountForUpdate(ctx context.Context, userId int) (Account, error) {
	if r.tx == nil {
		return Account{}, errors.New("GetAccountForUpdate requires a transaction")
	}
	query := `SELECT ` + accountColumns + ` FROM external_calendar_account WHERE user_id = $1 FOR UPDATE`
	return scanAccount(r.tx.QueryRow(ctx, query, userId))
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var expiry *time.Time
	err := row.Scan(&a.UserId, &a.Provider, &a.AccessToken, &a.RefreshToken, &a.TokenType, &expiry, &a.CalendarId,
		&a.SyncEnabled, &a.ReauthRequired, &a.SyncToken, &a.LastSyncedAt, &a.ConnectedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotConnected
		}
		return Account{}, fmt.Errorf("could not get external calendar account: %w", err)
	}
	if expiry != nil {
		a.Expiry = expiry.UTC()
	}
	if a.LastSyncedAt != nil {
		utc := a.LastSyncedAt.UTC()
		a.LastSyncedAt = &utc
	}
	a.ConnectedAt = a.ConnectedAt.UTC()
	return a, nil
}

func (r *RepositoryImpl) ReplaceAccount(ctx context.Context, account Account) error {
	return r.WithTransaction(ctx, func(repo Repository) error {
		q := repo.(*RepositoryImpl).getQueryer()
		if _, err := q.Exec(ctx, `DELETE FROM external_calendar_account WHERE user_id = $1`, account.UserId); err != nil {
			return fmt.Errorf("could not remove previous external calendar account: %w", err)
		}
		var expiry *time.Time
		if !account.Expiry.IsZero() {
			expiry = &account.Expiry
		}
		query := `INSERT INTO external_calendar_account (` + accountColumns + `)
				  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
		_, err := q.Exec(ctx, query, account.UserId, account.Provider, account.AccessToken, account.RefreshToken,
			account.TokenType, expiry, account.CalendarId, account.SyncEnabled, account.ReauthRequired,
			account.SyncToken, account.LastSyncedAt, account.ConnectedAt)
		if err != nil {
			err := fmt.Errorf("could not store external calendar account: %w", err)
			log.Error(err)
			return err
		}
		return nil
	})
}

func (r *RepositoryImpl) DeleteAccount(ctx context.Context, userId int) (bool, error) {
	tag, err := r.getQueryer().Exec(ctx, `DELETE FROM external_calendar_account WHERE user_id = $1`, userId)
	if err != nil {
		return false, fmt.Errorf("could not delete external calendar account: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RepositoryImpl) UpdateToken(ctx context.Context, userId int, accessToken, refreshToken, tokenType string, expiry time.Time) error {
	query := `UPDATE external_calendar_account
			  SET access_token = $2, refresh_token = $3, token_type = $4, expiry = $5
			  WHERE user_id = $1`
	return r.execOnAccount(ctx, "update token", query, userId, accessToken, refreshToken, tokenType, expiry)
}

func (r *RepositoryImpl) UpdateSettings(ctx context.Context, userId int, calendarId string, syncEnabled bool) error {
	query := `UPDATE external_calendar_account
			  SET sync_token = CASE WHEN calendar_id = $2 THEN sync_token ELSE '' END,
			      calendar_id = $2,
			      sync_enabled = $3
			  WHERE user_id = $1`
	return r.execOnAccount(ctx, "update settings", query, userId, calendarId, syncEnabled)
}

func (r *RepositoryImpl) MarkReauthRequired(ctx context.Context, userId int) error {
	query := `UPDATE external_calendar_account SET reauth_required = TRUE, access_token = '' WHERE user_id = $1`
	return r.execOnAccount(ctx, "mark reauth required", query, userId)
}

func (r *RepositoryImpl) UpdateSyncState(ctx context.Context, userId int, syncToken string, lastSyncedAt time.Time) error {
	query := `UPDATE external_calendar_account SET sync_token = $2, last_synced_at = $3 WHERE user_id = $1`
	return r.execOnAccount(ctx, "update sync state", query, userId, syncToken, lastSyncedAt)
}

func (r *RepositoryImpl) execOnAccount(ctx context.Context, op, query string, userId int, args ...any) error {
	tag, err := r.getQueryer().Exec(ctx, query, append([]any{userId}, args...)...)
	if err != nil {
		err := fmt.Errorf("could not %s of user %d: %w", op, userId, err)
		log.Error(err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotConnected
	}
	return nil
}

func (r *RepositoryImpl) ListSyncEnabledUserIds(ctx context.Context) ([]int, error) {
	query := `SELECT user_id FROM external_calendar_account
			  WHERE sync_enabled AND NOT reauth_required
			  ORDER BY user_id`
	rows, err := r.getQueryer().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not list sync enabled accounts: %w", err)
	}
	userIds, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("could not read sync enabled accounts: %w", err)
	}
	return userIds, nil
}

func (r *RepositoryImpl) StoreState(ctx context.Context, nonce string, userId int, createdAt time.Time) error {
	query := `INSERT INTO oauth_state (nonce, user_id, created_at) VALUES ($1, $2, $3)`
	if _, err := r.getQueryer().Exec(ctx, query, nonce, userId, createdAt); err != nil {
		return fmt.Errorf("could not store authorization state: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) ConsumeState(ctx context.Context, nonce string, notBefore time.Time) (int, error) {
	var userId int
	var createdAt time.Time
	err := r.getQueryer().QueryRow(ctx, `DELETE FROM oauth_state WHERE nonce = $1 RETURNING user_id, created_at`, nonce).
		Scan(&userId, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInvalidState
		}
		return 0, fmt.Errorf("could not consume authorization state: %w", err)
	}
	if _, err := r.getQueryer().Exec(ctx, `DELETE FROM oauth_state WHERE created_at < $1`, notBefore); err != nil {
		log.Warnf("could not purge expired authorization states: %v", err)
	}
	if createdAt.Before(notBefore) {
		return 0, ErrInvalidState
	}
	return userId, nil
}
