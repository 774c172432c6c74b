package google

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"google.golang.org/api/googleapi"
)

var (
	ErrRateLimited      = errors.New("google calendar rate limit exceeded")
	ErrUnauthorized     = errors.New("google calendar rejected the access token")
	ErrNotFound         = errors.New("google calendar resource not found")
	ErrSyncTokenExpired = errors.New("google calendar sync token expired")
	ErrInvalidGrant     = errors.New("google refresh token is invalid or revoked")
)

var rateLimitReasons = []string{"rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded"}

// mapError translates Google API errors to package errors. The original error stays in the chain.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
	case apiErr.Code == http.StatusForbidden && hasReason(apiErr, rateLimitReasons...):
		return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
	case apiErr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w: %w", op, ErrUnauthorized, err)
	case apiErr.Code == http.StatusNotFound, apiErr.Code == http.StatusGone:
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// mapListError is mapError for incremental listing, where 410 Gone means the sync token must be dropped.
func mapListError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusGone {
		return fmt.Errorf("%s: %w: %w", op, ErrSyncTokenExpired, err)
	}
	return mapError(op, err)
}

func hasReason(apiErr *googleapi.Error, reasons ...string) bool {
	for _, item := range apiErr.Errors {
		if slices.Contains(reasons, item.Reason) {
			return true
		}
	}
	return false
}
