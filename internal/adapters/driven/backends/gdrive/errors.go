package gdrive

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/custodia-labs/nestsync/internal/adapters/driven/backends/neterr"
	"github.com/custodia-labs/nestsync/internal/core/domain"
)

// Drive error reasons that change how a 403 is classified.
const (
	reasonStorageQuota      = "storageQuotaExceeded"
	reasonQuotaExceeded     = "quotaExceeded"
	reasonRateLimit         = "rateLimitExceeded"
	reasonUserRateLimit     = "userRateLimitExceeded"
	reasonDailyLimit        = "dailyLimitExceeded"
	reasonInsufficientScope = "insufficientPermissions"
)

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusTooManyRequests {
		return true
	}
	return gerr.Code == http.StatusForbidden && (hasReason(gerr, reasonRateLimit) || hasReason(gerr, reasonUserRateLimit))
}

// WrapError converts a Drive API error to a domain error.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return neterr.Classify(err)
	}

	switch {
	case gerr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", domain.ErrAuthExpired, err)
	case gerr.Code == http.StatusForbidden && (hasReason(gerr, reasonStorageQuota) || hasReason(gerr, reasonQuotaExceeded)):
		return fmt.Errorf("%w: %w", domain.ErrQuotaExceeded, err)
	case IsRateLimited(err), gerr.Code == http.StatusForbidden && hasReason(gerr, reasonDailyLimit):
		return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
	case gerr.Code == http.StatusForbidden && hasReason(gerr, reasonInsufficientScope):
		return fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
	case gerr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", domain.ErrAuthExpired, err)
	case gerr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case gerr.Code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
	default:
		return err
	}
}

func hasReason(gerr *googleapi.Error, reason string) bool {
	for _, item := range gerr.Errors {
		if item.Reason == reason {
			return true
		}
	}
	return false
}
