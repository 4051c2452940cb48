package dropbox

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"

	"github.com/custodia-labs/nestsync/internal/adapters/driven/backends/neterr"
	"github.com/custodia-labs/nestsync/internal/core/domain"
)

// WrapError converts a Dropbox API error to a domain error. Endpoint errors
// format as their error summary, e.g. "path/not_found/..", which is matched
// tag by tag.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return neterr.Classify(err)
	}
	var internal dropbox.SDKInternalError
	if errors.As(err, &internal) {
		if internal.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
		}
		return err
	}

	summary := err.Error()
	switch {
	case hasTag(summary, "not_found"):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case hasTag(summary, "expired_access_token"), hasTag(summary, "invalid_access_token"):
		return fmt.Errorf("%w: %w", domain.ErrAuthExpired, err)
	case hasTag(summary, "missing_scope"), hasTag(summary, "user_suspended"), hasTag(summary, "invalid_account_type"):
		return fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
	case hasTag(summary, "insufficient_space"), hasTag(summary, "insufficient_quota"):
		return fmt.Errorf("%w: %w", domain.ErrQuotaExceeded, err)
	case hasTag(summary, "too_many_requests"), hasTag(summary, "too_many_write_operations"):
		return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
	case hasTag(summary, "internal_error"):
		return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
	default:
		return neterr.Classify(err)
	}
}

// hasTag reports whether tag is one of the slash-separated parts of summary.
func hasTag(summary, tag string) bool {
	for _, part := range strings.Split(summary, "/") {
		if strings.TrimRight(part, ".") == tag {
			return true
		}
	}
	return false
}
