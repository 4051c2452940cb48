// Package neterr maps transport failures shared by all remote backends to
// domain errors.
package neterr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

// Classify wraps err with ErrTimeout or ErrUnreachable when it is a
// network failure. Errors that already carry a domain error, cancellation,
// and unrelated errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.ErrorKindUnknown {
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
	}
	return err
}

// IsCanceled reports whether err came from the caller abandoning the call.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
