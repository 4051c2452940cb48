package auth

import (
	"context"

	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

var _ driven.TokenProvider = NullTokenProvider{}

// NullTokenProvider stands in for backends that never send a bearer
// token: the local folder, and SFTP or object stores that sign requests
// with the stored secret directly.
type NullTokenProvider struct {
	ref string
}

// NewNullTokenProvider reports ref as its credentials; ref may be empty.
func NewNullTokenProvider(ref string) NullTokenProvider {
	return NullTokenProvider{ref: ref}
}

func (p NullTokenProvider) GetToken(context.Context) (string, error) { return "", nil }

func (p NullTokenProvider) Refresh(context.Context) (string, error) { return "", nil }

func (p NullTokenProvider) CredentialsRef() string { return p.ref }

// IsAuthenticated is always true; missing secrets surface in the backend.
func (p NullTokenProvider) IsAuthenticated() bool { return true }
