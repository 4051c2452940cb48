package domain

import "time"

// Credentials are the secrets for one remote destination, stored in the
// engine's state database and never inside the synced file. Exactly one
// variant is set, matching Provider.
type Credentials struct {
	Ref               string       `json:"ref"`
	Provider          ProviderKind `json:"provider"`
	AccountIdentifier string       `json:"account_identifier,omitempty"`

	OAuth     *OAuthCredentials     `json:"oauth,omitempty"`      // drive_oauth
	Token     *TokenCredentials     `json:"token,omitempty"`      // token_cloud
	AccessKey *AccessKeyCredentials `json:"access_key,omitempty"` // object_store
	SSH       *SSHCredentials       `json:"ssh,omitempty"`        // sftp

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OAuthCredentials is a stored token set for one account.
type OAuthCredentials OAuthToken

// TokenCredentials stores a long-lived access token.
type TokenCredentials struct {
	Token string `json:"token"`
}

// AccessKeyCredentials stores an access key pair.
type AccessKeyCredentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
}

// SSHCredentials stores password or private key authentication material.
type SSHCredentials struct {
	Password       string `json:"password,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`
}

func (c *OAuthCredentials) IsExpired() bool {
	return (*OAuthToken)(c).IsExpired()
}

// ExpiresWithin is false for tokens without an expiry.
func (c *OAuthCredentials) ExpiresWithin(d time.Duration) bool {
	return !c.Expiry.IsZero() && time.Now().Add(d).After(c.Expiry)
}

// IsAuthenticated reports whether the set variant carries usable secrets.
func (c *Credentials) IsAuthenticated() bool {
	switch {
	case c.OAuth != nil:
		return c.OAuth.AccessToken != "" || c.OAuth.RefreshToken != ""
	case c.Token != nil:
		return c.Token.Token != ""
	case c.AccessKey != nil:
		return c.AccessKey.AccessKeyID != "" && c.AccessKey.SecretAccessKey != ""
	case c.SSH != nil:
		return c.SSH.Password != "" || c.SSH.PrivateKeyPath != ""
	default:
		return false
	}
}

// NeedsRefresh is true for an expired OAuth token that can be renewed.
func (c *Credentials) NeedsRefresh() bool {
	return c.HasRefreshToken() && c.OAuth.IsExpired()
}

func (c *Credentials) HasRefreshToken() bool {
	return c.OAuth != nil && c.OAuth.RefreshToken != ""
}
