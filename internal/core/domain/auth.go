package domain

import "time"

// OAuthToken is what the token endpoint returns for a code exchange or
// a refresh. A refresh response may omit RefreshToken.
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// IsExpired is false for tokens without an expiry.
func (t *OAuthToken) IsExpired() bool {
	return !t.Expiry.IsZero() && time.Now().After(t.Expiry)
}

// ToCredentials copies the token into the stored credential shape.
func (t *OAuthToken) ToCredentials() *OAuthCredentials {
	c := OAuthCredentials(*t)
	return &c
}

// OAuthAppConfig is the Google OAuth client nestsync signs in with.
// Empty AuthURL and TokenURL select Google's endpoints.
type OAuthAppConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}
