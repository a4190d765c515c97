package mailbox

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// Credentials is the stored OAuth client plus the long-lived refresh token
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	RefreshToken string
	// TokenURL overrides Google's token endpoint when set
	TokenURL string
}

// TokenProvider exchanges the stored refresh credential for short-lived access tokens.
// A provider is a plain value; every call performs its own exchange.
type TokenProvider struct {
	config       *oauth2.Config
	refreshToken string
}

// NewTokenProvider creates a TokenProvider for the given credentials
func NewTokenProvider(creds Credentials) *TokenProvider {
	endpoint := google.Endpoint
	if creds.TokenURL != "" {
		endpoint = oauth2.Endpoint{
			TokenURL:  creds.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}

	return &TokenProvider{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       []string{gmail.GmailReadonlyScope},
			Endpoint:     endpoint,
		},
		refreshToken: creds.RefreshToken,
	}
}

// AccessToken returns a fresh bearer token or an *AuthError
func (p *TokenProvider) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	if p.refreshToken == "" {
		return nil, &AuthError{Err: ErrNoRefreshToken}
	}

	src := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: p.refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	if token.AccessToken == "" {
		return nil, &AuthError{Err: ErrEmptyAccessToken}
	}

	return token, nil
}
