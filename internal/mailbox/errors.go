package mailbox

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRefreshToken indicates no refresh credential is configured
	ErrNoRefreshToken = errors.New("no refresh token configured")
	// ErrEmptyAccessToken indicates the provider answered without an access token
	ErrEmptyAccessToken = errors.New("failed to obtain access token")
)

// AuthError reports a rejected or unusable refresh credential
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// FetchError reports a failed read against the mail provider
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err carries an AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsFetchError reports whether err carries a FetchError
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}
