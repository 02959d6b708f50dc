// Package smtp implements the SMTP listener that hands received mail to the
// mail dispatcher.
package smtp

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

// Authentication errors.
var (
	ErrAuthFailed    = errors.New("authentication failed")
	ErrAuthMalformed = errors.New("malformed authentication response")
)

// Authenticator checks SMTP AUTH credentials against a single configured
// account. An Authenticator without credentials accepts unauthenticated
// clients.
type Authenticator struct {
	username []byte
	password []byte
}

// NewAuthenticator creates an Authenticator for the given account.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{username: []byte(username), password: []byte(password)}
}

// Enabled reports whether clients must authenticate.
func (a *Authenticator) Enabled() bool {
	return len(a.username) > 0 && len(a.password) > 0
}

// VerifyPlain checks a base64 AUTH PLAIN response of the form
// authzid NUL authcid NUL password. The authzid is ignored.
func (a *Authenticator) VerifyPlain(encoded string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ErrAuthMalformed
	}
	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return ErrAuthMalformed
	}
	return a.verify([]byte(parts[1]), []byte(parts[2]))
}

// VerifyLogin checks the two base64 answers of an AUTH LOGIN exchange.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return ErrAuthMalformed
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return ErrAuthMalformed
	}
	return a.verify(user, pass)
}

func (a *Authenticator) verify(user, pass []byte) error {
	userOK := subtle.ConstantTimeCompare(user, a.username)
	passOK := subtle.ConstantTimeCompare(pass, a.password)
	if userOK&passOK != 1 {
		return ErrAuthFailed
	}
	return nil
}
