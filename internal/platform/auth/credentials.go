package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials is the single admin account.
type Credentials struct {
	email string
	hash  []byte
}

// NewCredentials builds the admin account from a bcrypt hash, or, when hash is
// empty, from a plain password that is hashed once at startup.
func NewCredentials(email, hash, plain string) (*Credentials, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("admin email is required")
	}
	switch {
	case hash != "":
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("admin password hash: %w", err)
		}
		return &Credentials{email: email, hash: []byte(hash)}, nil
	case plain != "":
		h, err := HashPassword(plain)
		if err != nil {
			return nil, err
		}
		return &Credentials{email: email, hash: []byte(h)}, nil
	default:
		return nil, errors.New("admin password hash is required")
	}
}

// Email returns the configured admin email.
func (c *Credentials) Email() string {
	return c.email
}

// Verify checks an email/password pair. Emails compare case-insensitively.
func (c *Credentials) Verify(email, password string) error {
	given := strings.ToLower(strings.TrimSpace(email))
	emailOK := subtle.ConstantTimeCompare([]byte(given), []byte(strings.ToLower(c.email))) == 1
	pwErr := bcrypt.CompareHashAndPassword(c.hash, []byte(password))
	if !emailOK || pwErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword returns the bcrypt hash of password at the default cost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}
