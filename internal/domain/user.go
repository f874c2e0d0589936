// Package domain contains entities without logic, just meta-data
package domain

import "errors"

const (
	MaxUsernameLen = 20
	MinUsernameLen = 2
)

var (
	ErrUsernameTooLong  = errors.New("username too long")
	ErrUsernameTooShort = errors.New("username too short")
	ErrUsernameEmpty    = errors.New("username empty")
)

type UserID int64

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, username string) (*User, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) < MinUsernameLen {
		return nil, ErrUsernameTooShort
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &User{ID: id, Username: username}, nil
}
