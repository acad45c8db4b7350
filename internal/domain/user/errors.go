package user

import "errors"

var (
	ErrNotFound           = errors.New("user not found")
	ErrDuplicateMail     = errors.New("mail already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)
