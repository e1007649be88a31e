package auth

import "errors"

var (
	MissingCredentialsErr = errors.New("email or identifier and password are required")
	MissingEmailErr       = errors.New("email is required")
	MissingTokenErr       = errors.New("reset token is required")
	MissingPasswordErr    = errors.New("password is required")
)
