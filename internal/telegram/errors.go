package telegram

import "errors"

var (
	// ErrNotConnected is returned by operations that need a running MTProto
	// session.
	ErrNotConnected = errors.New("telegram: not connected")

	// ErrLoginTimeout is returned when the user never supplies a requested
	// code or password.
	ErrLoginTimeout = errors.New("telegram: login timed out waiting for input")

	// ErrNoChallenge is returned when a code/password is submitted but no
	// login flow is waiting for one.
	ErrNoChallenge = errors.New("telegram: no pending login challenge")

	// ErrCodeInvalid reports a rejected login code. The flow stays open for
	// a retry.
	ErrCodeInvalid = errors.New("telegram: login code invalid")

	// ErrCodeExpired reports an expired login code. The flow is aborted and
	// must be restarted.
	ErrCodeExpired = errors.New("telegram: login code expired")

	// ErrPasswordInvalid reports a rejected 2FA password. The flow stays
	// open for a retry.
	ErrPasswordInvalid = errors.New("telegram: 2FA password invalid")
)
