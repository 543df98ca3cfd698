package telegram

import (
	"context"
	"time"
)

// inputTimeout bounds how long a login flow waits for the user to type a
// code or password before the flow is abandoned.
const inputTimeout = 5 * time.Minute

// SubmitCode hands the SMS/app code to the waiting login flow.
func (c *Client) SubmitCode(code string) error {
	c.mu.Lock()
	ch := c.codeCh
	c.mu.Unlock()
	if ch == nil {
		return ErrNoChallenge
	}
	select {
	case ch <- code:
		return nil
	default:
		return ErrNoChallenge
	}
}

// SubmitPassword hands the 2FA password to the waiting login flow.
func (c *Client) SubmitPassword(password string) error {
	c.mu.Lock()
	ch := c.passCh
	c.mu.Unlock()
	if ch == nil {
		return ErrNoChallenge
	}
	select {
	case ch <- password:
		return nil
	default:
		return ErrNoChallenge
	}
}

// waitInput blocks until the user submits a value, the input window closes,
// or the login context is cancelled.
func waitInput(ctx context.Context, ch <-chan string) (string, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-time.After(inputTimeout):
		return "", ErrLoginTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
