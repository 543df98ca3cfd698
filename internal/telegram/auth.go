package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/chatpilot/gateway/internal/event"
)

// loginWindow bounds a whole login flow, across code and password retries.
const loginWindow = 10 * time.Minute

// BeginPhoneLogin starts the phone-number login flow in the background.
// Progress is reported on the bus; the code and password are supplied later
// via SubmitCode/SubmitPassword.
func (c *Client) BeginPhoneLogin(phone string) error {
	c.mu.Lock()
	if c.client == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if err := c.flow.begin(phone); err != nil {
		c.mu.Unlock()
		return err
	}
	codeCh := make(chan string, 1)
	passCh := make(chan string, 1)
	c.codeCh = codeCh
	c.passCh = passCh
	ctx, cancel := context.WithTimeout(context.Background(), loginWindow)
	c.loginCancel = cancel
	client := c.client
	c.mu.Unlock()

	go c.runPhoneLogin(ctx, cancel, client, phone, codeCh, passCh)
	return nil
}

func (c *Client) runPhoneLogin(ctx context.Context, cancel context.CancelFunc, client *telegram.Client, phone string, codeCh, passCh chan string) {
	defer cancel()
	defer c.clearChallenges()

	sent, err := client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("[Telegram] Login abandoned")
			return
		}
		c.failLogin(fmt.Sprintf("send code: %v", err))
		return
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		c.failLogin(fmt.Sprintf("unexpected send code response %T", sent))
		return
	}

	c.mu.Lock()
	err = c.flow.codeSent(code.PhoneCodeHash)
	c.mu.Unlock()
	if err != nil {
		log.Printf("[Telegram] %v", err)
		return
	}

	log.Printf("[Telegram] Login code sent to %s", phone)
	c.publish(event.TypeCodeSent, nil)

	for {
		value, err := waitInput(ctx, codeCh)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Printf("[Telegram] Login abandoned")
				return
			}
			c.failLogin(fmt.Sprintf("waiting for code: %v", err))
			return
		}

		_, err = client.Auth().SignIn(ctx, phone, value, code.PhoneCodeHash)
		switch {
		case err == nil:
			c.finishLogin(ctx)
			return
		case errors.Is(err, auth.ErrPasswordAuthNeeded) || tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
			c.mu.Lock()
			ferr := c.flow.passwordNeeded()
			c.mu.Unlock()
			if ferr != nil {
				log.Printf("[Telegram] %v", ferr)
				return
			}
			c.publish(event.TypePasswordNeeded, nil)
			c.runPasswordStage(ctx, client, passCh)
			return
		case tgerr.Is(err, "PHONE_CODE_INVALID"):
			c.mu.Lock()
			_ = c.flow.codeRejected()
			c.mu.Unlock()
			log.Printf("[Telegram] Login code rejected, waiting for retry")
			c.publish(event.TypeCodeInvalid, event.ErrorPayload{Message: ErrCodeInvalid.Error()})
		case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
			c.publish(event.TypeCodeExpired, event.ErrorPayload{Message: ErrCodeExpired.Error()})
			c.failLogin(ErrCodeExpired.Error())
			return
		default:
			if errors.Is(err, context.Canceled) {
				log.Printf("[Telegram] Login abandoned")
				return
			}
			c.failLogin(fmt.Sprintf("sign in: %v", err))
			return
		}
	}
}

// runPasswordStage loops on 2FA password attempts until success, timeout or
// a non-retryable error.
func (c *Client) runPasswordStage(ctx context.Context, client *telegram.Client, passCh chan string) {
	for {
		password, err := waitInput(ctx, passCh)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Printf("[Telegram] Login abandoned")
				return
			}
			c.failLogin(fmt.Sprintf("waiting for password: %v", err))
			return
		}

		_, err = client.Auth().Password(ctx, password)
		switch {
		case err == nil:
			c.finishLogin(ctx)
			return
		case tgerr.Is(err, "PASSWORD_HASH_INVALID"):
			c.mu.Lock()
			_ = c.flow.passwordRejected()
			c.mu.Unlock()
			log.Printf("[Telegram] 2FA password rejected, waiting for retry")
			c.publish(event.TypePasswordInvalid, event.ErrorPayload{Message: ErrPasswordInvalid.Error()})
		default:
			if errors.Is(err, context.Canceled) {
				log.Printf("[Telegram] Login abandoned")
				return
			}
			c.failLogin(fmt.Sprintf("password auth: %v", err))
			return
		}
	}
}

func (c *Client) finishLogin(ctx context.Context) {
	c.mu.Lock()
	err := c.flow.succeed()
	c.mu.Unlock()
	if err != nil {
		log.Printf("[Telegram] %v", err)
	}

	log.Printf("[Telegram] Login complete")
	c.publish(event.TypeLoginSuccess, nil)
	c.afterLogin(ctx)
}

func (c *Client) failLogin(reason string) {
	c.mu.Lock()
	c.flow.fail(reason)
	c.mu.Unlock()

	log.Printf("[Telegram] Login failed: %s", reason)
	c.publish(event.TypeLoginError, event.ErrorPayload{Message: reason})
}

func (c *Client) clearChallenges() {
	c.mu.Lock()
	cancel := c.loginCancel
	c.loginCancel = nil
	c.codeCh = nil
	c.passCh = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
