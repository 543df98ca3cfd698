package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tgerr"
	"github.com/skip2/go-qrcode"

	"github.com/chatpilot/gateway/internal/event"
)

// qrWindow bounds the QR login flow. Telegram rotates tokens inside the
// window; each rotation re-emits a fresh QR image.
const qrWindow = 5 * time.Minute

// BeginQRLogin starts the QR login flow in the background. Every issued
// token is rendered as a PNG and published on the bus for the UI to display;
// scanning completes the flow, possibly via the 2FA password stage.
func (c *Client) BeginQRLogin() error {
	c.mu.Lock()
	if c.client == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if err := c.flow.begin("qr"); err != nil {
		c.mu.Unlock()
		return err
	}
	passCh := make(chan string, 1)
	c.passCh = passCh
	ctx, cancel := context.WithTimeout(context.Background(), qrWindow)
	c.loginCancel = cancel
	client := c.client
	dispatcher := c.dispatcher
	c.mu.Unlock()

	loggedIn := qrlogin.OnLoginToken(dispatcher)

	go func() {
		defer cancel()
		defer c.clearChallenges()

		_, err := client.QR().Auth(ctx, loggedIn, func(ctx context.Context, token qrlogin.Token) error {
			png, err := qrcode.Encode(token.URL(), qrcode.Medium, 256)
			if err != nil {
				return fmt.Errorf("telegram: render qr: %w", err)
			}
			log.Printf("[Telegram] QR token issued, expires %s",
				token.Expires().Format(time.RFC3339))
			c.publish(event.TypeQRGenerated, event.QRPayload{
				Image:     base64.StdEncoding.EncodeToString(png),
				ExpiresAt: token.Expires(),
			})
			return nil
		})

		switch {
		case err == nil:
			c.finishLogin(ctx)
		case errors.Is(err, context.Canceled):
			log.Printf("[Telegram] QR login abandoned")
		case errors.Is(err, context.DeadlineExceeded):
			log.Printf("[Telegram] QR login window expired")
			c.publish(event.TypeQRExpired, nil)
			c.failLogin("qr login expired")
		case tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
			c.mu.Lock()
			ferr := c.flow.passwordNeeded()
			c.mu.Unlock()
			if ferr != nil {
				log.Printf("[Telegram] %v", ferr)
				return
			}
			c.publish(event.TypePasswordNeeded, nil)

			pwCtx, pwCancel := context.WithTimeout(context.Background(), loginWindow)
			defer pwCancel()
			c.mu.Lock()
			c.loginCancel = pwCancel
			c.mu.Unlock()
			c.runPasswordStage(pwCtx, client, passCh)
		default:
			c.failLogin(fmt.Sprintf("qr auth: %v", err))
		}
	}()
	return nil
}
