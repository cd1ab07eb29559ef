// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"club_attendance_engine/internal/domain/notify"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements the notify.Provider interface for members who
// linked the club's Telegram bot, using gopkg.in/telebot.v3. The channel
// address is the chat ID recorded at link time.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

func (tba *TelebotAdapter) Send(ctx context.Context, ch notify.Channel, kind notify.Kind, params notify.Params) (string, error) {
	chatID, err := strconv.ParseInt(ch.Address, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat ID %q: %w", ch.Address, err)
	}

	msg, err := tba.bot.Send(&telebot.User{ID: chatID}, kind.Render(params))
	if err != nil {
		var flood telebot.FloodError
		if errors.As(err, &flood) {
			return "", fmt.Errorf("telegram flood control: %w", notify.ErrRateLimited)
		}
		return "", fmt.Errorf("telegram send failed: %w", err)
	}
	return strconv.Itoa(msg.ID), nil
}
