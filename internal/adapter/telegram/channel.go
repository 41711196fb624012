// Package telegram delivers alerts through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Channel implements pipeline.Channel with a Telegram bot. Recipient ids are
// numeric chat ids or public @channel usernames.
type Channel struct {
	bot    *telego.Bot
	logger *slog.Logger
}

// NewChannel creates a bot client. apiURL overrides the Bot API server and
// may be empty. The per-send deadline comes from the caller's context; timeout
// only bounds the underlying HTTP client.
func NewChannel(token, apiURL string, timeout time.Duration, logger *slog.Logger) (*Channel, error) {
	opts := []telego.BotOption{
		telego.WithHTTPClient(&http.Client{Timeout: timeout}),
		telego.WithDiscardLogger(),
	}
	if apiURL != "" {
		opts = append(opts, telego.WithAPIServer(strings.TrimRight(apiURL, "/")))
	}
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{bot: bot, logger: logger}, nil
}

// Send posts text, rendered as legacy Markdown, to recipientID.
func (c *Channel) Send(ctx context.Context, recipientID, text string) error {
	chatID, err := parseChatID(recipientID)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}

	msg, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: telego.ModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("%w: send to %s: %w", domain.ErrDeliveryFailed, recipientID, err)
	}
	c.logger.Debug("telegram message sent", "subscriber_id", recipientID, "message_id", msg.MessageID)
	return nil
}

func parseChatID(id string) (telego.ChatID, error) {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "@") && len(id) > 1 {
		return tu.Username(id), nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return telego.ChatID{}, fmt.Errorf("invalid chat id %q", id)
	}
	return tu.ID(n), nil
}
