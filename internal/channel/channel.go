package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// Client wraps the channel-side Telegram calls: invite links, removals
// and direct messages. Telegram rate limits are absorbed with a short
// backoff so one throttled call does not fail a reconciler pass.
type Client struct {
	bot       *bot.Bot
	channelID int64
	log       zerolog.Logger
}

func NewClient(b *bot.Bot, channelID int64, log zerolog.Logger) *Client {
	return &Client{
		bot:       b,
		channelID: channelID,
		log:       log.With().Str("component", "channel").Logger(),
	}
}

func (c *Client) withBackoff(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(time.Second))
	return retry.Do(ctx, backoff, fn)
}

// CreateInviteLink issues a single-use, time-boxed link into the channel.
func (c *Client) CreateInviteLink(ctx context.Context, userID int64, expireAt time.Time, memberLimit int) (string, error) {
	var link string
	err := c.withBackoff(ctx, func(ctx context.Context) error {
		res, err := c.bot.CreateChatInviteLink(ctx, &bot.CreateChatInviteLinkParams{
			ChatID:      c.channelID,
			Name:        fmt.Sprintf("User %d", userID),
			ExpireDate:  int(expireAt.Unix()),
			MemberLimit: memberLimit,
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		link = res.InviteLink
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create invite link for %d: %w", userID, err)
	}
	c.log.Info().Int64("user_id", userID).Msg("invite link created")
	return link, nil
}

func (c *Client) RevokeInviteLink(ctx context.Context, link string) error {
	return c.withBackoff(ctx, func(ctx context.Context) error {
		_, err := c.bot.RevokeChatInviteLink(ctx, &bot.RevokeChatInviteLinkParams{
			ChatID:     c.channelID,
			InviteLink: link,
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// RemoveMember kicks the user out of the channel. Ban then unban, so the
// user can re-enter through a fresh invite link after paying again.
func (c *Client) RemoveMember(ctx context.Context, userID int64) error {
	err := c.withBackoff(ctx, func(ctx context.Context) error {
		_, err := c.bot.BanChatMember(ctx, &bot.BanChatMemberParams{
			ChatID: c.channelID,
			UserID: userID,
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ban member %d: %w", userID, err)
	}

	err = c.withBackoff(ctx, func(ctx context.Context) error {
		_, err := c.bot.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{
			ChatID:       c.channelID,
			UserID:       userID,
			OnlyIfBanned: true,
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unban member %d: %w", userID, err)
	}

	c.log.Info().Int64("user_id", userID).Msg("member removed from channel")
	return nil
}

func (c *Client) IsMember(ctx context.Context, userID int64) (bool, error) {
	member, err := c.bot.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: c.channelID,
		UserID: userID,
	})
	if err != nil {
		return false, err
	}
	switch member.Type {
	case models.ChatMemberTypeLeft, models.ChatMemberTypeBanned:
		return false, nil
	}
	return true, nil
}

// SendMessage delivers a direct message to the user. A blocked bot is
// not an error worth failing a pass over, so callers log and move on.
func (c *Client) SendMessage(ctx context.Context, userID int64, text string) error {
	return c.withBackoff(ctx, func(ctx context.Context) error {
		_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    userID,
			Text:      text,
			ParseMode: models.ParseModeHTML,
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
