package handlers

import (
	"context"
	"time"

	"github.com/BatmanBruc/bat-bot-pass/internal/messages"
	"github.com/BatmanBruc/bat-bot-pass/internal/subscription"
	"github.com/BatmanBruc/bat-bot-pass/types"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service is the subscription surface the bot commands drive.
type Service interface {
	RegisterUser(ctx context.Context, userID int64, username, firstName, lastName string) (*types.User, bool, error)
	StartPayment(ctx context.Context, user *types.User) (*types.Payment, string, error)
	ResolveFromGateway(ctx context.Context, p *types.Payment) error
	GrantBonus(ctx context.Context, userID int64, days int, reason string) (*types.User, error)
	Suspend(ctx context.Context, userID int64, reason string) error
	Unsuspend(ctx context.Context, userID int64) (*types.User, error)
	Stats(ctx context.Context) (*subscription.Stats, error)
	MaintenanceMode(ctx context.Context) bool
	SetMaintenanceMode(ctx context.Context, on bool) error
}

// InviteIssuer creates channel invite links; the live implementation is
// the channel client.
type InviteIssuer interface {
	CreateInviteLink(ctx context.Context, userID int64, expireAt time.Time, memberLimit int) (string, error)
}

type Config struct {
	ChannelName  string
	Price        decimal.Decimal
	DurationDays int
	TrialDays    int
	InviteTTL    time.Duration
	AdminIDs     []int64
}

func (c Config) isAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Handlers struct {
	svc      Service
	users    types.UserStore
	payments types.PaymentStore
	invites  types.InviteStore
	issuer   InviteIssuer
	cfg      Config
	log      zerolog.Logger
}

func NewHandlers(svc Service, users types.UserStore, payments types.PaymentStore, invites types.InviteStore, issuer InviteIssuer, cfg Config, log zerolog.Logger) *Handlers {
	return &Handlers{
		svc:      svc,
		users:    users,
		payments: payments,
		invites:  invites,
		issuer:   issuer,
		cfg:      cfg,
		log:      log.With().Str("component", "handlers").Logger(),
	}
}

// HandleUpdate is the single entry point registered as the bot's
// default handler.
func (bh *Handlers) HandleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	switch {
	case update.ChatMember != nil:
		bh.HandleChatMember(ctx, b, update)
	case update.CallbackQuery != nil:
		bh.HandleCallback(ctx, b, update)
	case update.Message != nil && update.Message.Text != "":
		bh.HandleCommand(ctx, b, update)
	}
}

// HandleChatMember tracks channel joins and marks the consumed invite
// link so no replacement is ever issued for it.
func (bh *Handlers) HandleChatMember(ctx context.Context, b *bot.Bot, update *models.Update) {
	cm := update.ChatMember
	member := cm.NewChatMember.Member
	if cm.NewChatMember.Type != models.ChatMemberTypeMember || member == nil || member.User == nil {
		return
	}
	if cm.InviteLink == nil || cm.InviteLink.InviteLink == "" {
		return
	}

	// From is the actor; for an admin-added member they differ.
	userID := member.User.ID
	if err := bh.invites.MarkInviteUsed(ctx, cm.InviteLink.InviteLink); err != nil {
		bh.log.Warn().Err(err).Int64("user_id", userID).Msg("mark invite used")
		return
	}
	bh.log.Info().Int64("user_id", userID).Msg("user joined channel via invite")
}

func (bh *Handlers) sendText(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		bh.log.Warn().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}

// issueTrialInvite hands a fresh user their first invite link right
// after the trial is granted.
func (bh *Handlers) issueTrialInvite(ctx context.Context, b *bot.Bot, userID int64) {
	expireAt := time.Now().Add(bh.cfg.InviteTTL)
	link, err := bh.issuer.CreateInviteLink(ctx, userID, expireAt, 1)
	if err != nil {
		bh.log.Error().Err(err).Int64("user_id", userID).Msg("create trial invite")
		return
	}
	err = bh.invites.SaveInviteLink(ctx, &types.InviteLink{
		UserID:      userID,
		Link:        link,
		ExpireDate:  expireAt,
		MemberLimit: 1,
	})
	if err != nil {
		bh.log.Error().Err(err).Int64("user_id", userID).Msg("save trial invite")
		return
	}
	bh.sendText(ctx, b, userID, messages.InviteLinkReady(link, int(bh.cfg.InviteTTL/time.Hour)))
}
