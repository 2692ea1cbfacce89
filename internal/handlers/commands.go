package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/BatmanBruc/bat-bot-pass/internal/messages"
	"github.com/BatmanBruc/bat-bot-pass/types"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

func (bh *Handlers) HandleCommand(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg.From == nil || msg.Chat.Type != models.ChatTypePrivate {
		return
	}
	userID := msg.From.ID

	fields := strings.Fields(strings.TrimSpace(msg.Text))
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]
	if strings.Contains(cmd, "@") {
		cmd = strings.SplitN(cmd, "@", 2)[0]
	}

	if bh.svc.MaintenanceMode(ctx) && !bh.cfg.isAdmin(userID) {
		bh.sendText(ctx, b, msg.Chat.ID, messages.Maintenance())
		return
	}

	switch cmd {
	case "/start":
		bh.handleStart(ctx, b, msg)
	case "/pay":
		bh.handlePay(ctx, b, msg)
	case "/status":
		bh.handleStatus(ctx, b, msg)
	case "/admin":
		bh.handleAdmin(ctx, b, msg, fields[1:])
	case "/help":
		bh.sendText(ctx, b, msg.Chat.ID, messages.Welcome(bh.cfg.ChannelName, bh.cfg.Price))
	default:
		bh.sendText(ctx, b, msg.Chat.ID, messages.UnknownCommand())
	}
}

func (bh *Handlers) handleStart(ctx context.Context, b *bot.Bot, msg *models.Message) {
	from := msg.From
	user, created, err := bh.svc.RegisterUser(ctx, from.ID, from.Username, from.FirstName, from.LastName)
	if err != nil {
		bh.log.Error().Err(err).Int64("user_id", from.ID).Msg("register user")
		bh.sendText(ctx, b, msg.Chat.ID, messages.ErrorDefault())
		return
	}

	if created && user.SubscriptionStatus == types.SubscriptionTrial {
		bh.sendText(ctx, b, msg.Chat.ID, messages.TrialActivated(bh.cfg.TrialDays, *user.SubscriptionEnd))
		bh.issueTrialInvite(ctx, b, from.ID)
		return
	}
	bh.sendText(ctx, b, msg.Chat.ID, messages.Welcome(bh.cfg.ChannelName, bh.cfg.Price))
}

func (bh *Handlers) handlePay(ctx context.Context, b *bot.Bot, msg *models.Message) {
	from := msg.From
	user, _, err := bh.svc.RegisterUser(ctx, from.ID, from.Username, from.FirstName, from.LastName)
	if err != nil {
		bh.log.Error().Err(err).Int64("user_id", from.ID).Msg("register user")
		bh.sendText(ctx, b, msg.Chat.ID, messages.ErrorDefault())
		return
	}

	now := time.Now()
	if user.SubscriptionActiveAt(now) {
		// Early renewal stacks on the remaining time, so the user picks
		// explicitly instead of paying twice by accident.
		_, err := b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    msg.Chat.ID,
			Text:      messages.AlreadyActive(*user.SubscriptionEnd, user.DaysLeft(now)),
			ParseMode: messages.ParseModeHTML,
			ReplyMarkup: &models.InlineKeyboardMarkup{
				InlineKeyboard: [][]models.InlineKeyboardButton{
					{{Text: "💳 Продлить заранее", CallbackData: "pay"}},
				},
			},
		})
		if err != nil {
			bh.log.Warn().Err(err).Int64("chat_id", msg.Chat.ID).Msg("send message")
		}
		return
	}

	bh.createInvoice(ctx, b, msg.Chat.ID, user)
}

func (bh *Handlers) createInvoice(ctx context.Context, b *bot.Bot, chatID int64, user *types.User) {
	p, confirmationURL, err := bh.svc.StartPayment(ctx, user)
	if err != nil {
		bh.log.Error().Err(err).Int64("user_id", user.UserID).Msg("start payment")
		bh.sendText(ctx, b, chatID, messages.ErrorDefault())
		return
	}

	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      messages.InvoiceCreated(bh.cfg.Price, bh.cfg.DurationDays, bh.cfg.ChannelName, confirmationURL),
		ParseMode: messages.ParseModeHTML,
		ReplyMarkup: &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{
				{{Text: "🔄 Проверить оплату", CallbackData: "check_" + strconv.FormatInt(p.ID, 10)}},
			},
		},
	})
	if err != nil {
		bh.log.Warn().Err(err).Int64("chat_id", chatID).Msg("send invoice message")
	}
}

func (bh *Handlers) handleStatus(ctx context.Context, b *bot.Bot, msg *models.Message) {
	user, err := bh.users.GetUser(ctx, msg.From.ID)
	if err != nil {
		bh.sendText(ctx, b, msg.Chat.ID, messages.StatusInactive(nil, 0, bh.cfg.ChannelName))
		return
	}

	now := time.Now()
	if user.SubscriptionActiveAt(now) {
		bh.sendText(ctx, b, msg.Chat.ID, messages.StatusActive(*user.SubscriptionEnd, user.DaysLeft(now), user.TotalPayments, bh.cfg.ChannelName))
		return
	}
	if user.SubscriptionStatus == types.SubscriptionSuspended {
		bh.sendText(ctx, b, msg.Chat.ID, messages.SubscriptionSuspended("обратитесь в поддержку"))
		return
	}
	bh.sendText(ctx, b, msg.Chat.ID, messages.StatusInactive(user.SubscriptionEnd, user.TotalPayments, bh.cfg.ChannelName))
}

func (bh *Handlers) handleAdmin(ctx context.Context, b *bot.Bot, msg *models.Message, args []string) {
	chatID := msg.Chat.ID
	if !bh.cfg.isAdmin(msg.From.ID) {
		bh.sendText(ctx, b, chatID, messages.AdminDenied())
		return
	}
	if len(args) == 0 {
		bh.sendText(ctx, b, chatID, messages.AdminUsage())
		return
	}

	switch args[0] {
	case "stats":
		stats, err := bh.svc.Stats(ctx)
		if err != nil {
			bh.log.Error().Err(err).Msg("collect stats")
			bh.sendText(ctx, b, chatID, messages.ErrorDefault())
			return
		}
		counts := map[string]int{}
		for status, n := range stats.ByStatus {
			counts[string(status)] = n
		}
		bh.sendText(ctx, b, chatID, messages.AdminStats(counts, stats.Revenue, stats.PaymentCount, bh.cfg.Price))

	case "grant":
		if len(args) < 3 {
			bh.sendText(ctx, b, chatID, messages.AdminUsage())
			return
		}
		targetID, err1 := strconv.ParseInt(args[1], 10, 64)
		days, err2 := strconv.Atoi(args[2])
		if err1 != nil || err2 != nil {
			bh.sendText(ctx, b, chatID, messages.AdminUsage())
			return
		}
		reason := strings.Join(args[3:], " ")
		user, err := bh.svc.GrantBonus(ctx, targetID, days, reason)
		if err != nil {
			bh.log.Error().Err(err).Int64("target_id", targetID).Msg("grant bonus")
			bh.sendText(ctx, b, chatID, messages.ErrorDefault())
			return
		}
		bh.sendText(ctx, b, chatID, messages.AdminGrantDone(targetID, days, *user.SubscriptionEnd))

	case "suspend":
		if len(args) < 2 {
			bh.sendText(ctx, b, chatID, messages.AdminUsage())
			return
		}
		targetID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			bh.sendText(ctx, b, chatID, messages.AdminUsage())
			return
		}
		reason := strings.Join(args[2:], " ")
		if reason == "" {
			reason = "решение администратора"
		}
		if err := bh.svc.Suspend(ctx, targetID, reason); err != nil {
			bh.log.Error().Err(err).Int64("target_id", targetID).Msg("suspend user")
			bh.sendText(ctx, b, chatID, messages.ErrorDefault())
			return
		}
		bh.sendText(ctx, b, chatID, messages.AdminSuspendDone(targetID))

	case "unsuspend":
		if len(args) < 2 {
			bh.sendText(ctx, b, chatID, messages.AdminUsage())
			return
		}
		targetID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			bh.sendText(ctx, b, chatID, messages.AdminUsage())
			return
		}
		if _, err := bh.svc.Unsuspend(ctx, targetID); err != nil {
			bh.log.Error().Err(err).Int64("target_id", targetID).Msg("unsuspend user")
			bh.sendText(ctx, b, chatID, messages.ErrorDefault())
			return
		}
		bh.sendText(ctx, b, chatID, messages.AdminUnsuspendDone(targetID))

	case "maintenance":
		if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
			bh.sendText(ctx, b, chatID, messages.AdminUsage())
			return
		}
		on := args[1] == "on"
		if err := bh.svc.SetMaintenanceMode(ctx, on); err != nil {
			bh.log.Error().Err(err).Msg("toggle maintenance")
			bh.sendText(ctx, b, chatID, messages.ErrorDefault())
			return
		}
		bh.sendText(ctx, b, chatID, messages.AdminMaintenanceDone(on))

	default:
		bh.sendText(ctx, b, chatID, messages.AdminUsage())
	}
}
