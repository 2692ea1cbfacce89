package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/BatmanBruc/bat-bot-pass/internal/messages"
	"github.com/BatmanBruc/bat-bot-pass/types"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

func (bh *Handlers) HandleCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	data := strings.TrimSpace(cq.Data)
	userID := cq.From.ID

	chatID := userID
	if cq.Message.Message != nil {
		chatID = cq.Message.Message.Chat.ID
	}

	switch {
	case data == "pay":
		bh.answerCallback(ctx, b, cq.ID, "")
		user, _, err := bh.svc.RegisterUser(ctx, userID, cq.From.Username, cq.From.FirstName, cq.From.LastName)
		if err != nil {
			bh.log.Error().Err(err).Int64("user_id", userID).Msg("register user")
			bh.sendText(ctx, b, chatID, messages.ErrorDefault())
			return
		}
		bh.createInvoice(ctx, b, chatID, user)

	case strings.HasPrefix(data, "check_"):
		bh.handleCheckPayment(ctx, b, cq, chatID, data)

	default:
		bh.answerCallback(ctx, b, cq.ID, "")
	}
}

// handleCheckPayment is the manual "did my payment go through" button:
// the gateway is polled directly instead of waiting for the webhook.
func (bh *Handlers) handleCheckPayment(ctx context.Context, b *bot.Bot, cq *models.CallbackQuery, chatID int64, data string) {
	paymentID, err := strconv.ParseInt(strings.TrimPrefix(data, "check_"), 10, 64)
	if err != nil {
		bh.answerCallback(ctx, b, cq.ID, "")
		return
	}

	p, err := bh.payments.GetPayment(ctx, paymentID)
	if err != nil || p.UserID != cq.From.ID {
		bh.answerCallback(ctx, b, cq.ID, "")
		return
	}

	if !p.Status.Terminal() {
		if err := bh.svc.ResolveFromGateway(ctx, p); err != nil {
			bh.log.Error().Err(err).Int64("payment_id", paymentID).Msg("check payment")
			bh.answerCallback(ctx, b, cq.ID, messages.ErrorDefault())
			return
		}
		p, err = bh.payments.GetPayment(ctx, paymentID)
		if err != nil {
			bh.answerCallback(ctx, b, cq.ID, messages.ErrorDefault())
			return
		}
	}

	switch p.Status {
	case types.PaymentSucceeded:
		// The confirmation flow already messaged the user.
		bh.answerCallback(ctx, b, cq.ID, "Оплата получена ✅")
	case types.PaymentPending:
		bh.answerCallback(ctx, b, cq.ID, "")
		bh.sendText(ctx, b, chatID, messages.PaymentStillPending())
	default:
		bh.answerCallback(ctx, b, cq.ID, "")
		bh.sendText(ctx, b, chatID, messages.PaymentFailed("Платеж не был завершен."))
	}
}

func (bh *Handlers) answerCallback(ctx context.Context, b *bot.Bot, callbackID, text string) {
	_, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	if err != nil {
		bh.log.Warn().Err(err).Msg("answer callback")
	}
}
