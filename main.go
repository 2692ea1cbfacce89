package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BatmanBruc/bat-bot-pass/internal/channel"
	"github.com/BatmanBruc/bat-bot-pass/internal/config"
	"github.com/BatmanBruc/bat-bot-pass/internal/handlers"
	"github.com/BatmanBruc/bat-bot-pass/internal/logging"
	"github.com/BatmanBruc/bat-bot-pass/internal/reconciler"
	"github.com/BatmanBruc/bat-bot-pass/internal/subscription"
	"github.com/BatmanBruc/bat-bot-pass/internal/webhook"
	"github.com/BatmanBruc/bat-bot-pass/internal/yookassa"
	"github.com/BatmanBruc/bat-bot-pass/store"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

func main() {
	_ = config.LoadEnvFile("config.env")

	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info")
		boot.Fatal().Err(err).Msg("load configuration")
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb, err := store.NewRedisClient(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, "bot_pass")
	if err != nil {
		log.Fatal().Err(err).Msg("connect to redis")
	}
	defer rdb.Close()
	eventStore := store.NewRedisEventStore(rdb, 48)

	pgStore, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to postgres")
	}
	defer pgStore.Close()

	// chat_member updates are off by default; without them invite-link
	// usage never gets tracked.
	b, err := bot.New(cfg.Bot.Token,
		bot.WithAllowedUpdates(bot.AllowedUpdates{"message", "callback_query", "chat_member"}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("create bot")
	}

	ch := channel.NewClient(b, cfg.Bot.ChannelID, log)
	gateway := yookassa.NewClient(cfg.YooKassa.ShopID, cfg.YooKassa.SecretKey, cfg.YooKassa.BaseURL, log)

	channelName, err := channelTitle(ctx, b, cfg.Bot.ChannelID)
	if err != nil {
		log.Warn().Err(err).Msg("resolve channel title")
		channelName = "канал"
	}

	// Validated in config.Load.
	price, _ := cfg.Sub.PriceAmount()

	svc := subscription.NewService(pgStore, gateway, ch, eventStore, subscription.Config{
		Price:       price,
		Currency:    cfg.Sub.Currency,
		PeriodDays:  cfg.Sub.DurationDays,
		TrialDays:   cfg.Sub.TrialDays,
		Channel:     channelName,
		ReturnURL:   cfg.YooKassa.ReturnURL,
		WebhookWait: cfg.Webhook.PaymentWait,
	}, log)

	whHandler := webhook.NewHandler(cfg.YooKassa.SecretKey, eventStore, pgStore, svc, log)
	whServer := webhook.NewServer(cfg.Webhook.Addr(), whHandler, log)
	go func() {
		if err := whServer.Start(); err != nil {
			log.Error().Err(err).Msg("webhook server failed")
			cancel()
		}
	}()

	rec := reconciler.New(pgStore, ch, svc, eventStore, reconciler.Config{
		Interval:  cfg.Reconciler.Interval,
		InviteTTL: cfg.Sub.InviteExpiry(),
	}, log)
	rec.Start(ctx)

	h := handlers.NewHandlers(svc, pgStore, pgStore, pgStore, ch, handlers.Config{
		ChannelName:  channelName,
		Price:        price,
		DurationDays: cfg.Sub.DurationDays,
		TrialDays:    cfg.Sub.TrialDays,
		InviteTTL:    cfg.Sub.InviteExpiry(),
		AdminIDs:     cfg.Bot.AdminIDs,
	}, log)

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil || update.CallbackQuery != nil || update.ChatMember != nil
	}, h.HandleUpdate)

	log.Info().Msg("bot started")
	b.Start(ctx)

	rec.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := whServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("webhook server shutdown")
	}
	log.Info().Msg("bot stopped")
}

func channelTitle(ctx context.Context, b *bot.Bot, channelID int64) (string, error) {
	chat, err := b.GetChat(ctx, &bot.GetChatParams{ChatID: channelID})
	if err != nil {
		return "", err
	}
	return chat.Title, nil
}
