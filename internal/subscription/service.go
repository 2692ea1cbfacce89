package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BatmanBruc/bat-bot-pass/internal/messages"
	"github.com/BatmanBruc/bat-bot-pass/internal/yookassa"
	"github.com/BatmanBruc/bat-bot-pass/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Store is everything the lifecycle core needs from persistence.
type Store interface {
	types.UserStore
	types.PaymentStore
	types.HistoryStore
	types.SettingsStore
}

// Gateway is the payment-gateway surface consumed by the core.
type Gateway interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, currency, description string, userID int64, botPaymentID, returnURL string) (*yookassa.CreatedPayment, error)
	GetPayment(ctx context.Context, externalID string) (*yookassa.PaymentInfo, error)
	CancelPayment(ctx context.Context, externalID string) error
}

// Messenger is the messaging-platform surface consumed by the core.
type Messenger interface {
	SendMessage(ctx context.Context, userID int64, text string) error
	RemoveMember(ctx context.Context, userID int64) error
}

type Config struct {
	Price       decimal.Decimal
	Currency    string
	PeriodDays  int
	TrialDays   int
	Channel     string
	ReturnURL   string
	WebhookWait time.Duration
}

func (c Config) Period() time.Duration {
	return time.Duration(c.PeriodDays) * 24 * time.Hour
}

const settingMaintenance = "maintenance_mode"

type Service struct {
	store     Store
	gateway   Gateway
	messenger Messenger
	pending   types.PendingTracker
	cfg       Config
	log       zerolog.Logger
	nowFn     func() time.Time
}

func NewService(store Store, gateway Gateway, messenger Messenger, pending types.PendingTracker, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		store:     store,
		gateway:   gateway,
		messenger: messenger,
		pending:   pending,
		cfg:       cfg,
		log:       log.With().Str("component", "subscription").Logger(),
		nowFn:     time.Now,
	}
}

// RegisterUser upserts the user from their Telegram profile. A brand-new
// user gets the trial period when one is configured. Reports whether the
// user was created.
func (s *Service) RegisterUser(ctx context.Context, userID int64, username, firstName, lastName string) (*types.User, bool, error) {
	existing, err := s.store.GetUser(ctx, userID)
	if err == nil {
		existing.Username = username
		existing.FirstName = firstName
		existing.LastName = lastName
		if err := s.store.UpdateProfile(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, false, err
	}

	user := &types.User{
		UserID:             userID,
		Username:           username,
		FirstName:          firstName,
		LastName:           lastName,
		SubscriptionStatus: types.SubscriptionExpired,
		IsActive:           true,
	}
	if s.cfg.TrialDays > 0 {
		end := s.nowFn().UTC().Add(time.Duration(s.cfg.TrialDays) * 24 * time.Hour)
		user.SubscriptionEnd = &end
		user.SubscriptionStatus = types.SubscriptionTrial
	}
	if err := s.store.InsertUser(ctx, user); err != nil {
		return nil, false, err
	}
	if s.cfg.TrialDays > 0 {
		err := s.store.AppendHistory(ctx, &types.HistoryEntry{
			UserID:     userID,
			StartDate:  s.nowFn().UTC(),
			EndDate:    *user.SubscriptionEnd,
			AmountPaid: decimal.Zero,
			Type:       types.HistoryTrial,
		})
		if err != nil {
			s.log.Error().Err(err).Int64("user_id", userID).Msg("append trial history")
		}
		s.log.Info().Int64("user_id", userID).Int("days", s.cfg.TrialDays).Msg("trial period granted")
	}
	return user, true, nil
}

// StartPayment registers a payment at the gateway and records it as
// pending. The gateway call goes first: a gateway payment without a row
// is an orphan the poll fallback will never touch, a row without a
// gateway payment would be pending forever.
func (s *Service) StartPayment(ctx context.Context, user *types.User) (*types.Payment, string, error) {
	botPaymentID := uuid.NewString()
	description := fmt.Sprintf("Подписка на канал %s", s.cfg.Channel)

	created, err := s.gateway.CreatePayment(ctx, s.cfg.Price, s.cfg.Currency, description, user.UserID, botPaymentID, s.cfg.ReturnURL)
	if err != nil {
		return nil, "", fmt.Errorf("create gateway payment: %w", err)
	}

	p := &types.Payment{
		UserID:      user.UserID,
		ExternalID:  created.ExternalID,
		Amount:      s.cfg.Price,
		Currency:    s.cfg.Currency,
		Status:      types.PaymentPending,
		Description: description,
		Metadata: map[string]string{
			yookassa.MetaBotPaymentID: botPaymentID,
		},
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, "", fmt.Errorf("persist payment: %w", err)
	}

	deadline := s.nowFn().Add(s.cfg.WebhookWait)
	if err := s.pending.TrackPending(ctx, created.ExternalID, deadline); err != nil {
		s.log.Error().Err(err).Str("external_id", created.ExternalID).Msg("track pending payment")
	}

	s.log.Info().Int64("user_id", user.UserID).Int64("payment_id", p.ID).Str("external_id", created.ExternalID).Msg("payment started")
	return p, created.ConfirmationURL, nil
}

// ConfirmPayment applies a confirmed payment to the subscription. The
// store does the atomic work; re-invoking for an already-succeeded
// payment returns ErrPaymentNotPending and changes nothing, which keeps
// retried webhook deliveries from double-extending.
func (s *Service) ConfirmPayment(ctx context.Context, paymentID int64) (*types.User, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	user, err := s.store.ConfirmPayment(ctx, paymentID, s.cfg.Period())
	if err != nil {
		return nil, err
	}

	if p.ExternalID != "" {
		if err := s.pending.ForgetPending(ctx, p.ExternalID); err != nil {
			s.log.Error().Err(err).Str("external_id", p.ExternalID).Msg("forget pending payment")
		}
	}

	s.log.Info().
		Int64("user_id", user.UserID).
		Int64("payment_id", paymentID).
		Time("subscription_end", *user.SubscriptionEnd).
		Msg("payment confirmed, subscription extended")

	if err := s.messenger.SendMessage(ctx, user.UserID, messages.PaymentSucceeded(*user.SubscriptionEnd)); err != nil {
		s.log.Warn().Err(err).Int64("user_id", user.UserID).Msg("notify payment success")
	}
	return user, nil
}

// FailPayment moves a pending payment to canceled/failed. Duplicate
// deliveries are a no-op.
func (s *Service) FailPayment(ctx context.Context, paymentID int64, status types.PaymentStatus, reason string) error {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}

	changed, err := s.store.FinishPayment(ctx, paymentID, status)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if p.ExternalID != "" {
		if err := s.pending.ForgetPending(ctx, p.ExternalID); err != nil {
			s.log.Error().Err(err).Str("external_id", p.ExternalID).Msg("forget pending payment")
		}
	}

	s.log.Info().Int64("user_id", p.UserID).Int64("payment_id", paymentID).Str("status", string(status)).Msg("payment finished without success")
	if err := s.messenger.SendMessage(ctx, p.UserID, messages.PaymentFailed(reason)); err != nil {
		s.log.Warn().Err(err).Int64("user_id", p.UserID).Msg("notify payment failure")
	}
	return nil
}

// ResolveFromGateway polls the gateway for a pending payment whose
// webhook never arrived and applies the reported status.
func (s *Service) ResolveFromGateway(ctx context.Context, p *types.Payment) error {
	if p.Status.Terminal() {
		return s.pending.ForgetPending(ctx, p.ExternalID)
	}

	info, err := s.gateway.GetPayment(ctx, p.ExternalID)
	if err != nil {
		return fmt.Errorf("poll payment %s: %w", p.ExternalID, err)
	}

	switch info.Status {
	case yookassa.StatusSucceeded:
		_, err := s.ConfirmPayment(ctx, p.ID)
		if errors.Is(err, types.ErrPaymentNotPending) {
			return nil
		}
		return err
	case yookassa.StatusCanceled:
		return s.FailPayment(ctx, p.ID, types.PaymentCanceled, "Платеж отменен")
	default:
		// Still in flight at the gateway; leave it tracked.
		return nil
	}
}

// ProcessRefund reacts to a refunded payment: the user is told about
// the money coming back and loses access until an admin sorts it out.
func (s *Service) ProcessRefund(ctx context.Context, paymentID int64, amount decimal.Decimal) error {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	s.log.Info().Int64("user_id", p.UserID).Int64("payment_id", paymentID).Str("amount", amount.String()).Msg("refund processed")
	if err := s.messenger.SendMessage(ctx, p.UserID, messages.RefundProcessed(amount)); err != nil {
		s.log.Warn().Err(err).Int64("user_id", p.UserID).Msg("notify refund")
	}
	return s.Suspend(ctx, p.UserID, "возврат средств")
}

// GrantBonus extends the subscription with no payment linkage.
func (s *Service) GrantBonus(ctx context.Context, userID int64, days int, reason string) (*types.User, error) {
	if days <= 0 || days > 3650 {
		return nil, fmt.Errorf("grant bonus: invalid days %d", days)
	}
	user, err := s.store.GrantDays(ctx, userID, days, types.HistoryBonus)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("user_id", userID).Int("days", days).Str("reason", reason).Msg("bonus granted")
	if err := s.messenger.SendMessage(ctx, userID, messages.BonusGranted(days, *user.SubscriptionEnd)); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("notify bonus grant")
	}
	return user, nil
}

// Suspend blocks the subscription and removes the user from the channel.
// Payments made while suspended extend the period but access returns
// only through Unsuspend.
func (s *Service) Suspend(ctx context.Context, userID int64, reason string) error {
	if err := s.store.SetSubscriptionStatus(ctx, userID, types.SubscriptionSuspended, false); err != nil {
		return err
	}
	s.log.Info().Int64("user_id", userID).Str("reason", reason).Msg("subscription suspended")

	if err := s.messenger.RemoveMember(ctx, userID); err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("remove suspended user from channel")
	}
	if err := s.messenger.SendMessage(ctx, userID, messages.SubscriptionSuspended(reason)); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("notify suspension")
	}
	return nil
}

func (s *Service) Unsuspend(ctx context.Context, userID int64) (*types.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.SubscriptionStatus != types.SubscriptionSuspended {
		return user, nil
	}

	// A suspended user was already kicked; without remaining time there
	// is no access to restore, so is_active stays down.
	status := types.SubscriptionExpired
	isActive := false
	if user.SubscriptionEnd != nil && user.SubscriptionEnd.After(s.nowFn()) {
		status = types.SubscriptionActive
		isActive = true
	}
	if err := s.store.SetSubscriptionStatus(ctx, userID, status, isActive); err != nil {
		return nil, err
	}
	user.SubscriptionStatus = status
	user.IsActive = isActive
	s.log.Info().Int64("user_id", userID).Str("status", string(status)).Msg("subscription unsuspended")
	return user, nil
}

type Stats struct {
	ByStatus     map[types.SubscriptionStatus]int
	Revenue      decimal.Decimal
	PaymentCount int
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	revenue, paymentCount, err := s.store.RevenueSince(ctx, s.nowFn().AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}
	return &Stats{ByStatus: counts, Revenue: revenue, PaymentCount: paymentCount}, nil
}

func (s *Service) MaintenanceMode(ctx context.Context) bool {
	v, err := s.store.GetSetting(ctx, settingMaintenance)
	if err != nil {
		return false
	}
	return strings.EqualFold(v, "on")
}

func (s *Service) SetMaintenanceMode(ctx context.Context, on bool) error {
	v := "off"
	if on {
		v = "on"
	}
	return s.store.SetSetting(ctx, settingMaintenance, v)
}
