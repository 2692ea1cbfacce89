package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/BatmanBruc/bat-bot-pass/internal/yookassa"
	"github.com/BatmanBruc/bat-bot-pass/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxBodySize caps a notification body; real ones are under 4 KB.
const maxBodySize = 1 << 20

// Service is the lifecycle surface the webhook drives.
type Service interface {
	ConfirmPayment(ctx context.Context, paymentID int64) (*types.User, error)
	FailPayment(ctx context.Context, paymentID int64, status types.PaymentStatus, reason string) error
	ProcessRefund(ctx context.Context, paymentID int64, amount decimal.Decimal) error
}

// Handler turns gateway notifications into subscription-state changes.
//
// Response contract: 400 only for a bad signature or an unreadable
// body. Everything else answers 200, otherwise the gateway keeps
// retrying deliveries we can never process.
type Handler struct {
	secret   string
	guard    types.EventGuard
	payments types.PaymentStore
	svc      Service
	log      zerolog.Logger
}

func NewHandler(secret string, guard types.EventGuard, payments types.PaymentStore, svc Service, log zerolog.Logger) *Handler {
	return &Handler{
		secret:   secret,
		guard:    guard,
		payments: payments,
		svc:      svc,
		log:      log.With().Str("component", "webhook").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !yookassa.VerifySignature(body, r.Header.Get(yookassa.SignatureHeader), h.secret) {
		h.log.Warn().Str("remote", r.RemoteAddr).Msg("webhook signature mismatch")
		http.Error(w, "bad signature", http.StatusBadRequest)
		return
	}

	n, err := yookassa.ParseNotification(body)
	if err != nil {
		h.log.Warn().Err(err).Msg("malformed notification")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	seen, err := h.guard.CheckAndMark(r.Context(), n.DedupKey())
	if err != nil {
		// The store-level pending check still prevents double
		// application, so a broken guard does not block processing.
		h.log.Error().Err(err).Str("event", n.Event).Msg("event guard unavailable")
	} else if seen {
		h.log.Info().Str("event", n.Event).Str("object_id", n.ExternalID()).Msg("duplicate delivery, acknowledged")
		w.WriteHeader(http.StatusOK)
		return
	}

	h.dispatch(r.Context(), n)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) dispatch(ctx context.Context, n *yookassa.Notification) {
	log := h.log.With().Str("event", n.Event).Str("object_id", n.ExternalID()).Logger()

	switch n.Event {
	case yookassa.EventPaymentSucceeded:
		h.applyPayment(ctx, n, log, func(ctx context.Context, paymentID int64) error {
			_, err := h.svc.ConfirmPayment(ctx, paymentID)
			return err
		})

	case yookassa.EventPaymentCanceled:
		h.applyPayment(ctx, n, log, func(ctx context.Context, paymentID int64) error {
			return h.svc.FailPayment(ctx, paymentID, types.PaymentCanceled, "Платеж отменен")
		})

	case yookassa.EventRefundSucceeded:
		p, err := h.payments.GetPaymentByExternalID(ctx, n.RefundedPaymentID())
		if errors.Is(err, types.ErrNotFound) {
			log.Warn().Str("payment_id", n.RefundedPaymentID()).Msg("refund for unknown payment")
			return
		}
		if err != nil {
			h.fail(ctx, n, log, err)
			return
		}
		if err := h.svc.ProcessRefund(ctx, p.ID, n.Amount()); err != nil {
			h.fail(ctx, n, log, err)
		}

	case yookassa.EventPaymentWaitingCapture:
		// Payments are created with capture:true, so this state is not
		// expected; acknowledged so the gateway stops resending it.
		log.Info().Msg("waiting_for_capture acknowledged")

	default:
		log.Warn().Msg("unhandled event type")
	}
}

func (h *Handler) applyPayment(ctx context.Context, n *yookassa.Notification, log zerolog.Logger, apply func(ctx context.Context, paymentID int64) error) {
	p, err := h.payments.GetPaymentByExternalID(ctx, n.ExternalID())
	if errors.Is(err, types.ErrNotFound) {
		// Not one of ours. Freeing the dedup mark lets a later
		// redelivery retry in case the row shows up.
		log.Warn().Msg("notification for unknown payment")
		h.release(ctx, n)
		return
	}
	if err != nil {
		h.fail(ctx, n, log, err)
		return
	}
	if p.Status.Terminal() {
		log.Info().Msg("payment already terminal, acknowledged")
		return
	}

	if err := apply(ctx, p.ID); err != nil && !errors.Is(err, types.ErrPaymentNotPending) {
		h.fail(ctx, n, log, err)
	}
}

// fail logs a processing error and frees the dedup mark so the gateway
// retry is not swallowed. The response stays 200.
func (h *Handler) fail(ctx context.Context, n *yookassa.Notification, log zerolog.Logger, err error) {
	log.Error().Err(err).Msg("notification processing failed")
	h.release(ctx, n)
}

func (h *Handler) release(ctx context.Context, n *yookassa.Notification) {
	if err := h.guard.Release(ctx, n.DedupKey()); err != nil {
		h.log.Error().Err(err).Str("event", n.Event).Msg("release event guard")
	}
}
