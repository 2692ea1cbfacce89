package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BatmanBruc/bat-bot-pass/internal/messages"
	"github.com/BatmanBruc/bat-bot-pass/types"
	"github.com/rs/zerolog"
)

// Store is the persistence surface a reconciler pass touches.
type Store interface {
	types.UserStore
	types.PaymentStore
	types.InviteStore
}

// Channel is the messaging-platform surface: invites, removals, DMs.
type Channel interface {
	CreateInviteLink(ctx context.Context, userID int64, expireAt time.Time, memberLimit int) (string, error)
	RevokeInviteLink(ctx context.Context, link string) error
	RemoveMember(ctx context.Context, userID int64) error
	SendMessage(ctx context.Context, userID int64, text string) error
}

// PaymentResolver polls the gateway for a payment whose webhook never
// arrived and applies the outcome.
type PaymentResolver interface {
	ResolveFromGateway(ctx context.Context, p *types.Payment) error
}

type Config struct {
	Interval  time.Duration
	InviteTTL time.Duration
}

// reminderDays are the expiry-warning thresholds, largest first.
var reminderDays = []int{7, 3, 1}

// Reconciler periodically brings channel access in line with the
// subscription state: expires overdue users, issues invite links for
// paid periods, revokes stale links, polls overdue pending payments and
// sends expiry reminders.
type Reconciler struct {
	store    Store
	channel  Channel
	resolver PaymentResolver
	pending  types.PendingTracker
	cfg      Config
	log      zerolog.Logger
	nowFn    func() time.Time

	// passMu guarantees a single pass at a time; a slow pass makes the
	// ticker skip, not queue.
	passMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store Store, channel Channel, resolver PaymentResolver, pending types.PendingTracker, cfg Config, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		channel:  channel,
		resolver: resolver,
		pending:  pending,
		cfg:      cfg,
		log:      log.With().Str("component", "reconciler").Logger(),
		nowFn:    time.Now,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		r.log.Info().Dur("interval", r.cfg.Interval).Msg("reconciler started")
		for {
			select {
			case <-ctx.Done():
				r.log.Info().Msg("reconciler stopped")
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// RunOnce executes a full pass. If a previous pass is still running the
// call returns immediately.
func (r *Reconciler) RunOnce(ctx context.Context) {
	if !r.passMu.TryLock() {
		r.log.Warn().Msg("previous pass still running, skipping")
		return
	}
	defer r.passMu.Unlock()

	now := r.nowFn()
	r.expireOverdue(ctx, now)
	r.issueInvites(ctx, now)
	r.revokeStaleInvites(ctx, now)
	r.pollPendingPayments(ctx, now)
	r.sendReminders(ctx, now)
}

// expireOverdue flips users whose paid period ran out to expired, then
// removes them from the channel. The status goes first and is never
// rolled back; is_active stays set until the removal lands, which keeps
// the user in the due set so only the kick is retried next pass.
func (r *Reconciler) expireOverdue(ctx context.Context, now time.Time) {
	users, err := r.store.UsersDueForExpiry(ctx, now)
	if err != nil {
		r.log.Error().Err(err).Msg("list users due for expiry")
		return
	}

	for _, u := range users {
		if u.SubscriptionStatus != types.SubscriptionExpired {
			if err := r.store.SetSubscriptionStatus(ctx, u.UserID, types.SubscriptionExpired, true); err != nil {
				r.log.Error().Err(err).Int64("user_id", u.UserID).Msg("mark subscription expired")
				continue
			}
			r.log.Info().Int64("user_id", u.UserID).Msg("subscription expired")
		}
		if err := r.channel.RemoveMember(ctx, u.UserID); err != nil {
			r.log.Error().Err(err).Int64("user_id", u.UserID).Msg("remove expired user, will retry")
			continue
		}
		if err := r.store.SetSubscriptionStatus(ctx, u.UserID, types.SubscriptionExpired, false); err != nil {
			r.log.Error().Err(err).Int64("user_id", u.UserID).Msg("record access revoked")
			continue
		}
		r.log.Info().Int64("user_id", u.UserID).Msg("access revoked")
		if err := r.channel.SendMessage(ctx, u.UserID, messages.SubscriptionExpired()); err != nil {
			r.log.Warn().Err(err).Int64("user_id", u.UserID).Msg("notify expiry")
		}
	}
}

// issueInvites delivers a single-use invite link for every active paid
// period that does not have one yet. A link that expired unused is
// treated as spent and gets a replacement here.
func (r *Reconciler) issueInvites(ctx context.Context, now time.Time) {
	users, err := r.store.ActiveSubscribers(ctx, now)
	if err != nil {
		r.log.Error().Err(err).Msg("list active subscribers")
		return
	}

	for _, u := range users {
		if u.SubscriptionStatus != types.SubscriptionActive {
			continue
		}
		p, err := r.store.LatestSucceededPayment(ctx, u.UserID)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			r.log.Error().Err(err).Int64("user_id", u.UserID).Msg("lookup latest payment")
			continue
		}

		issued, err := r.store.InviteIssuedForPayment(ctx, u.UserID, p.ID, now)
		if err != nil {
			r.log.Error().Err(err).Int64("user_id", u.UserID).Msg("check issued invite")
			continue
		}
		if issued {
			continue
		}

		if err := r.issueInvite(ctx, u.UserID, &p.ID, now); err != nil {
			r.log.Error().Err(err).Int64("user_id", u.UserID).Int64("payment_id", p.ID).Msg("issue invite")
		}
	}
}

func (r *Reconciler) issueInvite(ctx context.Context, userID int64, paymentID *int64, now time.Time) error {
	expireAt := now.Add(r.cfg.InviteTTL)
	link, err := r.channel.CreateInviteLink(ctx, userID, expireAt, 1)
	if err != nil {
		return err
	}
	err = r.store.SaveInviteLink(ctx, &types.InviteLink{
		UserID:      userID,
		PaymentID:   paymentID,
		Link:        link,
		ExpireDate:  expireAt,
		MemberLimit: 1,
	})
	if err != nil {
		return err
	}
	validHours := int(r.cfg.InviteTTL / time.Hour)
	if err := r.channel.SendMessage(ctx, userID, messages.InviteLinkReady(link, validHours)); err != nil {
		r.log.Warn().Err(err).Int64("user_id", userID).Msg("deliver invite link")
	}
	r.log.Info().Int64("user_id", userID).Time("expires", expireAt).Msg("invite link issued")
	return nil
}

// revokeStaleInvites cleans up links that expired without being used.
// Deleting the row lets the issue pass hand out a replacement.
func (r *Reconciler) revokeStaleInvites(ctx context.Context, now time.Time) {
	links, err := r.store.ExpiredUnusedLinks(ctx, now)
	if err != nil {
		r.log.Error().Err(err).Msg("list expired invites")
		return
	}

	for _, l := range links {
		if err := r.channel.RevokeInviteLink(ctx, l.Link); err != nil {
			r.log.Error().Err(err).Int64("user_id", l.UserID).Msg("revoke invite link, will retry")
			continue
		}
		if err := r.store.DeleteInviteLink(ctx, l.ID); err != nil {
			r.log.Error().Err(err).Int64("invite_id", l.ID).Msg("delete invite link")
		}
	}
}

// pollPendingPayments is the webhook fallback: every payment whose
// waiting deadline passed is looked up at the gateway directly.
func (r *Reconciler) pollPendingPayments(ctx context.Context, now time.Time) {
	ids, err := r.pending.DuePending(ctx, now)
	if err != nil {
		r.log.Error().Err(err).Msg("list due pending payments")
		return
	}

	for _, externalID := range ids {
		p, err := r.store.GetPaymentByExternalID(ctx, externalID)
		if errors.Is(err, types.ErrNotFound) {
			if err := r.pending.ForgetPending(ctx, externalID); err != nil {
				r.log.Error().Err(err).Str("external_id", externalID).Msg("forget unknown pending payment")
			}
			continue
		}
		if err != nil {
			r.log.Error().Err(err).Str("external_id", externalID).Msg("lookup pending payment")
			continue
		}
		if err := r.resolver.ResolveFromGateway(ctx, p); err != nil {
			r.log.Error().Err(err).Str("external_id", externalID).Msg("resolve pending payment")
		}
	}
}

// sendReminders warns users whose paid period is about to run out, once
// per threshold. reminder_sent_days resets on every extension, so a
// renewal re-arms the whole ladder.
func (r *Reconciler) sendReminders(ctx context.Context, now time.Time) {
	horizon := now.Add(time.Duration(reminderDays[0]) * 24 * time.Hour)
	users, err := r.store.UsersExpiringWithin(ctx, now, horizon)
	if err != nil {
		r.log.Error().Err(err).Msg("list expiring users")
		return
	}

	for _, u := range users {
		daysLeft := u.DaysLeft(now)
		threshold := 0
		for _, d := range reminderDays {
			if daysLeft <= d {
				threshold = d
			}
		}
		if threshold == 0 {
			continue
		}
		if u.ReminderSentDays != 0 && u.ReminderSentDays <= threshold {
			continue
		}

		shown := daysLeft
		if shown < 1 {
			shown = 1
		}
		if err := r.channel.SendMessage(ctx, u.UserID, messages.SubscriptionExpiring(shown)); err != nil {
			r.log.Warn().Err(err).Int64("user_id", u.UserID).Msg("send expiry reminder")
			continue
		}
		if err := r.store.SetReminderSent(ctx, u.UserID, threshold); err != nil {
			r.log.Error().Err(err).Int64("user_id", u.UserID).Msg("record reminder")
		}
	}
}
