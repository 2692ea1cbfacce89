package types

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrPaymentNotPending = errors.New("payment is not pending")
)

type UserStore interface {
	InsertUser(ctx context.Context, user *User) error
	UpdateProfile(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID int64) (*User, error)
	SetSubscriptionStatus(ctx context.Context, userID int64, status SubscriptionStatus, isActive bool) error
	UsersDueForExpiry(ctx context.Context, now time.Time) ([]*User, error)
	UsersExpiringWithin(ctx context.Context, now, until time.Time) ([]*User, error)
	ActiveSubscribers(ctx context.Context, now time.Time) ([]*User, error)
	SetReminderSent(ctx context.Context, userID int64, days int) error
	CountByStatus(ctx context.Context) (map[SubscriptionStatus]int, error)
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (*Payment, error)

	// ConfirmPayment marks a pending payment succeeded and applies the
	// subscription extension in one transaction: new end is
	// max(now, current end) + period, total_payments is incremented and a
	// history entry covering exactly the extended interval is appended.
	// Returns ErrPaymentNotPending if the payment is already terminal.
	ConfirmPayment(ctx context.Context, id int64, period time.Duration) (*User, error)

	// FinishPayment moves a pending payment to a terminal non-succeeded
	// status. Reports false if the payment was not pending anymore.
	FinishPayment(ctx context.Context, id int64, status PaymentStatus) (bool, error)

	LatestSucceededPayment(ctx context.Context, userID int64) (*Payment, error)
	RevenueSince(ctx context.Context, since time.Time) (decimal.Decimal, int, error)
}

type InviteStore interface {
	SaveInviteLink(ctx context.Context, link *InviteLink) error
	MarkInviteUsed(ctx context.Context, link string) error

	// InviteIssuedForPayment reports whether a link for this user/payment
	// pair is still outstanding or was already consumed. Expired unused
	// links do not count: those are spent without granting entry, so a
	// replacement may be issued.
	InviteIssuedForPayment(ctx context.Context, userID, paymentID int64, now time.Time) (bool, error)

	ExpiredUnusedLinks(ctx context.Context, now time.Time) ([]*InviteLink, error)
	DeleteInviteLink(ctx context.Context, id int64) error
}

type HistoryStore interface {
	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	UserHistory(ctx context.Context, userID int64) ([]*HistoryEntry, error)

	// GrantDays extends the subscription by the given number of days with
	// no payment linkage, in one transaction with the history append.
	GrantDays(ctx context.Context, userID int64, days int, historyType HistoryType) (*User, error)
}

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// EventGuard deduplicates webhook deliveries before any database work.
type EventGuard interface {
	// CheckAndMark records the event id and reports whether it was
	// already seen.
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	// Release forgets the event id so a redelivery can retry after a
	// processing failure.
	Release(ctx context.Context, eventID string) error
}

// PendingTracker remembers gateway payments awaiting a webhook so the
// reconciler can fall back to status polling.
type PendingTracker interface {
	TrackPending(ctx context.Context, externalID string, deadline time.Time) error
	DuePending(ctx context.Context, now time.Time) ([]string, error)
	ForgetPending(ctx context.Context, externalID string) error
}
