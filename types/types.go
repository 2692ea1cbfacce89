package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	UserID             int64
	Username           string
	FirstName          string
	LastName           string
	SubscriptionEnd    *time.Time
	SubscriptionStatus SubscriptionStatus
	CustomerID         string // gateway-assigned customer reference, empty until known
	TotalPayments      int
	ReminderSentDays   int // last expiry-reminder threshold delivered for the current period
	IsActive           bool
	LastActivity       time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (u *User) FullName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}

// SubscriptionActiveAt reports whether the user should currently have
// channel access.
func (u *User) SubscriptionActiveAt(now time.Time) bool {
	if u.SubscriptionEnd == nil {
		return false
	}
	if u.SubscriptionStatus != SubscriptionActive && u.SubscriptionStatus != SubscriptionTrial {
		return false
	}
	return u.SubscriptionEnd.After(now)
}

func (u *User) DaysLeft(now time.Time) int {
	if u.SubscriptionEnd == nil || !u.SubscriptionEnd.After(now) {
		return 0
	}
	return int(u.SubscriptionEnd.Sub(now) / (24 * time.Hour))
}

type Payment struct {
	ID          int64
	UserID      int64
	ExternalID  string // id assigned by the gateway, empty until the payment is registered there
	Amount      decimal.Decimal
	Currency    string
	Status      PaymentStatus
	Description string
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

type InviteLink struct {
	ID         int64
	UserID     int64
	PaymentID  *int64 // nil for links issued on bonus/trial grants
	Link       string
	ExpireDate time.Time
	MemberLimit int
	IsUsed     bool
	CreatedAt  time.Time
}

func (l *InviteLink) ExpiredAt(now time.Time) bool {
	return l.ExpireDate.Before(now)
}

// HistoryEntry is one subscription period. Append-only: the audit trail
// for every subscription_end extension.
type HistoryEntry struct {
	ID         int64
	UserID     int64
	PaymentID  *int64
	StartDate  time.Time
	EndDate    time.Time
	AmountPaid decimal.Decimal
	Type       HistoryType
	CreatedAt  time.Time
}
