package types

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionTrial     SubscriptionStatus = "trial"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentCanceled  PaymentStatus = "canceled"
	PaymentFailed    PaymentStatus = "failed"
)

// Terminal reports whether no further status transitions are permitted.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentSucceeded, PaymentCanceled, PaymentFailed:
		return true
	}
	return false
}

type HistoryType string

const (
	HistoryMonthly HistoryType = "monthly"
	HistoryTrial   HistoryType = "trial"
	HistoryBonus   HistoryType = "bonus"
)
