package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionActiveAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	cases := []struct {
		name   string
		user   User
		active bool
	}{
		{"active with time left", User{SubscriptionStatus: SubscriptionActive, SubscriptionEnd: &future}, true},
		{"trial with time left", User{SubscriptionStatus: SubscriptionTrial, SubscriptionEnd: &future}, true},
		{"active but overdue", User{SubscriptionStatus: SubscriptionActive, SubscriptionEnd: &past}, false},
		{"suspended with time left", User{SubscriptionStatus: SubscriptionSuspended, SubscriptionEnd: &future}, false},
		{"expired", User{SubscriptionStatus: SubscriptionExpired, SubscriptionEnd: &past}, false},
		{"never subscribed", User{SubscriptionStatus: SubscriptionExpired}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.active, c.user.SubscriptionActiveAt(now))
		})
	}
}

func TestDaysLeft(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	end := now.Add(5*24*time.Hour + time.Hour)
	u := User{SubscriptionEnd: &end}
	assert.Equal(t, 5, u.DaysLeft(now))

	end = now.Add(12 * time.Hour)
	assert.Equal(t, 0, u.DaysLeft(now))

	end = now.Add(-time.Hour)
	assert.Equal(t, 0, u.DaysLeft(now))
	assert.Equal(t, 0, (&User{}).DaysLeft(now))
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.False(t, PaymentPending.Terminal())
	assert.True(t, PaymentSucceeded.Terminal())
	assert.True(t, PaymentCanceled.Terminal())
	assert.True(t, PaymentFailed.Terminal())
}

func TestInviteLinkExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := InviteLink{ExpireDate: now.Add(time.Hour)}
	assert.False(t, l.ExpiredAt(now))
	l.ExpireDate = now.Add(-time.Hour)
	assert.True(t, l.ExpiredAt(now))
}
