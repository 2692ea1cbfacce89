package subscription

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BatmanBruc/bat-bot-pass/internal/yookassa"
	"github.com/BatmanBruc/bat-bot-pass/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	users    map[int64]*types.User
	payments map[int64]*types.Payment
	history  []*types.HistoryEntry
	settings map[string]string
	nextID   int64
	now      func() time.Time
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{
		users:    map[int64]*types.User{},
		payments: map[int64]*types.Payment{},
		settings: map[string]string{},
		now:      now,
	}
}

func (f *fakeStore) InsertUser(_ context.Context, u *types.User) error {
	cp := *u
	f.users[u.UserID] = &cp
	return nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, u *types.User) error {
	stored, ok := f.users[u.UserID]
	if !ok {
		return types.ErrNotFound
	}
	stored.Username = u.Username
	stored.FirstName = u.FirstName
	stored.LastName = u.LastName
	return nil
}

func (f *fakeStore) GetUser(_ context.Context, userID int64) (*types.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) SetSubscriptionStatus(_ context.Context, userID int64, status types.SubscriptionStatus, isActive bool) error {
	u, ok := f.users[userID]
	if !ok {
		return types.ErrNotFound
	}
	u.SubscriptionStatus = status
	u.IsActive = isActive
	return nil
}

func (f *fakeStore) UsersDueForExpiry(_ context.Context, now time.Time) ([]*types.User, error) {
	var out []*types.User
	for _, u := range f.users {
		if u.SubscriptionEnd == nil || u.SubscriptionEnd.After(now) {
			continue
		}
		switch u.SubscriptionStatus {
		case types.SubscriptionActive, types.SubscriptionTrial:
		case types.SubscriptionExpired:
			if !u.IsActive {
				continue
			}
		default:
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) UsersExpiringWithin(_ context.Context, now, until time.Time) ([]*types.User, error) {
	var out []*types.User
	for _, u := range f.users {
		if u.SubscriptionStatus != types.SubscriptionActive {
			continue
		}
		if u.SubscriptionEnd != nil && u.SubscriptionEnd.After(now) && u.SubscriptionEnd.Before(until) {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveSubscribers(_ context.Context, now time.Time) ([]*types.User, error) {
	var out []*types.User
	for _, u := range f.users {
		if u.SubscriptionActiveAt(now) {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) SetReminderSent(_ context.Context, userID int64, days int) error {
	u, ok := f.users[userID]
	if !ok {
		return types.ErrNotFound
	}
	u.ReminderSentDays = days
	return nil
}

func (f *fakeStore) CountByStatus(_ context.Context) (map[types.SubscriptionStatus]int, error) {
	out := map[types.SubscriptionStatus]int{}
	for _, u := range f.users {
		out[u.SubscriptionStatus]++
	}
	return out, nil
}

func (f *fakeStore) CreatePayment(_ context.Context, p *types.Payment) error {
	f.nextID++
	p.ID = f.nextID
	cp := *p
	f.payments[p.ID] = &cp
	return nil
}

func (f *fakeStore) GetPayment(_ context.Context, id int64) (*types.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetPaymentByExternalID(_ context.Context, externalID string) (*types.Payment, error) {
	for _, p := range f.payments {
		if p.ExternalID == externalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, types.ErrNotFound
}

func (f *fakeStore) ConfirmPayment(_ context.Context, id int64, period time.Duration) (*types.User, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if p.Status != types.PaymentPending {
		return nil, types.ErrPaymentNotPending
	}
	u, ok := f.users[p.UserID]
	if !ok {
		return nil, types.ErrNotFound
	}

	now := f.now()
	p.Status = types.PaymentSucceeded
	completed := now
	p.CompletedAt = &completed

	start := now
	if u.SubscriptionEnd != nil && u.SubscriptionEnd.After(now) {
		start = *u.SubscriptionEnd
	}
	end := start.Add(period)
	u.SubscriptionEnd = &end
	if u.SubscriptionStatus != types.SubscriptionSuspended {
		u.SubscriptionStatus = types.SubscriptionActive
		u.IsActive = true
	}
	u.TotalPayments++
	u.ReminderSentDays = 0

	pid := p.ID
	f.history = append(f.history, &types.HistoryEntry{
		UserID:     u.UserID,
		PaymentID:  &pid,
		StartDate:  now,
		EndDate:    end,
		AmountPaid: p.Amount,
		Type:       types.HistoryMonthly,
	})
	cp := *u
	return &cp, nil
}

func (f *fakeStore) FinishPayment(_ context.Context, id int64, status types.PaymentStatus) (bool, error) {
	p, ok := f.payments[id]
	if !ok {
		return false, types.ErrNotFound
	}
	if p.Status != types.PaymentPending {
		return false, nil
	}
	p.Status = status
	completed := f.now()
	p.CompletedAt = &completed
	return true, nil
}

func (f *fakeStore) LatestSucceededPayment(_ context.Context, userID int64) (*types.Payment, error) {
	var latest *types.Payment
	for _, p := range f.payments {
		if p.UserID != userID || p.Status != types.PaymentSucceeded {
			continue
		}
		if latest == nil || p.ID > latest.ID {
			latest = p
		}
	}
	if latest == nil {
		return nil, types.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) RevenueSince(_ context.Context, since time.Time) (decimal.Decimal, int, error) {
	total := decimal.Zero
	count := 0
	for _, p := range f.payments {
		if p.Status == types.PaymentSucceeded && p.CompletedAt != nil && p.CompletedAt.After(since) {
			total = total.Add(p.Amount)
			count++
		}
	}
	return total, count, nil
}

func (f *fakeStore) AppendHistory(_ context.Context, e *types.HistoryEntry) error {
	cp := *e
	f.history = append(f.history, &cp)
	return nil
}

func (f *fakeStore) UserHistory(_ context.Context, userID int64) ([]*types.HistoryEntry, error) {
	var out []*types.HistoryEntry
	for _, e := range f.history {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) GrantDays(_ context.Context, userID int64, days int, historyType types.HistoryType) (*types.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, types.ErrNotFound
	}
	now := f.now()
	start := now
	if u.SubscriptionEnd != nil && u.SubscriptionEnd.After(now) {
		start = *u.SubscriptionEnd
	}
	end := start.Add(time.Duration(days) * 24 * time.Hour)
	u.SubscriptionEnd = &end
	if u.SubscriptionStatus != types.SubscriptionSuspended {
		u.SubscriptionStatus = types.SubscriptionActive
		u.IsActive = true
	}
	u.ReminderSentDays = 0
	f.history = append(f.history, &types.HistoryEntry{
		UserID:     userID,
		StartDate:  now,
		EndDate:    end,
		AmountPaid: decimal.Zero,
		Type:       historyType,
	})
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetSetting(_ context.Context, key string) (string, error) {
	v, ok := f.settings[key]
	if !ok {
		return "", types.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) SetSetting(_ context.Context, key, value string) error {
	f.settings[key] = value
	return nil
}

type fakeGateway struct {
	created    []string
	getStatus  string
	failCreate bool
}

func (f *fakeGateway) CreatePayment(_ context.Context, amount decimal.Decimal, currency, description string, userID int64, botPaymentID, returnURL string) (*yookassa.CreatedPayment, error) {
	if f.failCreate {
		return nil, fmt.Errorf("gateway unavailable")
	}
	id := fmt.Sprintf("ext-%d", len(f.created)+1)
	f.created = append(f.created, id)
	return &yookassa.CreatedPayment{
		ExternalID:      id,
		Status:          yookassa.StatusPending,
		ConfirmationURL: "https://pay.example/" + id,
	}, nil
}

func (f *fakeGateway) GetPayment(_ context.Context, externalID string) (*yookassa.PaymentInfo, error) {
	return &yookassa.PaymentInfo{ExternalID: externalID, Status: f.getStatus}, nil
}

func (f *fakeGateway) CancelPayment(_ context.Context, externalID string) error {
	return nil
}

type fakeMessenger struct {
	sent    map[int64][]string
	removed []int64
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{sent: map[int64][]string{}}
}

func (f *fakeMessenger) SendMessage(_ context.Context, userID int64, text string) error {
	f.sent[userID] = append(f.sent[userID], text)
	return nil
}

func (f *fakeMessenger) RemoveMember(_ context.Context, userID int64) error {
	f.removed = append(f.removed, userID)
	return nil
}

type fakePending struct {
	tracked map[string]time.Time
}

func newFakePending() *fakePending {
	return &fakePending{tracked: map[string]time.Time{}}
}

func (f *fakePending) TrackPending(_ context.Context, externalID string, deadline time.Time) error {
	f.tracked[externalID] = deadline
	return nil
}

func (f *fakePending) DuePending(_ context.Context, now time.Time) ([]string, error) {
	var out []string
	for id, dl := range f.tracked {
		if !dl.After(now) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakePending) ForgetPending(_ context.Context, externalID string) error {
	delete(f.tracked, externalID)
	return nil
}

type serviceFixture struct {
	svc       *Service
	store     *fakeStore
	gateway   *fakeGateway
	messenger *fakeMessenger
	pending   *fakePending
	now       time.Time
}

func newServiceFixture(t *testing.T, cfg Config) *serviceFixture {
	t.Helper()
	fx := &serviceFixture{
		now:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		gateway:   &fakeGateway{},
		messenger: newFakeMessenger(),
		pending:   newFakePending(),
	}
	fx.store = newFakeStore(func() time.Time { return fx.now })
	if cfg.PeriodDays == 0 {
		cfg.PeriodDays = 30
	}
	if cfg.Price.IsZero() {
		cfg.Price = decimal.NewFromInt(500)
	}
	if cfg.Currency == "" {
		cfg.Currency = "RUB"
	}
	if cfg.WebhookWait == 0 {
		cfg.WebhookWait = 15 * time.Minute
	}
	fx.svc = NewService(fx.store, fx.gateway, fx.messenger, fx.pending, cfg, zerolog.Nop())
	fx.svc.nowFn = func() time.Time { return fx.now }
	return fx
}

func (fx *serviceFixture) addUser(userID int64, status types.SubscriptionStatus, end *time.Time) {
	fx.store.users[userID] = &types.User{
		UserID:             userID,
		SubscriptionStatus: status,
		SubscriptionEnd:    end,
		IsActive:           status != types.SubscriptionSuspended,
	}
}

func (fx *serviceFixture) addPendingPayment(userID int64, externalID string) *types.Payment {
	p := &types.Payment{
		UserID:     userID,
		ExternalID: externalID,
		Amount:     decimal.NewFromInt(500),
		Currency:   "RUB",
		Status:     types.PaymentPending,
	}
	_ = fx.store.CreatePayment(context.Background(), p)
	return p
}

func TestRegisterUserNewWithoutTrial(t *testing.T) {
	fx := newServiceFixture(t, Config{})

	user, created, err := fx.svc.RegisterUser(context.Background(), 42, "ivan", "Иван", "Петров")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.SubscriptionExpired, user.SubscriptionStatus)
	assert.Nil(t, user.SubscriptionEnd)
	assert.Empty(t, fx.store.history)
}

func TestRegisterUserNewWithTrial(t *testing.T) {
	fx := newServiceFixture(t, Config{TrialDays: 3})

	user, created, err := fx.svc.RegisterUser(context.Background(), 42, "ivan", "Иван", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.SubscriptionTrial, user.SubscriptionStatus)
	require.NotNil(t, user.SubscriptionEnd)
	assert.Equal(t, fx.now.Add(3*24*time.Hour), *user.SubscriptionEnd)

	require.Len(t, fx.store.history, 1)
	assert.Equal(t, types.HistoryTrial, fx.store.history[0].Type)
}

func TestRegisterUserExistingUpdatesProfile(t *testing.T) {
	fx := newServiceFixture(t, Config{TrialDays: 3})
	end := fx.now.Add(10 * 24 * time.Hour)
	fx.addUser(42, types.SubscriptionActive, &end)

	user, created, err := fx.svc.RegisterUser(context.Background(), 42, "new_name", "Иван", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "new_name", user.Username)
	// No second trial for a returning user.
	assert.Equal(t, types.SubscriptionActive, fx.store.users[42].SubscriptionStatus)
	assert.Empty(t, fx.store.history)
}

func TestStartPayment(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	fx.addUser(42, types.SubscriptionExpired, nil)
	user, err := fx.store.GetUser(context.Background(), 42)
	require.NoError(t, err)

	p, url, err := fx.svc.StartPayment(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/ext-1", url)
	assert.Equal(t, types.PaymentPending, p.Status)
	assert.Equal(t, "ext-1", p.ExternalID)
	assert.NotEmpty(t, p.Metadata[yookassa.MetaBotPaymentID])

	deadline, ok := fx.pending.tracked["ext-1"]
	require.True(t, ok)
	assert.Equal(t, fx.now.Add(15*time.Minute), deadline)
}

func TestStartPaymentGatewayFailureLeavesNoRow(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	fx.addUser(42, types.SubscriptionExpired, nil)
	fx.gateway.failCreate = true
	user, _ := fx.store.GetUser(context.Background(), 42)

	_, _, err := fx.svc.StartPayment(context.Background(), user)
	require.Error(t, err)
	assert.Empty(t, fx.store.payments)
	assert.Empty(t, fx.pending.tracked)
}

func TestConfirmPaymentFirstSubscription(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	fx.addUser(42, types.SubscriptionExpired, nil)
	p := fx.addPendingPayment(42, "ext-1")
	fx.pending.tracked["ext-1"] = fx.now.Add(time.Minute)

	user, err := fx.svc.ConfirmPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionActive, user.SubscriptionStatus)
	require.NotNil(t, user.SubscriptionEnd)
	assert.Equal(t, fx.now.Add(30*24*time.Hour), *user.SubscriptionEnd)
	assert.Equal(t, 1, user.TotalPayments)

	assert.Empty(t, fx.pending.tracked)
	require.Len(t, fx.messenger.sent[42], 1)
	require.Len(t, fx.store.history, 1)
	assert.Equal(t, types.HistoryMonthly, fx.store.history[0].Type)
}

func TestConfirmPaymentStacksOnRemainingTime(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	end := fx.now.Add(10 * 24 * time.Hour)
	fx.addUser(42, types.SubscriptionActive, &end)
	p := fx.addPendingPayment(42, "ext-1")

	user, err := fx.svc.ConfirmPayment(context.Background(), p.ID)
	require.NoError(t, err)
	// 10 days remaining plus a 30-day period.
	assert.Equal(t, fx.now.Add(40*24*time.Hour), *user.SubscriptionEnd)
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	fx.addUser(42, types.SubscriptionExpired, nil)
	p := fx.addPendingPayment(42, "ext-1")

	first, err := fx.svc.ConfirmPayment(context.Background(), p.ID)
	require.NoError(t, err)

	_, err = fx.svc.ConfirmPayment(context.Background(), p.ID)
	require.ErrorIs(t, err, types.ErrPaymentNotPending)

	// The second delivery must not move the end date or add history.
	assert.Equal(t, *first.SubscriptionEnd, *fx.store.users[42].SubscriptionEnd)
	assert.Equal(t, 1, fx.store.users[42].TotalPayments)
	assert.Len(t, fx.store.history, 1)
	assert.Len(t, fx.messenger.sent[42], 1)
}

func TestConfirmPaymentWhileSuspendedKeepsSuspension(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	fx.addUser(42, types.SubscriptionSuspended, nil)
	fx.store.users[42].IsActive = false
	p := fx.addPendingPayment(42, "ext-1")

	user, err := fx.svc.ConfirmPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionSuspended, user.SubscriptionStatus)
	assert.False(t, user.IsActive)
	require.NotNil(t, user.SubscriptionEnd)
	assert.Equal(t, fx.now.Add(30*24*time.Hour), *user.SubscriptionEnd)
}

func TestFailPayment(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	fx.addUser(42, types.SubscriptionExpired, nil)
	p := fx.addPendingPayment(42, "ext-1")
	fx.pending.tracked["ext-1"] = fx.now.Add(time.Minute)

	require.NoError(t, fx.svc.FailPayment(context.Background(), p.ID, types.PaymentCanceled, "Платеж отменен"))
	assert.Equal(t, types.PaymentCanceled, fx.store.payments[p.ID].Status)
	assert.Empty(t, fx.pending.tracked)
	assert.Len(t, fx.messenger.sent[42], 1)

	// Duplicate delivery stays quiet.
	require.NoError(t, fx.svc.FailPayment(context.Background(), p.ID, types.PaymentCanceled, "Платеж отменен"))
	assert.Len(t, fx.messenger.sent[42], 1)
}

func TestResolveFromGatewaySucceeded(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	fx.addUser(42, types.SubscriptionExpired, nil)
	p := fx.addPendingPayment(42, "ext-1")
	fx.pending.tracked["ext-1"] = fx.now.Add(-time.Minute)
	fx.gateway.getStatus = yookassa.StatusSucceeded

	require.NoError(t, fx.svc.ResolveFromGateway(context.Background(), p))
	assert.Equal(t, types.PaymentSucceeded, fx.store.payments[p.ID].Status)
	assert.Equal(t, types.SubscriptionActive, fx.store.users[42].SubscriptionStatus)
	assert.Empty(t, fx.pending.tracked)
}

func TestResolveFromGatewayStillPending(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	fx.addUser(42, types.SubscriptionExpired, nil)
	p := fx.addPendingPayment(42, "ext-1")
	fx.pending.tracked["ext-1"] = fx.now.Add(-time.Minute)
	fx.gateway.getStatus = yookassa.StatusPending

	require.NoError(t, fx.svc.ResolveFromGateway(context.Background(), p))
	assert.Equal(t, types.PaymentPending, fx.store.payments[p.ID].Status)
	assert.Contains(t, fx.pending.tracked, "ext-1")
}

func TestGrantBonus(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	end := fx.now.Add(5 * 24 * time.Hour)
	fx.addUser(42, types.SubscriptionActive, &end)

	user, err := fx.svc.GrantBonus(context.Background(), 42, 7, "компенсация")
	require.NoError(t, err)
	assert.Equal(t, fx.now.Add(12*24*time.Hour), *user.SubscriptionEnd)
	require.Len(t, fx.store.history, 1)
	assert.Equal(t, types.HistoryBonus, fx.store.history[0].Type)

	_, err = fx.svc.GrantBonus(context.Background(), 42, 0, "")
	require.Error(t, err)
	_, err = fx.svc.GrantBonus(context.Background(), 42, -5, "")
	require.Error(t, err)
}

func TestSuspendAndUnsuspend(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	end := fx.now.Add(10 * 24 * time.Hour)
	fx.addUser(42, types.SubscriptionActive, &end)

	require.NoError(t, fx.svc.Suspend(context.Background(), 42, "chargeback"))
	assert.Equal(t, types.SubscriptionSuspended, fx.store.users[42].SubscriptionStatus)
	assert.False(t, fx.store.users[42].IsActive)
	assert.Equal(t, []int64{42}, fx.messenger.removed)

	user, err := fx.svc.Unsuspend(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionActive, user.SubscriptionStatus)
	assert.True(t, user.IsActive)
}

func TestUnsuspendExpiredEndsUpExpired(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	end := fx.now.Add(-24 * time.Hour)
	fx.addUser(42, types.SubscriptionSuspended, &end)

	user, err := fx.svc.Unsuspend(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionExpired, user.SubscriptionStatus)
	// No remaining time means no access to restore, and the reconciler
	// must not treat this as a pending removal.
	assert.False(t, user.IsActive)
}

func TestMaintenanceMode(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	ctx := context.Background()

	assert.False(t, fx.svc.MaintenanceMode(ctx))
	require.NoError(t, fx.svc.SetMaintenanceMode(ctx, true))
	assert.True(t, fx.svc.MaintenanceMode(ctx))
	require.NoError(t, fx.svc.SetMaintenanceMode(ctx, false))
	assert.False(t, fx.svc.MaintenanceMode(ctx))
}
