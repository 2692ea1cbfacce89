package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BatmanBruc/bat-bot-pass/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = buildPostgresDSNFromEnv()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func buildPostgresDSNFromEnv() string {
	host := strings.TrimSpace(os.Getenv("POSTGRES_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("POSTGRES_PORT"))
	if port == "" {
		port = "5432"
	}
	db := strings.TrimSpace(os.Getenv("POSTGRES_DB"))
	if db == "" {
		db = "bot_pass"
	}
	user := strings.TrimSpace(os.Getenv("POSTGRES_USER"))
	if user == "" {
		user = "bot_pass"
	}
	pass := os.Getenv("POSTGRES_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", urlEscape(user), urlEscape(pass), host, port, db)
}

func urlEscape(s string) string {
	r := strings.NewReplacer(
		"%", "%25",
		":", "%3A",
		"/", "%2F",
		"@", "%40",
		"?", "%3F",
		"#", "%23",
		"[", "%5B",
		"]", "%5D",
	)
	return r.Replace(s)
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

const userColumns = `user_id, username, first_name, last_name, subscription_end, subscription_status,
customer_id, total_payments, reminder_sent_days, is_active, last_activity, created_at, updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.UserID, &u.Username, &u.FirstName, &u.LastName, &u.SubscriptionEnd, &u.SubscriptionStatus,
		&u.CustomerID, &u.TotalPayments, &u.ReminderSentDays, &u.IsActive, &u.LastActivity, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user *types.User) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (user_id, username, first_name, last_name, subscription_end, subscription_status, last_activity)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (user_id) DO NOTHING;
`, user.UserID, strings.TrimSpace(user.Username), strings.TrimSpace(user.FirstName), strings.TrimSpace(user.LastName),
		user.SubscriptionEnd, user.SubscriptionStatus)
	return err
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, user *types.User) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
UPDATE users SET
  username = $2,
  first_name = $3,
  last_name = $4,
  last_activity = NOW(),
  updated_at = NOW()
WHERE user_id = $1;
`, user.UserID, strings.TrimSpace(user.Username), strings.TrimSpace(user.FirstName), strings.TrimSpace(user.LastName))
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanUser(s.pool.QueryRow(ctx, `
SELECT `+userColumns+`
FROM users
WHERE user_id = $1
`, userID))
}

func (s *PostgresStore) SetSubscriptionStatus(ctx context.Context, userID int64, status types.SubscriptionStatus, isActive bool) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE users SET subscription_status = $2, is_active = $3, updated_at = NOW()
WHERE user_id = $1
`, userID, status, isActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) usersWhere(ctx context.Context, cond string, args ...interface{}) ([]*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE `+cond, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UsersDueForExpiry covers freshly overdue subscriptions and expired
// users whose channel removal has not landed yet (is_active still set).
func (s *PostgresStore) UsersDueForExpiry(ctx context.Context, now time.Time) ([]*types.User, error) {
	return s.usersWhere(ctx, `
subscription_end IS NOT NULL
  AND subscription_end <= $1
  AND (subscription_status IN ('active', 'trial')
       OR (subscription_status = 'expired' AND is_active))
ORDER BY subscription_end
`, now)
}

func (s *PostgresStore) UsersExpiringWithin(ctx context.Context, now, until time.Time) ([]*types.User, error) {
	return s.usersWhere(ctx, `
subscription_status = 'active'
  AND subscription_end IS NOT NULL
  AND subscription_end > $1
  AND subscription_end <= $2
ORDER BY subscription_end
`, now, until)
}

func (s *PostgresStore) ActiveSubscribers(ctx context.Context, now time.Time) ([]*types.User, error) {
	return s.usersWhere(ctx, `
subscription_status IN ('active', 'trial')
  AND subscription_end IS NOT NULL
  AND subscription_end > $1
ORDER BY user_id
`, now)
}

func (s *PostgresStore) SetReminderSent(ctx context.Context, userID int64, days int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
UPDATE users SET reminder_sent_days = $2, updated_at = NOW()
WHERE user_id = $1
`, userID, days)
	return err
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[types.SubscriptionStatus]int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT subscription_status, COUNT(*)
FROM users
GROUP BY subscription_status
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.SubscriptionStatus]int)
	for rows.Next() {
		var status types.SubscriptionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

const paymentColumns = `id, user_id, external_id, amount, currency, status, description, metadata,
created_at, updated_at, completed_at`

func scanPayment(row pgx.Row) (*types.Payment, error) {
	var p types.Payment
	var externalID *string
	err := row.Scan(&p.ID, &p.UserID, &externalID, &p.Amount, &p.Currency, &p.Status, &p.Description, &p.Metadata,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	if externalID != nil {
		p.ExternalID = *externalID
	}
	return &p, nil
}

func (s *PostgresStore) CreatePayment(ctx context.Context, p *types.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var externalID *string
	if v := strings.TrimSpace(p.ExternalID); v != "" {
		externalID = &v
	}
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	return s.pool.QueryRow(ctx, `
INSERT INTO payments (user_id, external_id, amount, currency, status, description, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at, updated_at
`, p.UserID, externalID, p.Amount, strings.TrimSpace(p.Currency), p.Status, strings.TrimSpace(p.Description), p.Metadata).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (s *PostgresStore) GetPayment(ctx context.Context, id int64) (*types.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanPayment(s.pool.QueryRow(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE id = $1
`, id))
}

func (s *PostgresStore) GetPaymentByExternalID(ctx context.Context, externalID string) (*types.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanPayment(s.pool.QueryRow(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE external_id = $1
`, strings.TrimSpace(externalID)))
}

// ConfirmPayment applies a successful payment: the payment row goes
// succeeded, the subscription extends by one period stacking on the
// current end, and a history row records exactly the extended interval.
// The whole sequence is one transaction so a concurrent reconciler pass
// never observes a half-applied confirmation.
func (s *PostgresStore) ConfirmPayment(ctx context.Context, id int64, period time.Duration) (*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID int64
	var status types.PaymentStatus
	var amount decimal.Decimal
	err = tx.QueryRow(ctx, `
SELECT user_id, status, amount
FROM payments
WHERE id = $1
FOR UPDATE
`, id).Scan(&userID, &status, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	if status != types.PaymentPending {
		return nil, types.ErrPaymentNotPending
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
UPDATE payments SET status = 'succeeded', completed_at = $2, updated_at = NOW()
WHERE id = $1
`, id, now)
	if err != nil {
		return nil, err
	}

	var currentEnd *time.Time
	var subStatus types.SubscriptionStatus
	err = tx.QueryRow(ctx, `
SELECT subscription_end, subscription_status
FROM users
WHERE user_id = $1
FOR UPDATE
`, userID).Scan(&currentEnd, &subStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}

	start := now
	if currentEnd != nil && currentEnd.After(start) {
		start = *currentEnd
	}
	newEnd := start.Add(period)

	// A payment while suspended buys time but does not lift the
	// suspension; that needs an explicit admin unsuspend.
	newStatus := types.SubscriptionActive
	isActive := true
	if subStatus == types.SubscriptionSuspended {
		newStatus = types.SubscriptionSuspended
		isActive = false
	}

	user, err := scanUser(tx.QueryRow(ctx, `
UPDATE users SET
  subscription_end = $2,
  subscription_status = $3,
  is_active = $4,
  total_payments = total_payments + 1,
  reminder_sent_days = 0,
  updated_at = NOW()
WHERE user_id = $1
RETURNING `+userColumns+`
`, userID, newEnd, newStatus, isActive))
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO subscription_history (user_id, payment_id, start_date, end_date, amount_paid, type)
VALUES ($1, $2, $3, $4, $5, 'monthly')
`, userID, id, start, newEnd, amount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *PostgresStore) FinishPayment(ctx context.Context, id int64, status types.PaymentStatus) (bool, error) {
	if !status.Terminal() || status == types.PaymentSucceeded {
		return false, fmt.Errorf("finish payment: invalid target status %q", status)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE payments SET status = $2, updated_at = NOW()
WHERE id = $1 AND status = 'pending'
`, id, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) LatestSucceededPayment(ctx context.Context, userID int64) (*types.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanPayment(s.pool.QueryRow(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE user_id = $1 AND status = 'succeeded'
ORDER BY completed_at DESC NULLS LAST
LIMIT 1
`, userID))
}

func (s *PostgresStore) RevenueSince(ctx context.Context, since time.Time) (decimal.Decimal, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var total decimal.Decimal
	var count int
	err := s.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0), COUNT(*)
FROM payments
WHERE status = 'succeeded' AND completed_at >= $1
`, since).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return total, count, nil
}

func (s *PostgresStore) SaveInviteLink(ctx context.Context, link *types.InviteLink) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.QueryRow(ctx, `
INSERT INTO invite_links (user_id, payment_id, invite_link, expire_date, member_limit)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at
`, link.UserID, link.PaymentID, strings.TrimSpace(link.Link), link.ExpireDate, link.MemberLimit).
		Scan(&link.ID, &link.CreatedAt)
}

func (s *PostgresStore) MarkInviteUsed(ctx context.Context, link string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
UPDATE invite_links SET is_used = TRUE
WHERE invite_link = $1
`, strings.TrimSpace(link))
	return err
}

func (s *PostgresStore) InviteIssuedForPayment(ctx context.Context, userID, paymentID int64, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var ok bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(
  SELECT 1
  FROM invite_links
  WHERE user_id = $1
    AND payment_id = $2
    AND (is_used OR expire_date > $3)
)
`, userID, paymentID, now).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) ExpiredUnusedLinks(ctx context.Context, now time.Time) ([]*types.InviteLink, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, payment_id, invite_link, expire_date, member_limit, is_used, created_at
FROM invite_links
WHERE is_used = FALSE AND expire_date <= $1
`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*types.InviteLink
	for rows.Next() {
		var l types.InviteLink
		if err := rows.Scan(&l.ID, &l.UserID, &l.PaymentID, &l.Link, &l.ExpireDate, &l.MemberLimit, &l.IsUsed, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}

func (s *PostgresStore) DeleteInviteLink(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `DELETE FROM invite_links WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) AppendHistory(ctx context.Context, entry *types.HistoryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.QueryRow(ctx, `
INSERT INTO subscription_history (user_id, payment_id, start_date, end_date, amount_paid, type)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at
`, entry.UserID, entry.PaymentID, entry.StartDate, entry.EndDate, entry.AmountPaid, entry.Type).
		Scan(&entry.ID, &entry.CreatedAt)
}

func (s *PostgresStore) UserHistory(ctx context.Context, userID int64) ([]*types.HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, payment_id, start_date, end_date, amount_paid, type, created_at
FROM subscription_history
WHERE user_id = $1
ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*types.HistoryEntry
	for rows.Next() {
		var e types.HistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PaymentID, &e.StartDate, &e.EndDate, &e.AmountPaid, &e.Type, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// GrantDays is the administrative counterpart of ConfirmPayment: same
// stacking extension, no payment row, history typed by the grant reason.
func (s *PostgresStore) GrantDays(ctx context.Context, userID int64, days int, historyType types.HistoryType) (*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	var currentEnd *time.Time
	var subStatus types.SubscriptionStatus
	err = tx.QueryRow(ctx, `
SELECT subscription_end, subscription_status
FROM users
WHERE user_id = $1
FOR UPDATE
`, userID).Scan(&currentEnd, &subStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}

	start := now
	if currentEnd != nil && currentEnd.After(start) {
		start = *currentEnd
	}
	newEnd := start.Add(time.Duration(days) * 24 * time.Hour)

	newStatus := types.SubscriptionActive
	isActive := true
	if subStatus == types.SubscriptionSuspended {
		newStatus = types.SubscriptionSuspended
		isActive = false
	}

	user, err := scanUser(tx.QueryRow(ctx, `
UPDATE users SET
  subscription_end = $2,
  subscription_status = $3,
  is_active = $4,
  reminder_sent_days = 0,
  updated_at = NOW()
WHERE user_id = $1
RETURNING `+userColumns+`
`, userID, newEnd, newStatus, isActive))
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO subscription_history (user_id, start_date, end_date, amount_paid, type)
VALUES ($1, $2, $3, 0, $4)
`, userID, start, newEnd, historyType)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO system_settings (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET
  value = EXCLUDED.value,
  updated_at = NOW();
`, key, value)
	return err
}
