package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"example/veritas-api/app/models"
)

// NewUser describes the row inserted for a first-time subject.
type NewUser struct {
	Subject string
	Email   string
	Name    string
	Tier    models.Tier
	Limit   int
}

const userColumns = `
	id, auth_sub, email, name, tier, daily_analysis_limit, today_analysis_count,
	last_reset_date, subscription_ends_at, billing_customer_id, billing_subscription_id,
	created_at, updated_at`

// EnsureUser creates a user row if it does not already exist.
func (s *Store) EnsureUser(ctx context.Context, u NewUser, now time.Time) error {
	if u.Tier == "" {
		u.Tier = models.TierFree
	}
	if u.Limit <= 0 {
		u.Limit = models.DefaultDailyLimit
	}
	now = ts(now)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (auth_sub, email, name, tier, daily_analysis_limit, today_analysis_count,
			last_reset_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6, $6)
		ON CONFLICT (auth_sub) DO NOTHING;
	`, u.Subject, nullIfEmpty(u.Email), nullIfEmpty(u.Name), string(u.Tier), u.Limit, now)
	return err
}

func (s *Store) GetUserBySubject(ctx context.Context, sub string) (models.UserAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE auth_sub = $1;`, sub)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (models.UserAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1;`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (models.UserAccount, error) {
	var (
		u              models.UserAccount
		tier           string
		email, name    sql.NullString
		customerID     sql.NullString
		subscriptionID sql.NullString
		endsAt         sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.AuthSub,
		&email,
		&name,
		&tier,
		&u.DailyAnalysisLimit,
		&u.TodayAnalysisCount,
		&u.LastResetDate,
		&endsAt,
		&customerID,
		&subscriptionID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.UserAccount{}, ErrNotFound
		}
		return models.UserAccount{}, err
	}
	u.Tier = models.Tier(tier)
	u.Email = email.String
	u.Name = name.String
	u.SubscriptionEndsAt = timePtr(endsAt)
	u.BillingCustomerID = stringPtr(customerID)
	u.BillingSubscriptionID = stringPtr(subscriptionID)
	return u, nil
}

// ResetDailyCount zeroes the counter when the last reset happened before
// dayStart. It reports whether a reset took place.
func (s *Store) ResetDailyCount(ctx context.Context, userID int64, dayStart, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET today_analysis_count = 0, last_reset_date = $1, updated_at = $1
		WHERE id = $2 AND last_reset_date < $3;
	`, ts(now), userID, ts(dayStart))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// IncrementUsage adds one analysis to today's count as a relative update.
func (s *Store) IncrementUsage(ctx context.Context, userID int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET today_analysis_count = today_analysis_count + 1, updated_at = $1
		WHERE id = $2;
	`, ts(now), userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DowngradeExpiredBeta moves one lapsed beta account back to the free tier.
func (s *Store) DowngradeExpiredBeta(ctx context.Context, userID int64, freeLimit int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET tier = $1, daily_analysis_limit = $2, subscription_ends_at = NULL, updated_at = $3
		WHERE id = $4 AND tier = $5 AND subscription_ends_at IS NOT NULL AND subscription_ends_at < $3;
	`, string(models.TierFree), freeLimit, ts(now), userID, string(models.TierBeta))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DowngradeAllExpiredBeta sweeps every lapsed beta account.
func (s *Store) DowngradeAllExpiredBeta(ctx context.Context, freeLimit int, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET tier = $1, daily_analysis_limit = $2, subscription_ends_at = NULL, updated_at = $3
		WHERE tier = $4 AND subscription_ends_at IS NOT NULL AND subscription_ends_at < $3;
	`, string(models.TierFree), freeLimit, ts(now), string(models.TierBeta))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetTier changes a user's tier, limit and expiry.
func (s *Store) SetTier(ctx context.Context, userID int64, tier models.Tier, limit int, endsAt *time.Time, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET tier = $1, daily_analysis_limit = $2, subscription_ends_at = $3, updated_at = $4
		WHERE id = $5;
	`, string(tier), limit, nullTime(endsAt), ts(now), userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetBillingCustomer(ctx context.Context, sub, customerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET billing_customer_id = $1
		WHERE auth_sub = $2;
	`, customerID, sub)
	return err
}

// BillingUpdate is applied to the account owning a billing customer id.
type BillingUpdate struct {
	CustomerID     string
	SubscriptionID *string
	Tier           models.Tier
	Limit          int
	EndsAt         *time.Time
}

// UpdateTierByBillingCustomer returns the number of accounts changed.
func (s *Store) UpdateTierByBillingCustomer(ctx context.Context, u BillingUpdate, now time.Time) (int64, error) {
	if u.CustomerID == "" {
		return 0, errors.New("missing billing customer id")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET tier = $1, daily_analysis_limit = $2, subscription_ends_at = $3,
			billing_subscription_id = COALESCE($4, billing_subscription_id), updated_at = $5
		WHERE billing_customer_id = $6;
	`, string(u.Tier), u.Limit, nullTime(u.EndsAt), nullString(u.SubscriptionID), ts(now), u.CustomerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
