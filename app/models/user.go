// Package models defines user tiers and daily usage tracking fields.
package models

import "time"

type Tier string

const (
	TierFree      Tier = "free"
	TierBeta      Tier = "beta"
	TierPro       Tier = "pro"
	TierUnlimited Tier = "unlimited"
)

// DefaultDailyLimit is the analysis allowance for a newly created free account.
const DefaultDailyLimit = 5

// Unlimited marks dailyLimit/remaining in entitlement responses.
const Unlimited = -1

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBeta, TierPro, TierUnlimited:
		return true
	}
	return false
}

type UserAccount struct {
	ID                    int64      `db:"id"`
	AuthSub               string     `db:"auth_sub"`
	Email                 string     `db:"email"`
	Name                  string     `db:"name"`
	Tier                  Tier       `db:"tier"`
	DailyAnalysisLimit    int        `db:"daily_analysis_limit"`
	TodayAnalysisCount    int        `db:"today_analysis_count"`
	LastResetDate         time.Time  `db:"last_reset_date"`
	SubscriptionEndsAt    *time.Time `db:"subscription_ends_at"`
	BillingCustomerID     *string    `db:"billing_customer_id"`
	BillingSubscriptionID *string    `db:"billing_subscription_id"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

// BetaExpired reports whether a beta grant has lapsed at now.
func (u UserAccount) BetaExpired(now time.Time) bool {
	return u.Tier == TierBeta && u.SubscriptionEndsAt != nil && u.SubscriptionEndsAt.Before(now)
}

// Entitlement is the persisted entitlement query response.
type Entitlement struct {
	Tier               Tier       `json:"tier"`
	DailyLimit         int        `json:"dailyLimit"`
	Used               int        `json:"used"`
	Remaining          int        `json:"remaining"`
	SubscriptionEndsAt *time.Time `json:"subscriptionEndsAt"`
	BillingCustomerID  *string    `json:"billingCustomerId"`
}
