// Package app enforces daily analysis limits for authenticated users.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example/veritas-api/app/config"
	"example/veritas-api/app/models"
	"example/veritas-api/app/store"
	"example/veritas-api/auth"
)

// Decision is the outcome of an entitlement check.
type Decision struct {
	Allowed bool
	Tier    models.Tier
	Used    int
	Limit   int
	Exempt  bool
	Reason  string
	Account models.UserAccount
}

// Entitlements resolves whether an identity may start another analysis.
type Entitlements struct {
	store     *store.Store
	limits    config.LimitConfig
	unlimited map[string]struct{}
	now       func() time.Time
}

func NewEntitlements(s *store.Store, limits config.LimitConfig, unlimitedIDs []string, now func() time.Time) *Entitlements {
	set := make(map[string]struct{}, len(unlimitedIDs))
	for _, id := range unlimitedIDs {
		set[id] = struct{}{}
	}
	if limits.Free <= 0 {
		limits.Free = models.DefaultDailyLimit
	}
	if limits.Location == nil {
		limits.Location = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Entitlements{store: s, limits: limits, unlimited: set, now: now}
}

// startOfDay is local midnight for t in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Resolve loads or creates the account, applies the daily reset and beta
// expiry, and evaluates the limit. The counter is never incremented here.
func (e *Entitlements) Resolve(ctx context.Context, claims *auth.Claims) (Decision, error) {
	u, err := e.account(ctx, claims)
	if err != nil {
		return Decision{}, err
	}
	now := e.now()

	dayStart := startOfDay(now, e.limits.Location)
	if u.LastResetDate.Before(dayStart) {
		if _, err := e.store.ResetDailyCount(ctx, u.ID, dayStart, now); err != nil {
			return Decision{}, fmt.Errorf("reset daily count: %w", err)
		}
		u.TodayAnalysisCount = 0
		u.LastResetDate = now
	}

	if u.BetaExpired(now) {
		if _, err := e.store.DowngradeExpiredBeta(ctx, u.ID, e.limits.Free, now); err != nil {
			return Decision{}, fmt.Errorf("downgrade expired beta: %w", err)
		}
		u.Tier = models.TierFree
		u.DailyAnalysisLimit = e.limitFor(models.TierFree)
		u.SubscriptionEndsAt = nil
	}

	d := Decision{
		Tier:    u.Tier,
		Used:    u.TodayAnalysisCount,
		Limit:   u.DailyAnalysisLimit,
		Exempt:  e.isExempt(u),
		Account: u,
	}
	if !d.Exempt && d.Used >= d.Limit {
		d.Reason = fmt.Sprintf("Daily limit of %d analyses reached. Upgrade your plan or try again tomorrow.", d.Limit)
		return d, nil
	}
	d.Allowed = true
	return d, nil
}

// account returns the stored account for claims, creating it on first use.
func (e *Entitlements) account(ctx context.Context, claims *auth.Claims) (models.UserAccount, error) {
	if claims == nil || claims.Subject == "" {
		return models.UserAccount{}, errors.New("missing subject")
	}
	u, err := e.store.GetUserBySubject(ctx, claims.Subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.UserAccount{}, err
	}
	if err := e.store.EnsureUser(ctx, newUserFromClaims(claims, e.limits.Free), e.now()); err != nil {
		return models.UserAccount{}, fmt.Errorf("create user: %w", err)
	}
	return e.store.GetUserBySubject(ctx, claims.Subject)
}

// isExempt checks the resolved account against the configured allow-list of
// account subjects and the unlimited tier.
func (e *Entitlements) isExempt(u models.UserAccount) bool {
	if u.Tier == models.TierUnlimited {
		return true
	}
	_, ok := e.unlimited[u.AuthSub]
	return ok
}

// limitFor maps a tier to its configured daily allowance.
func (e *Entitlements) limitFor(t models.Tier) int {
	switch t {
	case models.TierBeta:
		return e.limits.Beta
	case models.TierPro, models.TierUnlimited:
		return e.limits.Pro
	}
	return e.limits.Free
}

// EntitlementView renders a decision for the entitlement endpoint.
func EntitlementView(d Decision) models.Entitlement {
	view := models.Entitlement{
		Tier:               d.Tier,
		DailyLimit:         d.Limit,
		Used:               d.Used,
		SubscriptionEndsAt: d.Account.SubscriptionEndsAt,
		BillingCustomerID:  d.Account.BillingCustomerID,
	}
	if d.Exempt {
		view.DailyLimit = models.Unlimited
		view.Remaining = models.Unlimited
		return view
	}
	view.Remaining = d.Limit - d.Used
	if view.Remaining < 0 {
		view.Remaining = 0
	}
	return view
}

func limitReachedBody(d Decision, message string) models.LimitReached {
	if message == "" {
		message = d.Reason
	}
	return models.LimitReached{
		Error:   "limit_reached",
		Message: message,
		Limit:   d.Limit,
		Used:    d.Used,
		Tier:    d.Tier,
	}
}
