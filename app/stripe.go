package app

import (
	"context"
	"errors"
	"time"

	"example/veritas-api/app/models"
	"example/veritas-api/app/store"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"
)

// InitStripe wires the Stripe API key.
func InitStripe(secretKey string) {
	stripe.Key = secretKey
}

// ensureBillingCustomer finds or creates a Stripe Customer for the account.
// New customers carry metadata auth_sub = <subject> and are stored on the
// users row.
func (s *Server) ensureBillingCustomer(ctx context.Context, u models.UserAccount) (string, error) {
	if u.AuthSub == "" {
		return "", errors.New("missing auth subject")
	}
	if u.BillingCustomerID != nil && *u.BillingCustomerID != "" {
		return *u.BillingCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Metadata: map[string]string{
			"auth_sub": u.AuthSub,
		},
	}
	if u.Email != "" {
		params.Email = stripe.String(u.Email)
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", err
	}

	if err := s.store.SetBillingCustomer(ctx, u.AuthSub, cust.ID); err != nil {
		return "", err
	}
	return cust.ID, nil
}

// subscriptionUpdate maps a Stripe subscription to the tier it grants.
// Active and trialing subscriptions are pro until the current period ends;
// every other status falls back to free.
func (s *Server) subscriptionUpdate(sub *stripe.Subscription) store.BillingUpdate {
	u := store.BillingUpdate{Tier: models.TierFree, Limit: s.entitlements.limitFor(models.TierFree)}
	if sub.Customer != nil {
		u.CustomerID = sub.Customer.ID
	}
	if sub.ID != "" {
		id := sub.ID
		u.SubscriptionID = &id
	}
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		u.Tier = models.TierPro
		u.Limit = s.entitlements.limitFor(models.TierPro)
		if sub.CurrentPeriodEnd > 0 {
			ends := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			u.EndsAt = &ends
		}
	}
	return u
}

func (s *Server) applyBillingUpdate(ctx context.Context, u store.BillingUpdate) error {
	if u.CustomerID == "" {
		return errors.New("missing billing customer id")
	}
	n, err := s.store.UpdateTierByBillingCustomer(ctx, u, s.now())
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
