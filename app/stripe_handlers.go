package app

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"example/veritas-api/app/models"
	"example/veritas-api/app/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v79"
	portal "github.com/stripe/stripe-go/v79/billingportal/session"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

// CreateCheckoutSession starts a Stripe Checkout Session for the authenticated user.
func (s *Server) CreateCheckoutSession(c *gin.Context) {
	ctx := c.Request.Context()
	u, ok := s.requireAccount(c)
	if !ok {
		return
	}

	priceID := s.cfg.Stripe.PriceIDProMonthly
	frontendURL := strings.TrimRight(s.cfg.Stripe.FrontendURL, "/")
	if priceID == "" || frontendURL == "" {
		log.Ctx(ctx).Error().Bool("price_id", priceID != "").Bool("frontend_url", frontendURL != "").Msg("missing Stripe config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	customerID, err := s.ensureBillingCustomer(ctx, u)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("sub", u.AuthSub).Msg("ensure billing customer failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare billing"})
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(frontendURL + "/billing/success"),
		CancelURL:  stripe.String(frontendURL + "/billing/cancel"),
	}

	sess, err := session.New(params)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("stripe checkout session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}

// CreatePortalSession creates a Stripe Customer Portal session for the authenticated user.
func (s *Server) CreatePortalSession(c *gin.Context) {
	ctx := c.Request.Context()
	u, ok := s.requireAccount(c)
	if !ok {
		return
	}
	if u.BillingCustomerID == nil || *u.BillingCustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "billing customer missing for user"})
		return
	}

	frontendURL := strings.TrimRight(s.cfg.Stripe.FrontendURL, "/")
	if frontendURL == "" {
		log.Ctx(ctx).Error().Msg("missing Stripe config: frontend_url")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(*u.BillingCustomerID),
		ReturnURL: stripe.String(frontendURL + "/settings/billing"),
	}

	sess, err := portal.New(params)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("stripe portal session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create portal session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}

// StripeWebhook handles Stripe subscription events and updates user tiers.
func (s *Server) StripeWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	const maxBodyBytes = int64(65536)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("stripe webhook read failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	endpointSecret := s.cfg.Stripe.WebhookSecret
	if endpointSecret == "" {
		log.Ctx(ctx).Error().Msg("stripe webhook secret missing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		c.GetHeader("Stripe-Signature"),
		endpointSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("stripe webhook signature failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	logger := log.Ctx(ctx).With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()

	var update store.BillingUpdate
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			logger.Warn().Err(err).Msg("stripe session unmarshal failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session payload"})
			return
		}
		update = store.BillingUpdate{Tier: models.TierPro, Limit: s.entitlements.limitFor(models.TierPro)}
		if sess.Customer != nil {
			update.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil && sess.Subscription.ID != "" {
			id := sess.Subscription.ID
			update.SubscriptionID = &id
		}
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			logger.Warn().Err(err).Msg("stripe subscription unmarshal failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription payload"})
			return
		}
		update = s.subscriptionUpdate(&sub)
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			logger.Warn().Err(err).Msg("stripe subscription unmarshal failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription payload"})
			return
		}
		update = store.BillingUpdate{Tier: models.TierFree, Limit: s.entitlements.limitFor(models.TierFree)}
		if sub.Customer != nil {
			update.CustomerID = sub.Customer.ID
		}
	default:
		logger.Debug().Msg("stripe event ignored")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if update.CustomerID == "" {
		logger.Warn().Msg("stripe event missing customer id")
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing customer id"})
		return
	}

	if err := s.applyBillingUpdate(ctx, update); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn().Str("customer", update.CustomerID).Msg("stripe event for unknown customer")
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		logger.Error().Err(err).Str("customer", update.CustomerID).Msg("stripe tier update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
		return
	}

	logger.Info().Str("customer", update.CustomerID).Str("tier", string(update.Tier)).Msg("billing tier updated")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type redeemBetaRequest struct {
	Code string `json:"code"`
}

// RedeemBeta grants a time-limited beta tier to a free account that presents
// the configured access code.
func (s *Server) RedeemBeta(c *gin.Context) {
	ctx := c.Request.Context()
	expected := s.cfg.Limits.BetaCode
	if expected == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "beta program not available"})
		return
	}

	u, ok := s.requireAccount(c)
	if !ok {
		return
	}

	var req redeemBetaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	code := strings.TrimSpace(req.Code)
	if subtle.ConstantTimeCompare([]byte(code), []byte(expected)) != 1 {
		log.Ctx(ctx).Info().Str("sub", u.AuthSub).Msg("beta code rejected")
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid code"})
		return
	}
	if u.Tier != models.TierFree {
		c.JSON(http.StatusConflict, gin.H{"error": "account already upgraded", "tier": u.Tier})
		return
	}

	now := s.now()
	ends := now.Add(time.Duration(s.cfg.Limits.BetaDays) * 24 * time.Hour).UTC()
	if err := s.store.SetTier(ctx, u.ID, models.TierBeta, s.entitlements.limitFor(models.TierBeta), &ends, now); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("user_id", u.ID).Msg("beta grant failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update tier"})
		return
	}

	log.Ctx(ctx).Info().Int64("user_id", u.ID).Time("ends_at", ends).Msg("beta granted")
	c.JSON(http.StatusOK, gin.H{
		"tier":               models.TierBeta,
		"dailyLimit":         s.entitlements.limitFor(models.TierBeta),
		"subscriptionEndsAt": ends,
	})
}
