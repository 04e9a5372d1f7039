package app

import (
	"time"

	"example/veritas-api/auth"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the shared HTTP router for both local and Lambda execution.
func NewRouter(s *Server) (*gin.Engine, error) {
	authCfg := s.cfg.Auth
	verifier := s.verifier
	if verifier == nil && !authCfg.Disabled {
		v, err := auth.NewVerifierFromConfig(authCfg)
		if err != nil {
			return nil, err
		}
		verifier = v
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  s.cfg.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{requestIDHeader, "Retry-After"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/health", s.Health)
	router.POST("/api/stripe/webhook", s.StripeWebhook)

	protected := router.Group("/api")
	protected.Use(auth.Middleware(verifier, auth.MiddlewareConfig{
		DisableAuth: authCfg.Disabled,
		OnAuthenticated: func(c *gin.Context, claims *auth.Claims) error {
			return s.UpsertUserFromClaims(c.Request.Context(), claims)
		},
	}))

	analyze := protected.Group("/analyze")
	analyze.Use(RateLimit(s.cfg.RateLimit, s.redis))
	analyze.POST("/stream", s.AnalyzeStream)
	analyze.POST("", s.Analyze)

	protected.GET("/user/entitlement", s.Entitlement)
	protected.GET("/history", s.ListHistory)
	protected.GET("/history/stats", s.HistoryStats)
	protected.DELETE("/history", s.ClearHistory)
	protected.POST("/billing/create-checkout-session", s.CreateCheckoutSession)
	protected.POST("/billing/portal-session", s.CreatePortalSession)
	protected.POST("/billing/redeem-beta", s.RedeemBeta)

	return router, nil
}
