package handler

import (
	"lead-ledger/config"
	"lead-ledger/internal/adapter/http/middleware"
	"lead-ledger/internal/core/ports"
	"lead-ledger/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Ledger         ports.LedgerService
	Workflow       ports.WorkflowService
	TokenSvc       ports.TokenService
	Subscriber     Subscriber           // nil = realtime endpoint disabled
	RateLimitStore ports.RateLimitStore // nil = rate limiting disabled
	RateLimit      config.RateLimitConfig
	HealthCheckers []ports.HealthChecker
	PageSize       int
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger, deps.Metrics))
	r.Use(middleware.MaxBodySize(1 << 20))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	rl := func(c *gin.Context) { c.Next() }
	if deps.RateLimitStore != nil && deps.RateLimit.Enabled {
		rule := middleware.RateLimitRule{Limit: deps.RateLimit.Limit, Window: deps.RateLimit.Window}
		rl = middleware.RateLimiter(deps.RateLimitStore, "api", rule, deps.Logger)
	}

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	admin := middleware.RequireAdmin()

	v1 := r.Group("/api/v1", jwtAuth, rl)

	walletHandler := NewWalletHandler(deps.Ledger, deps.PageSize)
	wallets := v1.Group("/wallets/me")
	{
		wallets.POST("", walletHandler.OpenMine)
		wallets.GET("", walletHandler.GetMine)
		wallets.GET("/transactions", walletHandler.ListMine)
	}

	adminWallets := v1.Group("/admin/wallets", admin)
	{
		adminWallets.POST("", walletHandler.Open)
		adminWallets.GET("/:id", walletHandler.Get)
		adminWallets.GET("/:id/balance", walletHandler.Balance)
		adminWallets.GET("/:id/transactions", walletHandler.ListTransactions)
		adminWallets.POST("/:id/transactions", walletHandler.PostTransaction)
		adminWallets.POST("/:id/reconcile", walletHandler.Reconcile)
	}

	leadHandler := NewLeadRequestHandler(deps.Workflow, deps.PageSize)
	leads := v1.Group("/lead-requests")
	{
		leads.POST("", leadHandler.Submit)
		leads.GET("", leadHandler.List)
		leads.GET("/:id", leadHandler.Get)
		leads.POST("/:id/approve", admin, leadHandler.Approve)
		leads.POST("/:id/reject", admin, leadHandler.Reject)
		leads.POST("/:id/complete", admin, leadHandler.Complete)
		leads.POST("/:id/refund", admin, leadHandler.Refund)
	}

	if deps.Subscriber != nil {
		realtimeHandler := NewRealtimeHandler(deps.Subscriber, deps.Ledger, deps.Logger)
		v1.GET("/realtime/:topic", realtimeHandler.Stream)
	}

	return r
}
