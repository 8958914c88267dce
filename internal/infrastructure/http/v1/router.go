// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"osiris/internal/domain/audit"
	"osiris/internal/domain/cartera"
	"osiris/internal/domain/documents/purchase"
	"osiris/internal/domain/documents/sale"
	"osiris/internal/domain/documents/withholding"
	"osiris/internal/domain/history"
	"osiris/internal/domain/kardex"
	"osiris/internal/domain/sequence"
	"osiris/internal/domain/sriqueue"
	"osiris/internal/infrastructure/http/v1/handlers"
	"osiris/internal/infrastructure/http/v1/middleware"
	"osiris/pkg/logger"
)

// Services are the domain services the API exposes.
type Services struct {
	Sales        *sale.Service
	Purchases    *purchase.Service
	Withholdings *withholding.Service
	Accounts     *cartera.Service
	Kardex       *kardex.Service
	Sequences    *sequence.Service
	Queue        *sriqueue.Service
	Audit        *audit.Service
	Recorder     *history.Recorder
	// DeadLetters is optional; nil leaves dead letters out of GET /sri-queue.
	DeadLetters handlers.DeadLetterReader
}

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Services Services

	// Logger for request logging
	Logger *logger.Logger

	// Idempotency stores responses of POSTs carrying Idempotency-Key.
	// Nil disables replay.
	Idempotency middleware.IdempotencyStore

	// HealthChecks are pinged by /health/ready.
	HealthChecks map[string]handlers.Pinger

	// Debug switches gin to debug mode.
	Debug bool
}

// NewRouter creates and configures the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.HealthChecks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	api := router.Group("/api/v1")
	api.Use(middleware.Actor())
	if cfg.Idempotency != nil {
		api.Use(middleware.Idempotency(cfg.Idempotency))
	}

	base := handlers.NewBaseHandler()
	registerDocumentRoutes(api, base, cfg.Services)
	registerKardexRoutes(api, base, cfg.Services)
	registerCarteraRoutes(api, base, cfg.Services)
	registerLedgerRoutes(api, base, cfg.Services)
	registerOperationsRoutes(api, base, cfg.Services)

	return router
}

func registerDocumentRoutes(api *gin.RouterGroup, base *handlers.BaseHandler, s Services) {
	if s.Sales != nil {
		h := handlers.NewSaleHandler(base, s.Sales)
		g := api.Group("/sales")
		g.GET("", h.List)
		g.POST("", h.Create)
		g.GET("/:id", h.Get)
		g.POST("/:id/emit", h.Emit)
		g.POST("/:id/void", h.Void)
	}
	if s.Purchases != nil {
		h := handlers.NewPurchaseHandler(base, s.Purchases)
		g := api.Group("/purchases")
		g.GET("", h.List)
		g.POST("", h.Create)
		g.GET("/:id", h.Get)
		g.POST("/:id/register", h.Register)
		g.POST("/:id/void", h.Void)
	}
	if s.Withholdings != nil {
		h := handlers.NewWithholdingHandler(base, s.Withholdings)
		g := api.Group("/withholdings")
		g.GET("", h.List)
		g.POST("", h.Create)
		g.GET("/:id", h.Get)
		g.POST("/:id/emit", h.Emit)
		g.POST("/:id/void", h.Void)
	}
}

func registerKardexRoutes(api *gin.RouterGroup, base *handlers.BaseHandler, s Services) {
	if s.Kardex == nil {
		return
	}
	h := handlers.NewKardexHandler(base, s.Kardex)
	g := api.Group("/kardex")
	g.POST("/transfers", h.Transfer)
	g.POST("/adjustments", h.Adjust)
	g.GET("/:warehouse/valuation", h.Valuation)
	g.GET("/:warehouse/:product", h.Card)
}

func registerCarteraRoutes(api *gin.RouterGroup, base *handlers.BaseHandler, s Services) {
	if s.Accounts == nil {
		return
	}
	h := handlers.NewCarteraHandler(base, s.Accounts)
	accounts := api.Group("/accounts")
	accounts.GET("", h.ListAccounts)
	accounts.GET("/:id", h.GetAccount)
	accounts.POST("/:id/payments", h.RegisterPayment)

	received := api.Group("/received-withholdings")
	received.GET("", h.ListReceived)
	received.POST("", h.CreateReceived)
	received.GET("/:id", h.GetReceived)
	received.POST("/:id/apply", h.ApplyReceived)
	received.POST("/:id/void", h.VoidReceived)
}

func registerLedgerRoutes(api *gin.RouterGroup, base *handlers.BaseHandler, s Services) {
	if s.Audit == nil || s.Recorder == nil {
		return
	}
	h := handlers.NewLedgerHandler(base, s.Audit, s.Recorder)
	api.GET("/audit", h.Audit)
	api.GET("/history/:kind", h.History)
}

func registerOperationsRoutes(api *gin.RouterGroup, base *handlers.BaseHandler, s Services) {
	if s.Queue == nil || s.Sequences == nil {
		return
	}
	h := handlers.NewOperationsHandler(base, s.Queue, s.Sequences, s.DeadLetters)
	api.GET("/sri-queue", h.ListQueue)
	api.POST("/sri-queue/:id/requeue", h.Requeue)
	api.GET("/sequences/gaps", h.Gaps)
	api.POST("/sequences/adjust", h.AdjustSequence)
}
