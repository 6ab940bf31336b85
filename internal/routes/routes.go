// Package routes maps the /v1 API onto the handlers.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/auth"
	"github.com/01moynul/storefront-ledger/internal/handlers"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/middleware"
)

// Options carries the middleware settings.
type Options struct {
	Tokens     *auth.TokenManager
	Limiter    *middleware.RateLimiter // nil disables rate limiting
	CORSOrigin string
	Log        *logger.Logger
}

func SetupRouter(h *handlers.Handlers, opts Options) *gin.Engine {
	router := gin.New()

	// --- Global middleware, CORS first so preflights skip the rest ---
	router.Use(middleware.CORS(opts.CORSOrigin))
	router.Use(middleware.Recovery(opts.Log))
	router.Use(middleware.RequestLogger(opts.Log))
	if opts.Limiter != nil {
		router.Use(opts.Limiter.Middleware())
	}

	if h.UploadDir != "" {
		router.Static("/uploads", h.UploadDir)
	}

	v1 := router.Group("/v1")
	{
		// --- Public Routes ---
		v1.GET("/ping", h.Ping)
		v1.POST("/auth/register", h.Register)
		v1.POST("/auth/login", h.Login)
		v1.GET("/products", h.ListProducts)
		v1.GET("/products/:slug", h.GetProduct)
		v1.GET("/payment-gateways", h.ListPaymentGateways)
		v1.GET("/coupons/validate", h.ValidateCoupon)
		v1.POST("/payments/plisio/webhook", h.PlisioWebhook)

		// --- Protected Routes (Login Required) ---
		authed := v1.Group("/")
		authed.Use(middleware.Auth(opts.Tokens))
		{
			authed.GET("/profile/me", h.Me)
			authed.GET("/dashboard", h.GetDashboardStats)

			authed.GET("/notifications", h.GetMyNotifications)
			authed.PATCH("/notifications/:id/read", h.MarkNotificationAsRead)

			authed.POST("/uploads/proof", h.UploadProof)

			// Orders
			authed.POST("/orders", h.Checkout)
			authed.POST("/orders/quote", h.QuoteOrder)
			authed.GET("/orders", h.GetMyOrders)
			authed.GET("/orders/:id", h.GetOrderDetails)
			authed.POST("/orders/:id/proof", h.SubmitOrderProof)
			authed.POST("/orders/:id/invoice", h.CreateOrderInvoice)
			authed.POST("/orders/:id/cancel", h.CancelOrder)

			// Wallet
			authed.GET("/wallet/balance", h.GetWalletBalance)
			authed.GET("/wallet/transactions", h.GetWalletTransactions)
			authed.POST("/wallet/topups", h.CreateTopup)
			authed.GET("/wallet/topups", h.ListTopups)
			authed.POST("/wallet/topups/:id/proof", h.SubmitTopupProof)

			// Minutes transfers
			authed.POST("/transfers", h.CreateTransfer)
			authed.GET("/transfers", h.ListTransfers)
			authed.POST("/transfers/:id/proof", h.SubmitTransferProof)

			// Crypto
			authed.POST("/crypto/buy", h.BuyCrypto)
			authed.POST("/crypto/sell", h.SellCrypto)
			authed.GET("/crypto/transactions", h.ListCryptoTransactions)

			// Withdrawals
			authed.POST("/withdrawals/request", h.RequestWithdrawal)
			authed.GET("/withdrawals", h.GetWithdrawalRequests)
		}

		// --- Admin-Only Routes ---
		admin := v1.Group("/")
		admin.Use(middleware.Auth(opts.Tokens))
		admin.Use(middleware.RequireAdmin(h.Users))
		{
			admin.PUT("/orders/:id/status", h.SetOrderStatus)
			admin.PUT("/orders/:id/delivery", h.DeliverOrder)

			admin.POST("/wallet/admin-adjust", h.WalletAdminAdjust)
			admin.POST("/credits/admin-adjust", h.CreditsAdminAdjust)
			admin.PUT("/wallet/topups/:id/status", h.SetTopupStatus)
			admin.PUT("/transfers/:id/status", h.SetTransferStatus)

			admin.PUT("/crypto/transactions/:id/status", h.SetCryptoStatus)
			admin.POST("/crypto/transactions/:id/confirm", h.ConfirmCryptoReceipt)

			admin.PUT("/withdrawals/:id/status", h.ProcessWithdrawalRequest)

			admin.GET("/admin/coupons", h.ListCoupons)
			admin.POST("/admin/coupons", h.CreateCoupon)
			admin.PATCH("/admin/coupons/:code/active", h.SetCouponActive)

			admin.GET("/admin/products", h.AdminListProducts)
			admin.POST("/admin/products", h.CreateProduct)
			admin.PUT("/admin/products/:id", h.UpdateProduct)
			admin.PATCH("/admin/products/:id/active", h.SetProductActive)

			admin.GET("/admin/orders", h.AdminListOrders)
			admin.GET("/admin/orders/export", h.ExportOrders)
			admin.POST("/admin/assistant", h.AskAssistant)
		}
	}

	return router
}
