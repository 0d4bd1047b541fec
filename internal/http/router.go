package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/agencydesk/identity/internal/config"
	"github.com/agencydesk/identity/internal/http/handler"
	httpmiddleware "github.com/agencydesk/identity/internal/http/middleware"
	"github.com/agencydesk/identity/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)

		otp := authGroup.Group("/otp")
		{
			otp.POST("/send", authHandler.SendOtp)
			otp.POST("/verify", authHandler.VerifyOtp)
			otp.POST("/proxy/send", authHandler.SendProxyOtp)
			otp.POST("/proxy/verify", authHandler.VerifyProxyOtp)
		}

		authGroup.GET("/me", authMiddleware.ValidateJWT, authHandler.Me)
		authGroup.POST("/password", authMiddleware.ValidateJWT, authHandler.ChangePassword)
	}

	r.GET("/healthz", authHandler.Healthz)

	return r
}
