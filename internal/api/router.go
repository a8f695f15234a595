package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"donation-push-backend/config"
	"donation-push-backend/internal/model"
	"donation-push-backend/internal/mw"
	"donation-push-backend/internal/notification"
	"donation-push-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, cfg *config.Config, webpushOptions *webpush.Options, dispatcher *notification.Dispatcher) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, webpushOptions, dispatcher, &cfg.Auth)

	// Initialize middleware
	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	authRequired := mw.Auth(cfg.Auth.JWTSecret)

	// API group
	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/auth/login", handler.Login)

		push := api.Group("/push")
		{
			// The public key is static for the process lifetime; safe to cache.
			push.GET("/vapid-public-key", caching, handler.GetVAPIDPublicKey)

			authed := push.Group("")
			authed.Use(authRequired)
			{
				authed.POST("/subscribe", handler.Subscribe)
				authed.POST("/unsubscribe", handler.Unsubscribe)
				authed.GET("/status", handler.Status)
				authed.POST("/test", handler.SendTest)
				authed.POST("/send-to-user", mw.RequireRole(model.RoleAdmin), handler.SendToUser)
			}
		}
	}

	return r
}
