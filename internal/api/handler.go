package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"donation-push-backend/config"
	"donation-push-backend/internal/notification"
	"donation-push-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	webpush    *webpush.Options
	dispatcher *notification.Dispatcher
	auth       *config.AuthConfig
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, webpushOptions *webpush.Options, dispatcher *notification.Dispatcher, authCfg *config.AuthConfig) *Handler {
	return &Handler{
		store:      s,
		webpush:    webpushOptions,
		dispatcher: dispatcher,
		auth:       authCfg,
	}
}
