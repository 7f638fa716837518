package api

import (
	"github.com/go-chi/chi/v5"

	"campaign-delivery/internal/campaign"
	"campaign-delivery/internal/live"
	"campaign-delivery/internal/manager"
	"campaign-delivery/internal/storage"
	"campaign-delivery/internal/webhook"
)

type API struct {
	Store     storage.Store
	Campaigns *campaign.Service
	Hub       *live.Hub
	Webhooks  *webhook.Ingester
	Pipelines *manager.PipelineManager

	// ServiceToken guards the internal and admin routes.
	ServiceToken string

	Routers *chi.Mux
}

func NewAPI(
	store storage.Store,
	campaigns *campaign.Service,
	hub *live.Hub,
	webhooks *webhook.Ingester,
	pipelines *manager.PipelineManager,
	serviceToken string,
) *API {
	return &API{
		Store:        store,
		Campaigns:    campaigns,
		Hub:          hub,
		Webhooks:     webhooks,
		Pipelines:    pipelines,
		ServiceToken: serviceToken,
		Routers:      chi.NewRouter(),
	}
}

// ConcurrencyConfig is the body of PUT /admin/queues/{queue}/workers.
type ConcurrencyConfig struct {
	Workers int `json:"workers"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
