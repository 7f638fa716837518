package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	httpSwagger "github.com/swaggo/http-swagger"

	"campaign-delivery/internal/auth"
	"campaign-delivery/internal/campaign"
	"campaign-delivery/internal/metrics"
	"campaign-delivery/internal/model"
	"campaign-delivery/internal/notifier"
	"campaign-delivery/internal/storage"

	_ "campaign-delivery/docs"
)

func (a *API) Router() http.Handler {
	a.Routers.Use(middleware.Recoverer)

	// Public
	a.Routers.Get("/health", a.Health)
	a.Routers.Handle("/metrics", metrics.Handler())
	a.Routers.Get("/swagger/*", httpSwagger.WrapHandler)
	a.Routers.Post("/webhooks/{provider}", a.Webhooks.Handler())

	// Service-to-service
	a.Routers.Group(func(r chi.Router) {
		r.Use(auth.ServiceTokenMiddleware(a.ServiceToken))

		r.Post("/internal/status-events", a.IngestStatusEvent)
		r.Put("/admin/queues/{queue}/workers", a.UpdateConcurrency)
	})

	// Secured
	a.Routers.Group(func(r chi.Router) {
		r.Use(auth.JWTAuthMiddleware)

		r.Get("/campaigns/{id}/metrics", a.CampaignMetrics)
		r.Get("/campaigns/{id}/live", a.CampaignLive)
		r.Post("/campaigns/{id}/resend", a.ResendCampaign)
		r.Post("/campaigns/{id}/retry-failed", a.RetryFailed)
		r.Get("/messages/{id}/events", a.ListMessageEvents)
	})

	return a.Routers
}

// @Summary Liveness check
// @Tags Ops
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// @Summary Campaign delivery snapshot
// @Description Polling fallback for the live stream; same payload.
// @Tags Campaigns
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Campaign UUID"
// @Success 200 {object} live.Snapshot
// @Failure 404 {object} ErrorResponse
// @Router /campaigns/{id}/metrics [get]
func (a *API) CampaignMetrics(w http.ResponseWriter, r *http.Request) {
	tenantID, campaignID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	snap, err := a.Hub.Snapshot(r.Context(), tenantID, campaignID)
	if err != nil {
		a.storageError(w, "campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// @Summary Live campaign metrics stream
// @Description Upgrades to a WebSocket and pushes a snapshot on every status change.
// @Tags Campaigns
// @Security ApiKeyAuth
// @Param id path string true "Campaign UUID"
// @Param access_token query string false "JWT for clients that cannot set headers"
// @Success 101
// @Router /campaigns/{id}/live [get]
func (a *API) CampaignLive(w http.ResponseWriter, r *http.Request) {
	tenantID, campaignID, ok := tenantAndID(w, r)
	if !ok {
		return
	}
	a.Hub.Stream(w, r, tenantID, campaignID)
}

// @Summary Resend a campaign to contacts who have not read it
// @Tags Campaigns
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Origin campaign UUID"
// @Success 201 {object} campaign.ResendResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /campaigns/{id}/resend [post]
func (a *API) ResendCampaign(w http.ResponseWriter, r *http.Request) {
	tenantID, campaignID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	res, err := a.Campaigns.Resend(r.Context(), tenantID, campaignID)
	if err != nil {
		a.campaignError(w, err)
		return
	}

	log.Printf("API: Created resend %s of campaign %s (%d contacts)", res.CampaignID, campaignID, res.AudienceSize)
	writeJSON(w, http.StatusCreated, res)
}

// @Summary Requeue every failed message of a campaign
// @Tags Campaigns
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Campaign UUID"
// @Success 202 {object} campaign.RetryResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /campaigns/{id}/retry-failed [post]
func (a *API) RetryFailed(w http.ResponseWriter, r *http.Request) {
	tenantID, campaignID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	res, err := a.Campaigns.RetryFailed(r.Context(), tenantID, campaignID)
	if err != nil {
		a.campaignError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// @Summary Status audit trail of a message
// @Tags Messages
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Message UUID"
// @Success 200 {array} model.StatusEvent
// @Failure 404 {object} ErrorResponse
// @Router /messages/{id}/events [get]
func (a *API) ListMessageEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, messageID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	msg, err := a.Store.GetMessage(r.Context(), messageID)
	if err == nil && msg.TenantID != tenantID {
		err = storage.ErrNotFound
	}
	if err != nil {
		a.storageError(w, "message", err)
		return
	}

	events, err := a.Store.ListStatusEvents(r.Context(), messageID)
	if err != nil {
		a.storageError(w, "message", err)
		return
	}
	if events == nil {
		events = []model.StatusEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// @Summary Receive a status notification
// @Description Default downstream aggregator: fans the notification out to live subscribers.
// @Tags Internal
// @Security ApiKeyAuth
// @Accept json
// @Param body body notifier.StatusNotification true "Status notification"
// @Success 202
// @Failure 400 {object} ErrorResponse
// @Router /internal/status-events [post]
func (a *API) IngestStatusEvent(w http.ResponseWriter, r *http.Request) {
	var n notifier.StatusNotification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil || n.CampaignID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid status notification")
		return
	}

	if err := a.Hub.Publish(r.Context(), n); err != nil {
		log.Printf("API: publish status event for campaign %s: %v", n.CampaignID, err)
		writeError(w, http.StatusInternalServerError, "internal", "could not publish status event")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// @Summary Update queue worker concurrency
// @Tags Internal
// @Security ApiKeyAuth
// @Accept json
// @Param queue path string true "Queue name"
// @Param body body ConcurrencyConfig true "Concurrency config"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/queues/{queue}/workers [put]
func (a *API) UpdateConcurrency(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")

	var body ConcurrencyConfig
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Workers <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "workers must be a positive integer")
		return
	}

	if err := a.Pipelines.SetWorkerCount(queue, body.Workers); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	log.Printf("API: Queue %s scaled to %d workers", queue, body.Workers)
	w.WriteHeader(http.StatusNoContent)
}

func tenantAndID(w http.ResponseWriter, r *http.Request) (tenantID, id uuid.UUID, ok bool) {
	tenantID, ok = auth.GetTenantID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized tenant")
		return uuid.Nil, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, id, true
}

func (a *API) campaignError(w http.ResponseWriter, err error) {
	var policy *campaign.PolicyError
	if errors.As(err, &policy) {
		status := http.StatusUnprocessableEntity
		switch policy.Code {
		case campaign.CodeAlreadyResent, campaign.CodeRetryInProgress:
			status = http.StatusConflict
		}
		writeError(w, status, string(policy.Code), policy.Message)
		return
	}
	a.storageError(w, "campaign", err)
}

func (a *API) storageError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", what+" not found")
		return
	}
	log.Printf("API: %s: %v", what, err)
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
