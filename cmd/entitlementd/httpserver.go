package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/badgeforge/entitlement/internal/domain/event"
	"github.com/badgeforge/entitlement/internal/entitlementerr"
	"github.com/badgeforge/entitlement/internal/httputil"
	"github.com/badgeforge/entitlement/internal/pipeline"
	"github.com/badgeforge/entitlement/internal/redemption"
	"github.com/badgeforge/entitlement/internal/revoke"
	"github.com/badgeforge/entitlement/pkg/logger"
)

// newRouter builds the ops-only HTTP surface: liveness, Prometheus scrape,
// and the three narrow endpoints through which the rest of the platform
// drives the entitlement core. There is deliberately no badge/benefit/rule
// CRUD here; catalog management is a separate administrative concern.
func newRouter(pipe *pipeline.Pipeline, redeemSvc *redemption.Service, revokeSvc *revoke.Service, log *logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/events", handleIngestEvent(pipe))
	r.Post("/v1/redemptions", handleRedeem(redeemSvc))
	r.Post("/v1/refunds", handleRefund(revokeSvc))

	return r
}

type ingestEventRequest struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	UserID    string                 `json:"user_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Source    string                 `json:"source"`
}

func handleIngestEvent(pipe *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestEventRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.EventID == "" || req.EventType == "" || req.UserID == "" {
			httputil.BadRequest(w, "event_id, event_type, and user_id are required")
			return
		}
		outcome, err := pipe.Ingest(r.Context(), event.Event{
			EventID: req.EventID, EventType: event.Type(req.EventType), UserID: req.UserID,
			Timestamp: req.Timestamp, Data: req.Data, Source: req.Source,
		})
		if err != nil {
			httputil.WriteErrorWithCode(w, entitlementerr.HTTPStatus(err), "ingest_failed", err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, outcome)
	}
}

type redeemRequest struct {
	UserID         string `json:"user_id"`
	RuleID         string `json:"rule_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

func handleRedeem(svc *redemption.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req redeemRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.UserID == "" || req.RuleID == "" {
			httputil.BadRequest(w, "user_id and rule_id are required")
			return
		}
		resp, err := svc.Redeem(r.Context(), redemption.Request{
			UserID: req.UserID, RuleID: req.RuleID, IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			httputil.WriteErrorWithCode(w, entitlementerr.HTTPStatus(err), "redemption_failed", err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

type refundRequest struct {
	EventID         string                   `json:"event_id"`
	UserID          string                   `json:"user_id"`
	RemainingAmount float64                  `json:"remaining_amount"`
	Conditions      []refundConditionRequest `json:"conditions"`
}

type refundConditionRequest struct {
	BadgeID         string  `json:"badge_id"`
	AmountThreshold float64 `json:"amount_threshold"`
}

func handleRefund(svc *revoke.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refundRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.EventID == "" || req.UserID == "" {
			httputil.BadRequest(w, "event_id and user_id are required")
			return
		}
		conditions := make([]revoke.GrantCondition, len(req.Conditions))
		for i, c := range req.Conditions {
			conditions[i] = revoke.GrantCondition{BadgeID: c.BadgeID, AmountThreshold: c.AmountThreshold}
		}
		outcome, err := svc.HandleRefund(r.Context(), revoke.RefundEvent{
			EventID: req.EventID, UserID: req.UserID, RemainingAmount: req.RemainingAmount,
		}, conditions)
		if err != nil {
			httputil.WriteErrorWithCode(w, entitlementerr.HTTPStatus(err), "refund_failed", err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, outcome)
	}
}
