package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/badgeforge/entitlement/internal/benefitdispatch"
	"github.com/badgeforge/entitlement/internal/domain/benefit"
	"github.com/badgeforge/entitlement/internal/entitlementerr"
)

// ShipmentCreator books a fulfillment ticket with an external warehouse
// system for a physical-good benefit.
type ShipmentCreator interface {
	CreateShipment(ctx context.Context, userID, sku string) (trackingRef string, err error)
}

// PhysicalHandler fulfills physical-good benefits through an external
// shipment system. Once shipped, a grant can never be revoked.
type PhysicalHandler struct {
	shipments ShipmentCreator

	mu     sync.Mutex
	issued map[string]benefitdispatch.GrantResult
}

func NewPhysicalHandler(shipments ShipmentCreator) *PhysicalHandler {
	return &PhysicalHandler{shipments: shipments, issued: make(map[string]benefitdispatch.GrantResult)}
}

func (h *PhysicalHandler) ValidateConfig(config map[string]interface{}) error {
	sku, ok := config["sku"].(string)
	if !ok || sku == "" {
		return entitlementerr.Validation("sku", "physical config requires a sku")
	}
	return nil
}

func (h *PhysicalHandler) Grant(ctx context.Context, req benefitdispatch.GrantRequest) (benefitdispatch.GrantResult, error) {
	sku, _ := req.BenefitConfig["sku"].(string)
	ref, err := h.shipments.CreateShipment(ctx, req.UserID, sku)
	if err != nil {
		return benefitdispatch.GrantResult{}, entitlementerr.Internal("shipment creation failed", err)
	}
	now := time.Now().UTC()
	result := benefitdispatch.GrantResult{
		GrantNo: req.GrantNo, Status: benefit.GrantSuccess, ExternalRef: ref, GrantedAt: &now,
		Payload: map[string]interface{}{"sku": sku}, Message: "shipment created",
	}
	h.mu.Lock()
	h.issued[req.GrantNo] = result
	h.mu.Unlock()
	return result, nil
}

func (h *PhysicalHandler) Revoke(ctx context.Context, grantNo string) error {
	return entitlementerr.Validation("benefit_type", "physical goods cannot be revoked once shipped")
}

func (h *PhysicalHandler) QueryStatus(ctx context.Context, grantNo string) (benefitdispatch.GrantResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	result, ok := h.issued[grantNo]
	if !ok {
		return benefitdispatch.GrantResult{}, entitlementerr.Internal(fmt.Sprintf("no physical grant found for %s", grantNo), nil)
	}
	return result, nil
}

func (h *PhysicalHandler) IsRevocable() bool { return false }
