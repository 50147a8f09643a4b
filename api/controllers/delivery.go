package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/flashmart-backend/api/responses"
	"github.com/angelmondragon/flashmart-backend/api/validators"
	"github.com/angelmondragon/flashmart-backend/internal/delivery"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
)

const maxSignerNameLen = 120

type deliveryProofRequest struct {
	PhotoURL string `json:"photo_url" validate:"required,url"`
}

type confirmReceivedRequest struct {
	SignerName     string `json:"signer_name"`
	SignatureImage string `json:"signature_image"`
}

func MarkReadyForPickup(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "delivery service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}
		orderNumber, ctx, err := orderNumberParam(r, logg)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.MarkReadyForPickup(ctx, principal, orderNumber)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// ClaimOrder assigns the calling agent to an unclaimed order. Retrying a claim the agent already
// holds succeeds.
func ClaimOrder(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "delivery service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}
		orderNumber, ctx, err := orderNumberParam(r, logg)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.ClaimOrder(ctx, principal, orderNumber)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func ClaimableOrders(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "delivery service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListClaimable(r.Context(), principal, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func UploadDeliveryProof(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "delivery service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}
		orderNumber, ctx, err := orderNumberParam(r, logg)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req deliveryProofRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.UploadDeliveryProof(ctx, principal, orderNumber, strings.TrimSpace(req.PhotoURL))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// ConfirmReceived records the buyer's signature and releases escrow to the seller.
func ConfirmReceived(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "delivery service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}
		orderNumber, ctx, err := orderNumberParam(r, logg)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req confirmReceivedRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.ConfirmReceived(ctx, principal, orderNumber, delivery.ConfirmInput{
			SignerName:     validators.SanitizeString(req.SignerName, maxSignerNameLen),
			SignatureImage: strings.TrimSpace(req.SignatureImage),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
