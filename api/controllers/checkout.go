package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/api/responses"
	"github.com/angelmondragon/flashmart-backend/api/validators"
	"github.com/angelmondragon/flashmart-backend/internal/checkout"
	"github.com/angelmondragon/flashmart-backend/internal/checkout/helpers"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/types"
)

type checkoutLineRequest struct {
	ProductID      uuid.UUID  `json:"product_id" validate:"required"`
	Quantity       int        `json:"quantity" validate:"required,gt=0"`
	DealID         *uuid.UUID `json:"deal_id"`
	AllowFullPrice bool       `json:"allow_full_price"`
}

type checkoutRequest struct {
	Lines           []checkoutLineRequest `json:"lines" validate:"required,min=1,dive"`
	DeliveryAddress types.Address         `json:"delivery_address"`
}

// Checkout converts a multi-seller cart into one order per line, all or nothing.
func Checkout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "checkout service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lines := make([]helpers.Line, 0, len(req.Lines))
		for _, line := range req.Lines {
			lines = append(lines, helpers.Line{
				ProductID:      line.ProductID,
				Quantity:       line.Quantity,
				DealID:         line.DealID,
				AllowFullPrice: line.AllowFullPrice,
			})
		}

		result, err := svc.Execute(r.Context(), principal, checkout.CheckoutInput{
			Lines:           lines,
			DeliveryAddress: req.DeliveryAddress,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// GetCheckout returns a buyer's checkout group and its orders.
func GetCheckout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "checkout service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}
		groupID, err := validators.ParseUUIDParam(r, "checkoutGroupId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Get(r.Context(), principal, groupID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
