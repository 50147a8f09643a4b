package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/api/responses"
	"github.com/angelmondragon/flashmart-backend/api/validators"
	"github.com/angelmondragon/flashmart-backend/internal/deals"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
)

type createDealRequest struct {
	ProductID         uuid.UUID `json:"product_id" validate:"required"`
	DealPriceCents    int       `json:"deal_price_cents" validate:"required,gt=0"`
	QuantityAvailable int       `json:"quantity_available" validate:"required,gt=0"`
	StartsAt          time.Time `json:"starts_at" validate:"required"`
	EndsAt            time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
}

type updateDealRequest struct {
	ProductID         *uuid.UUID `json:"product_id"`
	StartsAt          *time.Time `json:"starts_at"`
	DealPriceCents    *int       `json:"deal_price_cents" validate:"omitempty,gt=0"`
	QuantityAvailable *int       `json:"quantity_available" validate:"omitempty,gt=0"`
	EndsAt            *time.Time `json:"ends_at"`
	IsActive          *bool      `json:"is_active"`
}

func CreateDeal(svc deals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "deals service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}

		var req createDealRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		deal, err := svc.CreateDeal(r.Context(), principal, deals.CreateDealInput{
			ProductID:         req.ProductID,
			DealPriceCents:    req.DealPriceCents,
			QuantityAvailable: req.QuantityAvailable,
			StartsAt:          req.StartsAt,
			EndsAt:            req.EndsAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, deal)
	}
}

func UpdateDeal(svc deals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "deals service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}
		dealID, err := validators.ParseUUIDParam(r, "dealId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateDealRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		deal, err := svc.UpdateDeal(r.Context(), principal, dealID, deals.UpdateDealInput{
			ProductID:         req.ProductID,
			StartsAt:          req.StartsAt,
			DealPriceCents:    req.DealPriceCents,
			QuantityAvailable: req.QuantityAvailable,
			EndsAt:            req.EndsAt,
			IsActive:          req.IsActive,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, deal)
	}
}

func DeleteDeal(svc deals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "deals service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}
		dealID, err := validators.ParseUUIDParam(r, "dealId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.DeleteDeal(r.Context(), principal, dealID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func GetDeal(svc deals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "deals service")
			return
		}
		dealID, err := validators.ParseUUIDParam(r, "dealId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		deal, err := svc.GetDeal(r.Context(), dealID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, deal)
	}
}

// ListDeals returns live deals, newest first, optionally narrowed to a product or seller.
func ListDeals(svc deals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "deals service")
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := validators.ParseQueryUUID(r, "product_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sellerID, err := validators.ParseQueryUUID(r, "seller_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListActiveDeals(r.Context(), deals.ListDealsInput{
			ProductID: productID,
			SellerID:  sellerID,
			Params:    params,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
