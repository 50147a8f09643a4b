package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/api/responses"
	"github.com/angelmondragon/flashmart-backend/api/validators"
	"github.com/angelmondragon/flashmart-backend/internal/orders"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/types"
)

const maxTrackingNumberLen = 64

type createOrderRequest struct {
	SellerID        *uuid.UUID    `json:"seller_id"`
	ProductID       uuid.UUID     `json:"product_id" validate:"required"`
	Quantity        int           `json:"quantity" validate:"required,gt=0"`
	DealID          *uuid.UUID    `json:"deal_id"`
	AllowFullPrice  bool          `json:"allow_full_price"`
	DeliveryAddress types.Address `json:"delivery_address"`
}

type updateStatusRequest struct {
	Status         string  `json:"status" validate:"required,notblank"`
	TrackingNumber *string `json:"tracking_number"`
}

// CreateOrder places a single-product order for the calling buyer.
func CreateOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "orders service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.CreateOrder(r.Context(), principal, orders.CreateOrderInput{
			SellerID:        req.SellerID,
			ProductID:       req.ProductID,
			Quantity:        req.Quantity,
			DealID:          req.DealID,
			AllowFullPrice:  req.AllowFullPrice,
			DeliveryAddress: req.DeliveryAddress,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// GetOrder returns an order the caller participates in.
func GetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "orders service")
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

		order, err := svc.GetOrder(ctx, principal, orderNumber)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// ListOrders pages through the caller's orders, newest first. Buyers see purchases, sellers see
// sales and admins see everything.
func ListOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "orders service")
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

		input := orders.ListOrdersInput{Params: params}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			input.Status = &status
		}

		page, err := svc.ListOrders(r.Context(), principal, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// UpdateOrderStatus moves a seller's order forward along the fulfilment path or cancels it.
func UpdateOrderStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "orders service")
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

		var req updateStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}
		input := orders.UpdateStatusInput{Status: status}
		if req.TrackingNumber != nil {
			tracking := validators.SanitizeString(*req.TrackingNumber, maxTrackingNumberLen)
			if tracking != "" {
				input.TrackingNumber = &tracking
			}
		}

		order, err := svc.UpdateOrderStatus(ctx, principal, orderNumber, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
