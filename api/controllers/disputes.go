package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/flashmart-backend/api/responses"
	"github.com/angelmondragon/flashmart-backend/api/validators"
	"github.com/angelmondragon/flashmart-backend/internal/disputes"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
)

const maxResolutionNoteLen = 2000

type reportIssueRequest struct {
	Description string `json:"description" validate:"required,notblank"`
}

type resolveDisputeRequest struct {
	Resolution string  `json:"resolution" validate:"required,oneof=release refund"`
	Note       *string `json:"note"`
}

// ReportIssue opens a dispute and freezes the order's escrow.
func ReportIssue(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "disputes service")
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

		var req reportIssueRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		dispute, err := svc.ReportIssue(ctx, principal, orderNumber, disputes.ReportInput{
			Description: strings.TrimSpace(req.Description),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dispute)
	}
}

// ResolveDispute applies an admin's release or refund decision.
func ResolveDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "disputes service")
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

		var req resolveDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		resolution, err := enums.ParseDisputeResolution(req.Resolution)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid resolution"))
			return
		}
		input := disputes.ResolveInput{Resolution: resolution}
		if req.Note != nil {
			note := validators.SanitizeString(*req.Note, maxResolutionNoteLen)
			if note != "" {
				input.Note = &note
			}
		}

		dispute, err := svc.ResolveDispute(ctx, principal, orderNumber, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

func GetDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "disputes service")
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

		dispute, err := svc.GetDispute(ctx, principal, orderNumber)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

func ListOpenDisputes(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "disputes service")
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

		page, err := svc.ListOpen(r.Context(), principal, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
