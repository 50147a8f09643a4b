package helpers

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
)

// ValidateLines rejects empty carts, bad quantities and repeated products.
func ValidateLines(lines []Line, maxLines, maxQty int) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout requires at least one line")
	}
	if maxLines > 0 && len(lines) > maxLines {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("checkout supports at most %d lines", maxLines))
	}
	seen := make(map[uuid.UUID]struct{}, len(lines))
	for i, line := range lines {
		if line.ProductID == uuid.Nil {
			return lineError(i, "product_id is required")
		}
		if line.Quantity <= 0 || (maxQty > 0 && line.Quantity > maxQty) {
			return lineError(i, fmt.Sprintf("quantity must be between 1 and %d", maxQty))
		}
		if line.DealID != nil && *line.DealID == uuid.Nil {
			return lineError(i, "deal_id must be a valid id")
		}
		if _, dup := seen[line.ProductID]; dup {
			return lineError(i, "product appears more than once")
		}
		seen[line.ProductID] = struct{}{}
	}
	return nil
}

// ValidateProducts checks every product is purchasable by buyerID.
func ValidateProducts(lines []Line, products map[uuid.UUID]models.Product, buyerID uuid.UUID) error {
	for i, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").WithDetails(map[string]any{"line": i})
		}
		if !product.IsActive {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "product is not available").
				WithReason(pkgerrors.ReasonOutOfStock).
				WithDetails(map[string]any{"line": i, "product_id": product.ID})
		}
		if product.SellerID == buyerID {
			return lineError(i, "cannot buy your own product")
		}
	}
	return nil
}

func lineError(index int, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{"line": index})
}
