package helpers

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
)

// Line is one requested product in a checkout.
type Line struct {
	ProductID      uuid.UUID
	Quantity       int
	DealID         *uuid.UUID
	AllowFullPrice bool
}

// SellerGroup is the set of lines sold by one seller.
type SellerGroup struct {
	SellerID uuid.UUID
	Lines    []Line
}

// GroupLinesBySeller buckets lines by the product's seller. Groups and the lines inside them come
// back sorted by id so concurrent checkouts touch rows in the same order.
func GroupLinesBySeller(lines []Line, products map[uuid.UUID]models.Product) []SellerGroup {
	bySeller := make(map[uuid.UUID][]Line, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			continue
		}
		bySeller[product.SellerID] = append(bySeller[product.SellerID], line)
	}

	groups := make([]SellerGroup, 0, len(bySeller))
	for sellerID, sellerLines := range bySeller {
		sort.SliceStable(sellerLines, func(i, j int) bool {
			return bytes.Compare(sellerLines[i].ProductID[:], sellerLines[j].ProductID[:]) < 0
		})
		groups = append(groups, SellerGroup{SellerID: sellerID, Lines: sellerLines})
	}
	sort.Slice(groups, func(i, j int) bool {
		return bytes.Compare(groups[i].SellerID[:], groups[j].SellerID[:]) < 0
	})
	return groups
}

// EstimateTotalCents prices lines at catalog price. Deal prices are applied later, per order.
func EstimateTotalCents(lines []Line, products map[uuid.UUID]models.Product) int {
	total := 0
	for _, line := range lines {
		if product, ok := products[line.ProductID]; ok {
			total += product.PriceCents * line.Quantity
		}
	}
	return total
}
