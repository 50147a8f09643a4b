package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
)

// Catalog is the slice of the product catalog the order core consumes: a price snapshot at
// creation time and a stock counter.
type Catalog interface {
	Get(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*models.Product, error)
	GetMany(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) (map[uuid.UUID]models.Product, error)
	TakeStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	ReturnStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

type service struct {
	repo *Repository
}

// NewService constructs the catalog adapter.
func NewService(repo *Repository) (Catalog, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Get(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*models.Product, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	product, err := s.repo.WithTx(tx).FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return product, nil
}

func (s *service) GetMany(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	products, err := s.repo.WithTx(tx).FindByIDs(ctx, productIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	for _, id := range productIDs {
		if _, ok := products[id]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": id})
		}
	}
	return products, nil
}

// TakeStock decrements the counter in one guarded update. A miss means the listing is inactive or
// holds fewer than qty units.
func (s *service) TakeStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	affected, err := s.repo.WithTx(tx).DecrementStock(ctx, productID, qty)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement product stock")
	}
	if affected == 0 {
		if _, err := s.Get(ctx, tx, productID); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "product out of stock").
			WithReason(pkgerrors.ReasonOutOfStock).
			WithDetails(map[string]any{"product_id": productID, "requested": qty})
	}
	return nil
}

func (s *service) ReturnStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	affected, err := s.repo.WithTx(tx).IncrementStock(ctx, productID, qty)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restock product")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return nil
}
