package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/internal/checkout/helpers"
	"github.com/angelmondragon/flashmart-backend/internal/deals"
	"github.com/angelmondragon/flashmart-backend/internal/escrow"
	"github.com/angelmondragon/flashmart-backend/internal/orders"
	product "github.com/angelmondragon/flashmart-backend/internal/products"
	"github.com/angelmondragon/flashmart-backend/pkg/auth"
	"github.com/angelmondragon/flashmart-backend/pkg/db/dbtest"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
	"github.com/angelmondragon/flashmart-backend/pkg/types"
)

type harness struct {
	svc   Service
	conn  *gorm.DB
	buyer auth.Principal
}

func newHarness(t *testing.T) harness {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	catalog, err := product.NewService(product.NewRepository(conn))
	require.NoError(t, err)
	dealSvc, err := deals.NewService(deals.NewRepository(conn), client, catalog, emitter, nil, logger.Nop(), 7*24*time.Hour)
	require.NoError(t, err)
	ledger, err := escrow.NewService(escrow.NewRepository(conn), emitter, nil, logger.Nop())
	require.NoError(t, err)
	orderRepo := orders.NewRepository(conn)
	orderSvc, err := orders.NewService(orderRepo, client, catalog, dealSvc, ledger, emitter, logger.Nop(), orders.Options{MaxQuantity: 10})
	require.NoError(t, err)

	svc, err := NewService(client, NewRepository(orderRepo), catalog, orderSvc, emitter, logger.Nop(), 10)
	require.NoError(t, err)
	return harness{svc: svc, conn: conn, buyer: auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleBuyer}}
}

func (h harness) product(t *testing.T, sellerID uuid.UUID, price, stock int) *models.Product {
	t.Helper()
	p := &models.Product{ID: uuid.New(), SellerID: sellerID, Name: "Tea tin", PriceCents: price, Currency: enums.CurrencyUSD, StockQuantity: stock, IsActive: true}
	require.NoError(t, h.conn.Create(p).Error)
	return p
}

func (h harness) deal(t *testing.T, p *models.Product, price, available int) *models.FlashDeal {
	t.Helper()
	now := time.Now().UTC()
	d := &models.FlashDeal{
		ID: uuid.New(), ProductID: p.ID, SellerID: p.SellerID,
		OriginalPriceCents: p.PriceCents, DealPriceCents: price, DiscountPercentage: 20,
		QuantityAvailable: available, StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), IsActive: true,
	}
	require.NoError(t, h.conn.Create(d).Error)
	return d
}

func (h harness) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var p models.Product
	require.NoError(t, h.conn.First(&p, "id = ?", id).Error)
	return p.StockQuantity
}

func address() types.Address {
	return types.Address{RecipientName: "Ada", Line1: "1 Main", City: "Town", PostalCode: "99999"}
}

func TestExecuteCreatesOneOrderPerLine(t *testing.T) {
	h := newHarness(t)
	sellerA, sellerB := uuid.New(), uuid.New()
	p1 := h.product(t, sellerA, 1000, 5)
	p2 := h.product(t, sellerA, 500, 5)
	p3 := h.product(t, sellerB, 2500, 5)
	d3 := h.deal(t, p3, 2000, 5)

	result, err := h.svc.Execute(context.Background(), h.buyer, CheckoutInput{
		DeliveryAddress: address(),
		Lines: []helpers.Line{
			{ProductID: p1.ID, Quantity: 1},
			{ProductID: p2.ID, Quantity: 2},
			{ProductID: p3.ID, Quantity: 1, DealID: &d3.ID},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Orders, 3)
	assert.Equal(t, 1000+1000+2000, result.TotalAmountCents)
	for _, order := range result.Orders {
		require.NotNil(t, order.CheckoutGroupID)
		assert.Equal(t, result.CheckoutGroupID, *order.CheckoutGroupID)
		assert.Equal(t, enums.EscrowStateHeld, *order.EscrowStatus)
	}

	var converted int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventCheckoutConverted).Count(&converted).Error)
	assert.EqualValues(t, 1, converted)

	got, err := h.svc.Get(context.Background(), h.buyer, result.CheckoutGroupID)
	require.NoError(t, err)
	assert.Len(t, got.Orders, 3)

	_, err = h.svc.Get(context.Background(), auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleBuyer}, result.CheckoutGroupID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestExecuteRollsBackEveryLineOnFailure(t *testing.T) {
	h := newHarness(t)
	seller := uuid.New()
	p1 := h.product(t, seller, 1000, 5)
	p2 := h.product(t, uuid.New(), 800, 1)
	d1 := h.deal(t, p1, 700, 5)

	_, err := h.svc.Execute(context.Background(), h.buyer, CheckoutInput{
		DeliveryAddress: address(),
		Lines: []helpers.Line{
			{ProductID: p1.ID, Quantity: 2, DealID: &d1.ID},
			{ProductID: p2.ID, Quantity: 3},
		},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonOutOfStock))

	assert.Equal(t, 5, h.stock(t, p1.ID))
	assert.Equal(t, 1, h.stock(t, p2.ID))
	var sold models.FlashDeal
	require.NoError(t, h.conn.First(&sold, "id = ?", d1.ID).Error)
	assert.Zero(t, sold.QuantitySold)
	var n int64
	require.NoError(t, h.conn.Model(&models.Order{}).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, h.conn.Model(&models.EscrowRecord{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestExecuteDealFallback(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, uuid.New(), 1000, 10)
	d := h.deal(t, p, 600, 1)

	_, err := h.svc.Execute(context.Background(), h.buyer, CheckoutInput{
		DeliveryAddress: address(),
		Lines:           []helpers.Line{{ProductID: p.ID, Quantity: 2, DealID: &d.ID}},
	})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientDealStock))

	result, err := h.svc.Execute(context.Background(), h.buyer, CheckoutInput{
		DeliveryAddress: address(),
		Lines:           []helpers.Line{{ProductID: p.ID, Quantity: 2, DealID: &d.ID, AllowFullPrice: true}},
	})
	require.NoError(t, err)
	require.Len(t, result.Orders, 1)
	assert.Equal(t, 2000, result.TotalAmountCents)
}

func TestExecuteValidation(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, uuid.New(), 1000, 10)
	ctx := context.Background()

	_, err := h.svc.Execute(ctx, h.buyer, CheckoutInput{DeliveryAddress: address()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.Execute(ctx, h.buyer, CheckoutInput{Lines: []helpers.Line{{ProductID: p.ID, Quantity: 1}}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	seller := auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleSeller}
	_, err = h.svc.Execute(ctx, seller, CheckoutInput{DeliveryAddress: address(), Lines: []helpers.Line{{ProductID: p.ID, Quantity: 1}}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.Execute(ctx, h.buyer, CheckoutInput{DeliveryAddress: address(), Lines: []helpers.Line{{ProductID: uuid.New(), Quantity: 1}}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
