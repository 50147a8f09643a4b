package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/internal/deals"
	"github.com/angelmondragon/flashmart-backend/internal/escrow"
	product "github.com/angelmondragon/flashmart-backend/internal/products"
	"github.com/angelmondragon/flashmart-backend/pkg/auth"
	"github.com/angelmondragon/flashmart-backend/pkg/db"
	"github.com/angelmondragon/flashmart-backend/pkg/db/dbtest"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/metrics"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
	"github.com/angelmondragon/flashmart-backend/pkg/types"
)

type harness struct {
	svc    *service
	client *db.Client
	conn   *gorm.DB
	seller auth.Principal
	buyer  auth.Principal
}

func newHarness(t *testing.T) harness {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	m := metrics.NewMarketplaceMetrics(prometheus.NewRegistry())

	catalog, err := product.NewService(product.NewRepository(conn))
	require.NoError(t, err)
	dealSvc, err := deals.NewService(deals.NewRepository(conn), client, catalog, emitter, m, logger.Nop(), 7*24*time.Hour)
	require.NoError(t, err)
	ledger, err := escrow.NewService(escrow.NewRepository(conn), emitter, m, logger.Nop())
	require.NoError(t, err)

	svc, err := NewService(NewRepository(conn), client, catalog, dealSvc, ledger, emitter, logger.Nop(), Options{MaxQuantity: 10, PendingTTL: 72 * time.Hour})
	require.NoError(t, err)
	return harness{
		svc:    svc.(*service),
		client: client,
		conn:   conn,
		seller: auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleSeller},
		buyer:  auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleBuyer},
	}
}

func (h harness) product(t *testing.T, priceCents, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		ID:            uuid.New(),
		SellerID:      h.seller.UserID,
		Name:          "Linen apron",
		PriceCents:    priceCents,
		Currency:      enums.CurrencyUSD,
		StockQuantity: stock,
		IsActive:      true,
	}
	require.NoError(t, h.conn.Create(p).Error)
	return p
}

func (h harness) liveDeal(t *testing.T, p *models.Product, dealPrice, available int) *models.FlashDeal {
	t.Helper()
	now := time.Now().UTC()
	deal := &models.FlashDeal{
		ID:                 uuid.New(),
		ProductID:          p.ID,
		SellerID:           p.SellerID,
		OriginalPriceCents: p.PriceCents,
		DealPriceCents:     dealPrice,
		DiscountPercentage: 50,
		QuantityAvailable:  available,
		StartsAt:           now.Add(-time.Hour),
		EndsAt:             now.Add(time.Hour),
		IsActive:           true,
	}
	require.NoError(t, h.conn.Create(deal).Error)
	return deal
}

func (h harness) stock(t *testing.T, productID uuid.UUID) int {
	t.Helper()
	var p models.Product
	require.NoError(t, h.conn.First(&p, "id = ?", productID).Error)
	return p.StockQuantity
}

func (h harness) dealSold(t *testing.T, dealID uuid.UUID) int {
	t.Helper()
	var d models.FlashDeal
	require.NoError(t, h.conn.Unscoped().First(&d, "id = ?", dealID).Error)
	return d.QuantitySold
}

func (h harness) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func address() types.Address {
	return types.Address{RecipientName: "Ada Buyer", Line1: "12 Market St", City: "Springfield", PostalCode: "12345"}
}

func (h harness) order(t *testing.T, input CreateOrderInput) *OrderDTO {
	t.Helper()
	if input.DeliveryAddress.Line1 == "" {
		input.DeliveryAddress = address()
	}
	dto, err := h.svc.CreateOrder(context.Background(), h.buyer, input)
	require.NoError(t, err)
	return dto
}

func TestCreateOrderFullPriceHoldsEscrow(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 2500, 5)

	dto := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 2})

	assert.True(t, ValidOrderNumber(dto.OrderNumber))
	assert.Equal(t, enums.OrderStatusPending, dto.Status)
	assert.Equal(t, 5000, dto.TotalAmountCents)
	assert.Nil(t, dto.DealPriceCents)
	require.NotNil(t, dto.EscrowStatus)
	assert.Equal(t, enums.EscrowStateHeld, *dto.EscrowStatus)
	require.NotNil(t, dto.Delivery)
	assert.Nil(t, dto.Delivery.AgentID)
	assert.Equal(t, "US", dto.DeliveryAddress.Country)
	assert.Equal(t, 3, h.stock(t, p.ID))

	var rec models.EscrowRecord
	require.NoError(t, h.conn.First(&rec, "order_id = ?", dto.ID).Error)
	assert.Equal(t, dto.TotalAmountCents, rec.AmountCents)
	assert.EqualValues(t, 1, h.countEvents(t, enums.EventOrderCreated))
	assert.EqualValues(t, 1, h.countEvents(t, enums.EventEscrowHeld))
}

func TestCreateOrderAppliesDealPrice(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 4000, 10)
	deal := h.liveDeal(t, p, 3000, 3)

	dto := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 2, DealID: &deal.ID})

	require.NotNil(t, dto.DealPriceCents)
	assert.Equal(t, 3000, *dto.DealPriceCents)
	assert.Equal(t, 6000, dto.TotalAmountCents)
	assert.Equal(t, 2, h.dealSold(t, deal.ID))
	assert.Equal(t, 8, h.stock(t, p.ID))
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 1000, 5)
	ctx := context.Background()

	cases := []struct {
		name      string
		principal auth.Principal
		input     CreateOrderInput
		code      pkgerrors.Code
	}{
		{"zero quantity", h.buyer, CreateOrderInput{ProductID: p.ID, Quantity: 0, DeliveryAddress: address()}, pkgerrors.CodeValidation},
		{"over max quantity", h.buyer, CreateOrderInput{ProductID: p.ID, Quantity: 11, DeliveryAddress: address()}, pkgerrors.CodeValidation},
		{"missing address", h.buyer, CreateOrderInput{ProductID: p.ID, Quantity: 1}, pkgerrors.CodeValidation},
		{"seller role", h.seller, CreateOrderInput{ProductID: p.ID, Quantity: 1, DeliveryAddress: address()}, pkgerrors.CodeForbidden},
		{"unknown product", h.buyer, CreateOrderInput{ProductID: uuid.New(), Quantity: 1, DeliveryAddress: address()}, pkgerrors.CodeNotFound},
		{"wrong seller", h.buyer, CreateOrderInput{SellerID: ptr(uuid.New()), ProductID: p.ID, Quantity: 1, DeliveryAddress: address()}, pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateOrder(ctx, tc.principal, tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}
	assert.Equal(t, 5, h.stock(t, p.ID))
}

func TestCreateOrderOutOfStockRollsBackDeal(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 1000, 1)
	deal := h.liveDeal(t, p, 500, 5)

	_, err := h.svc.CreateOrder(context.Background(), h.buyer, CreateOrderInput{ProductID: p.ID, Quantity: 2, DealID: &deal.ID, DeliveryAddress: address()})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonOutOfStock))
	assert.Equal(t, 0, h.dealSold(t, deal.ID))
	assert.Equal(t, 1, h.stock(t, p.ID))

	var n int64
	require.NoError(t, h.conn.Model(&models.Order{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreateOrderDealFallbackToFullPrice(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 1000, 10)
	deal := h.liveDeal(t, p, 600, 1)

	_, err := h.svc.CreateOrder(context.Background(), h.buyer, CreateOrderInput{ProductID: p.ID, Quantity: 2, DealID: &deal.ID, DeliveryAddress: address()})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientDealStock))

	dto := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 2, DealID: &deal.ID, AllowFullPrice: true})
	assert.Nil(t, dto.DealPriceCents)
	assert.Nil(t, dto.DealID)
	assert.Equal(t, 2000, dto.TotalAmountCents)
	assert.Equal(t, 0, h.dealSold(t, deal.ID))
}

// Four buyers race for a deal pool of three: exactly three pay the deal price and the fourth finds
// the deal sold out.
func TestConcurrentDealOrdersNeverOversell(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 2000, 5)
	deal := h.liveDeal(t, p, 1500, 3)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		misses int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buyer := auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleBuyer}
			_, err := h.svc.CreateOrder(context.Background(), buyer, CreateOrderInput{ProductID: p.ID, Quantity: 1, DealID: &deal.ID, DeliveryAddress: address()})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			if pkgerrors.HasReason(err, pkgerrors.ReasonDealUnavailable) {
				misses++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, wins)
	assert.Equal(t, 1, misses)
	assert.Equal(t, 3, h.dealSold(t, deal.ID))
	assert.Equal(t, 2, h.stock(t, p.ID))
}

func TestCreateOrderRetriesOrderNumberCollision(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 1000, 5)

	first := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 1})

	calls := 0
	h.svc.newNumber = func(now time.Time) string {
		calls++
		if calls == 1 {
			return first.OrderNumber
		}
		return NewOrderNumber(now)
	}
	second := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 1})

	assert.Equal(t, 2, calls)
	assert.NotEqual(t, first.OrderNumber, second.OrderNumber)
	assert.Equal(t, 3, h.stock(t, p.ID))
}

func TestCreateOrderGivesUpAfterRepeatedCollisions(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 1000, 5)
	first := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 1})

	h.svc.newNumber = func(time.Time) string { return first.OrderNumber }
	_, err := h.svc.CreateOrder(context.Background(), h.buyer, CreateOrderInput{ProductID: p.ID, Quantity: 1, DeliveryAddress: address()})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, 4, h.stock(t, p.ID))
}

func TestSellerMovesOrderForward(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 1000, 5)
	dto := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 1})
	ctx := context.Background()

	updated, err := h.svc.UpdateOrderStatus(ctx, h.seller, dto.OrderNumber, UpdateStatusInput{Status: enums.OrderStatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, updated.Status)

	tracking := "  1Z999  "
	updated, err = h.svc.UpdateOrderStatus(ctx, h.seller, dto.OrderNumber, UpdateStatusInput{Status: enums.OrderStatusShipped, TrackingNumber: &tracking})
	require.NoError(t, err)
	require.NotNil(t, updated.TrackingNumber)
	assert.Equal(t, "1Z999", *updated.TrackingNumber)
	assert.NotNil(t, updated.ShippedAt)

	_, err = h.svc.UpdateOrderStatus(ctx, h.seller, dto.OrderNumber, UpdateStatusInput{Status: enums.OrderStatusProcessing})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidTransition))

	updated, err = h.svc.UpdateOrderStatus(ctx, h.seller, dto.OrderNumber, UpdateStatusInput{Status: enums.OrderStatusDelivered})
	require.NoError(t, err)
	assert.NotNil(t, updated.DeliveredAt)
	assert.EqualValues(t, 3, h.countEvents(t, enums.EventOrderStatusChanged))
}

func TestSellerCannotTouchCompletedOrder(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 1000, 5)
	dto := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 1})
	require.NoError(t, h.conn.Model(&models.Order{}).Where("id = ?", dto.ID).Update("status", enums.OrderStatusCompleted).Error)

	for _, to := range []enums.OrderStatus{enums.OrderStatusShipped, enums.OrderStatusCancelled, enums.OrderStatusDelivered} {
		_, err := h.svc.UpdateOrderStatus(context.Background(), h.seller, dto.OrderNumber, UpdateStatusInput{Status: to})
		require.Error(t, err)
		assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidTransition), "to %s", to)
	}
}

func TestSellerUpdateRequiresOwnership(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 1000, 5)
	dto := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 1})

	other := auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleSeller}
	_, err := h.svc.UpdateOrderStatus(context.Background(), other, dto.OrderNumber, UpdateStatusInput{Status: enums.OrderStatusProcessing})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.UpdateOrderStatus(context.Background(), h.buyer, dto.OrderNumber, UpdateStatusInput{Status: enums.OrderStatusProcessing})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.UpdateOrderStatus(context.Background(), h.seller, "ORD-20260101-AAAAAAAA", UpdateStatusInput{Status: enums.OrderStatusProcessing})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSellerCancelRefundsAndRestocks(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 1000, 5)
	deal := h.liveDeal(t, p, 700, 4)
	dto := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 2, DealID: &deal.ID})
	require.Equal(t, 3, h.stock(t, p.ID))
	require.Equal(t, 2, h.dealSold(t, deal.ID))

	updated, err := h.svc.UpdateOrderStatus(context.Background(), h.seller, dto.OrderNumber, UpdateStatusInput{Status: enums.OrderStatusCancelled})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusCancelled, updated.Status)
	assert.NotNil(t, updated.CancelledAt)
	require.NotNil(t, updated.EscrowStatus)
	assert.Equal(t, enums.EscrowStateRefunded, *updated.EscrowStatus)
	assert.Equal(t, 5, h.stock(t, p.ID))
	assert.Equal(t, 0, h.dealSold(t, deal.ID))

	_, err = h.svc.UpdateOrderStatus(context.Background(), h.seller, dto.OrderNumber, UpdateStatusInput{Status: enums.OrderStatusCancelled})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidTransition))
}

func TestGetOrderAccess(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 1000, 5)
	dto := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 1})
	ctx := context.Background()

	for _, principal := range []auth.Principal{h.buyer, h.seller, {UserID: uuid.New(), Role: enums.MemberRoleAdmin}} {
		got, err := h.svc.GetOrder(ctx, principal, dto.OrderNumber)
		require.NoError(t, err)
		assert.Equal(t, dto.ID, got.ID)
	}

	stranger := auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleBuyer}
	_, err := h.svc.GetOrder(ctx, stranger, dto.OrderNumber)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	agent := auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleAgent}
	_, err = h.svc.GetOrder(ctx, agent, dto.OrderNumber)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "pending orders are not visible to agents")

	_, err = h.svc.GetOrder(ctx, h.buyer, "not-an-order")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListOrdersScopesByRole(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 1000, 20)
	for i := 0; i < 3; i++ {
		h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 1})
	}
	otherBuyer := auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleBuyer}
	_, err := h.svc.CreateOrder(context.Background(), otherBuyer, CreateOrderInput{ProductID: p.ID, Quantity: 1, DeliveryAddress: address()})
	require.NoError(t, err)

	page, err := h.svc.ListOrders(context.Background(), h.buyer, ListOrdersInput{Params: paramsOf(2)})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	next, err := h.svc.ListOrders(context.Background(), h.buyer, ListOrdersInput{Params: paramsOf(2, page.NextCursor)})
	require.NoError(t, err)
	assert.Len(t, next.Items, 1)
	assert.Empty(t, next.NextCursor)

	sellerPage, err := h.svc.ListOrders(context.Background(), h.seller, ListOrdersInput{})
	require.NoError(t, err)
	assert.Len(t, sellerPage.Items, 4)

	shipped := enums.OrderStatusShipped
	filtered, err := h.svc.ListOrders(context.Background(), h.seller, ListOrdersInput{Status: &shipped})
	require.NoError(t, err)
	assert.Empty(t, filtered.Items)
}

func TestExpireStalePendingCancelsOldOrders(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, 1000, 5)

	clock := h.svc.now
	h.svc.now = func() time.Time { return clock().Add(-96 * time.Hour) }
	stale := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 2})
	h.svc.now = clock
	fresh := h.order(t, CreateOrderInput{ProductID: p.ID, Quantity: 1})
	require.Equal(t, 2, h.stock(t, p.ID))

	n, err := h.svc.ExpireStalePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.svc.GetOrder(context.Background(), h.buyer, stale.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, got.Status)
	assert.Equal(t, enums.EscrowStateRefunded, *got.EscrowStatus)

	got, err = h.svc.GetOrder(context.Background(), h.buyer, fresh.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, got.Status)
	assert.Equal(t, 4, h.stock(t, p.ID))
	assert.EqualValues(t, 1, h.countEvents(t, enums.EventOrderExpired))

	n, err = h.svc.ExpireStalePending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil, nil, nil, nil, Options{})
	require.Error(t, err)
}
