package disputes

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/internal/deals"
	"github.com/angelmondragon/flashmart-backend/internal/delivery"
	"github.com/angelmondragon/flashmart-backend/internal/escrow"
	"github.com/angelmondragon/flashmart-backend/internal/orders"
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
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
	"github.com/angelmondragon/flashmart-backend/pkg/types"
)

type harness struct {
	svc      Service
	orders   orders.Service
	delivery delivery.Service
	client   *db.Client
	conn     *gorm.DB
	ledger   escrow.Ledger
	buyer    auth.Principal
	seller   auth.Principal
	admin    auth.Principal
}

func newHarness(t *testing.T) harness {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	m := metrics.NewMarketplaceMetrics(prometheus.NewRegistry())
	ledger, err := escrow.NewService(escrow.NewRepository(conn), emitter, nil, logger.Nop())
	require.NoError(t, err)
	catalog, err := product.NewService(product.NewRepository(conn))
	require.NoError(t, err)
	dealSvc, err := deals.NewService(deals.NewRepository(conn), client, catalog, emitter, m, logger.Nop(), 7*24*time.Hour)
	require.NoError(t, err)

	orderRepo := orders.NewRepository(conn)
	orderSvc, err := orders.NewService(orderRepo, client, catalog, dealSvc, ledger, emitter, logger.Nop(), orders.Options{MaxQuantity: 10, PendingTTL: 72 * time.Hour})
	require.NoError(t, err)
	deliverySvc, err := delivery.NewService(delivery.NewRepository(conn), orderRepo, client, ledger, emitter, m, logger.Nop(), true)
	require.NoError(t, err)
	svc, err := NewService(NewRepository(conn), orderRepo, client, ledger, catalog, dealSvc, emitter, logger.Nop())
	require.NoError(t, err)
	return harness{
		svc:      svc,
		orders:   orderSvc,
		delivery: deliverySvc,
		client:   client,
		conn:     conn,
		ledger:   ledger,
		buyer:    auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleBuyer},
		seller:   auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleSeller},
		admin:    auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleAdmin},
	}
}

// dealOrder places a real order for two units at the deal price: stock 5, deal pool of 3.
func (h harness) dealOrder(t *testing.T) (*models.Order, uuid.UUID, uuid.UUID) {
	t.Helper()
	now := time.Now().UTC()
	p := &models.Product{
		ID:            uuid.New(),
		SellerID:      h.seller.UserID,
		Name:          "Walnut cutting board",
		PriceCents:    4000,
		Currency:      enums.CurrencyUSD,
		StockQuantity: 5,
		IsActive:      true,
	}
	require.NoError(t, h.conn.Create(p).Error)
	deal := &models.FlashDeal{
		ID:                 uuid.New(),
		ProductID:          p.ID,
		SellerID:           p.SellerID,
		OriginalPriceCents: p.PriceCents,
		DealPriceCents:     3000,
		DiscountPercentage: 25,
		QuantityAvailable:  3,
		StartsAt:           now.Add(-time.Hour),
		EndsAt:             now.Add(time.Hour),
		IsActive:           true,
	}
	require.NoError(t, h.conn.Create(deal).Error)

	dto, err := h.orders.CreateOrder(context.Background(), h.buyer, orders.CreateOrderInput{
		ProductID:       p.ID,
		Quantity:        2,
		DealID:          &deal.ID,
		DeliveryAddress: types.Address{RecipientName: "Ada", Line1: "1 Main", City: "Town", PostalCode: "99999", Country: "US"},
	})
	require.NoError(t, err)
	var order models.Order
	require.NoError(t, h.conn.First(&order, "id = ?", dto.ID).Error)
	require.NotNil(t, order.DealPriceCents)
	return &order, p.ID, deal.ID
}

func (h harness) stockAndSold(t *testing.T, productID, dealID uuid.UUID) (int, int) {
	t.Helper()
	var p models.Product
	require.NoError(t, h.conn.First(&p, "id = ?", productID).Error)
	var d models.FlashDeal
	require.NoError(t, h.conn.Unscoped().First(&d, "id = ?", dealID).Error)
	return p.StockQuantity, d.QuantitySold
}

func (h harness) seedOrder(t *testing.T, status enums.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:               uuid.New(),
		OrderNumber:      orders.NewOrderNumber(time.Now()),
		BuyerID:          h.buyer.UserID,
		SellerID:         uuid.New(),
		ProductID:        uuid.New(),
		Quantity:         2,
		UnitPriceCents:   1250,
		TotalAmountCents: 2500,
		Currency:         enums.CurrencyUSD,
		DeliveryAddress:  types.Address{RecipientName: "Ada", Line1: "1 Main", City: "Town", PostalCode: "99999", Country: "US"},
		Status:           status,
	}
	require.NoError(t, h.conn.Omit("Escrow", "Assignment").Create(order).Error)
	require.NoError(t, h.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := h.ledger.Hold(context.Background(), tx, escrow.HoldInput{OrderID: order.ID, AmountCents: order.TotalAmountCents, Currency: order.Currency})
		return err
	}))
	return order
}

func (h harness) report(t *testing.T, order *models.Order) *DisputeDTO {
	t.Helper()
	dto, err := h.svc.ReportIssue(context.Background(), h.buyer, order.OrderNumber, ReportInput{Description: "parcel arrived crushed"})
	require.NoError(t, err)
	return dto
}

func TestReportIssueFreezesEscrow(t *testing.T) {
	for _, status := range []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusShipped, enums.OrderStatusDelivered} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			order := h.seedOrder(t, status)

			dto := h.report(t, order)
			assert.Equal(t, enums.DisputeStatusOpen, dto.Status)
			assert.Equal(t, enums.OrderStatusDisputed, dto.OrderStatus)
			require.NotNil(t, dto.EscrowStatus)
			assert.Equal(t, enums.EscrowStateDisputed, *dto.EscrowStatus)
		})
	}
}

func TestReportIssueRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, status := range []enums.OrderStatus{enums.OrderStatusProcessing, enums.OrderStatusCompleted, enums.OrderStatusCancelled} {
		order := h.seedOrder(t, status)
		_, err := h.svc.ReportIssue(ctx, h.buyer, order.OrderNumber, ReportInput{Description: "late"})
		require.Error(t, err, status)
		assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidState), status)
	}

	order := h.seedOrder(t, enums.OrderStatusShipped)
	_, err := h.svc.ReportIssue(ctx, h.buyer, order.OrderNumber, ReportInput{Description: "   "})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	stranger := auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleBuyer}
	_, err = h.svc.ReportIssue(ctx, stranger, order.OrderNumber, ReportInput{Description: "late"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	h.report(t, order)
	_, err = h.svc.ReportIssue(ctx, h.buyer, order.OrderNumber, ReportInput{Description: "again"})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidState))
}

func TestResolveRelease(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, enums.OrderStatusDelivered)
	h.report(t, order)
	note := "  seller provided photos "

	dto, err := h.svc.ResolveDispute(context.Background(), h.admin, order.OrderNumber, ResolveInput{Resolution: enums.DisputeResolutionRelease, Note: &note})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusResolved, dto.Status)
	assert.Equal(t, enums.OrderStatusCompleted, dto.OrderStatus)
	assert.Equal(t, enums.EscrowStateReleased, *dto.EscrowStatus)
	require.NotNil(t, dto.ResolutionNote)
	assert.Equal(t, "seller provided photos", *dto.ResolutionNote)

	rec, err := h.ledger.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowTriggerDisputeResolution, *rec.ReleaseTrigger)
}

func TestResolveRefundIsIdempotent(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, enums.OrderStatusShipped)
	h.report(t, order)
	ctx := context.Background()

	first, err := h.svc.ResolveDispute(ctx, h.admin, order.OrderNumber, ResolveInput{Resolution: enums.DisputeResolutionRefund})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, first.OrderStatus)
	assert.Equal(t, enums.EscrowStateRefunded, *first.EscrowStatus)

	again, err := h.svc.ResolveDispute(ctx, h.admin, order.OrderNumber, ResolveInput{Resolution: enums.DisputeResolutionRefund})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = h.svc.ResolveDispute(ctx, h.admin, order.OrderNumber, ResolveInput{Resolution: enums.DisputeResolutionRelease})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	var events []models.EscrowEvent
	require.NoError(t, h.conn.Where("order_id = ?", order.ID).Find(&events).Error)
	assert.Len(t, events, 3, "held, frozen, refunded and nothing more")
}

func TestResolveGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.seedOrder(t, enums.OrderStatusShipped)

	_, err := h.svc.ResolveDispute(ctx, h.admin, order.OrderNumber, ResolveInput{Resolution: enums.DisputeResolutionRefund})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	h.report(t, order)
	_, err = h.svc.ResolveDispute(ctx, h.buyer, order.OrderNumber, ResolveInput{Resolution: enums.DisputeResolutionRefund})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.ResolveDispute(ctx, h.admin, order.OrderNumber, ResolveInput{Resolution: "split"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestGetAndListDisputes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedOrder(t, enums.OrderStatusShipped)
	b := h.seedOrder(t, enums.OrderStatusDelivered)
	h.report(t, a)
	h.report(t, b)
	_, err := h.svc.ResolveDispute(ctx, h.admin, b.OrderNumber, ResolveInput{Resolution: enums.DisputeResolutionRelease})
	require.NoError(t, err)

	got, err := h.svc.GetDispute(ctx, h.buyer, a.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.OrderID)

	_, err = h.svc.GetDispute(ctx, auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleSeller}, a.OrderNumber)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	page, err := h.svc.ListOpen(ctx, h.admin, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, a.ID, page.Items[0].OrderID)
}

func TestRefundOfPendingDisputeReturnsStock(t *testing.T) {
	h := newHarness(t)
	order, productID, dealID := h.dealOrder(t)
	stock, sold := h.stockAndSold(t, productID, dealID)
	require.Equal(t, 3, stock)
	require.Equal(t, 2, sold)

	reported := h.report(t, order)
	assert.Equal(t, enums.OrderStatusPending, reported.FromStatus)

	dto, err := h.svc.ResolveDispute(context.Background(), h.admin, order.OrderNumber, ResolveInput{Resolution: enums.DisputeResolutionRefund})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, dto.OrderStatus)
	assert.Equal(t, enums.EscrowStateRefunded, *dto.EscrowStatus)

	stock, sold = h.stockAndSold(t, productID, dealID)
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, sold)

	_, err = h.svc.ResolveDispute(context.Background(), h.admin, order.OrderNumber, ResolveInput{Resolution: enums.DisputeResolutionRefund})
	require.NoError(t, err)
	stock, sold = h.stockAndSold(t, productID, dealID)
	assert.Equal(t, 5, stock, "a repeated refund must not restock twice")
	assert.Equal(t, 0, sold)
}

func TestRefundOfShippedDisputeKeepsStock(t *testing.T) {
	h := newHarness(t)
	order, productID, dealID := h.dealOrder(t)
	require.NoError(t, h.conn.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", enums.OrderStatusShipped).Error)

	reported := h.report(t, order)
	assert.Equal(t, enums.OrderStatusShipped, reported.FromStatus)

	_, err := h.svc.ResolveDispute(context.Background(), h.admin, order.OrderNumber, ResolveInput{Resolution: enums.DisputeResolutionRefund})
	require.NoError(t, err)

	stock, sold := h.stockAndSold(t, productID, dealID)
	assert.Equal(t, 3, stock)
	assert.Equal(t, 2, sold)
}

func TestReleaseOfPendingDisputeKeepsStock(t *testing.T) {
	h := newHarness(t)
	order, productID, dealID := h.dealOrder(t)
	h.report(t, order)

	_, err := h.svc.ResolveDispute(context.Background(), h.admin, order.OrderNumber, ResolveInput{Resolution: enums.DisputeResolutionRelease})
	require.NoError(t, err)

	stock, sold := h.stockAndSold(t, productID, dealID)
	assert.Equal(t, 3, stock)
	assert.Equal(t, 2, sold)
}

func TestConfirmReceivedOnDisputedOrderKeepsEscrowFrozen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.seedOrder(t, enums.OrderStatusShipped)
	h.report(t, order)

	signature := "data:image/png;base64," + base64.StdEncoding.EncodeToString(
		append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...))
	_, err := h.delivery.ConfirmReceived(ctx, h.buyer, order.OrderNumber, delivery.ConfirmInput{SignerName: "Ada", SignatureImage: signature})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidState))

	rec, err := h.ledger.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStateDisputed, rec.State)
	assert.Nil(t, rec.ReleaseTrigger)

	var stored models.Order
	require.NoError(t, h.conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusDisputed, stored.Status)
	assert.Nil(t, stored.BuyerConfirmedAt)
}
