package notifications

import (
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox/payloads"
)

var notifiableEvents = map[enums.OutboxEventType]struct{}{
	enums.EventOrderCreated:          {},
	enums.EventOrderStatusChanged:    {},
	enums.EventOrderCompleted:        {},
	enums.EventOrderDisputed:         {},
	enums.EventOrderExpired:          {},
	enums.EventDisputeResolved:       {},
	enums.EventDeliveryClaimed:       {},
	enums.EventDeliveryProofUploaded: {},
}

// buildNotifications decides who hears about an order event and what they are told. Recipients
// come from the stored order, not the payload, so every event type resolves both parties.
func buildNotifications(eventType enums.OutboxEventType, data json.RawMessage, order *models.Order) ([]models.Notification, error) {
	buyer := recipient{order: order, toBuyer: true}
	seller := recipient{order: order}
	link := fmt.Sprintf("/orders/%s", order.OrderNumber)

	switch eventType {
	case enums.EventOrderCreated:
		var p payloads.OrderCreatedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		amount := p.Currency.FormatCents(int64(p.TotalAmountCents))
		return []models.Notification{
			buyer.note(enums.NotificationTypeOrderUpdate, "Order placed",
				fmt.Sprintf("Order %s for %s is confirmed. Funds are held until you confirm delivery.", p.OrderNumber, amount), link),
			seller.note(enums.NotificationTypeOrderUpdate, "New order",
				fmt.Sprintf("You received order %s (%d item(s), %s).", p.OrderNumber, p.Quantity, amount), link),
		}, nil

	case enums.EventOrderStatusChanged:
		var p payloads.OrderStatusChangedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		message := fmt.Sprintf("Order %s is now %s.", p.OrderNumber, p.To)
		if p.To == enums.OrderStatusShipped && p.TrackingNumber != nil && *p.TrackingNumber != "" {
			message = fmt.Sprintf("Order %s has shipped. Tracking number: %s.", p.OrderNumber, *p.TrackingNumber)
		}
		if p.To == enums.OrderStatusCancelled {
			message = fmt.Sprintf("Order %s was cancelled by the seller. Your payment has been refunded.", p.OrderNumber)
		}
		return []models.Notification{
			buyer.note(enums.NotificationTypeOrderUpdate, "Order update", message, link),
		}, nil

	case enums.EventOrderCompleted:
		var p payloads.OrderCompletedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return []models.Notification{
			seller.note(enums.NotificationTypeOrderUpdate, "Payment released",
				fmt.Sprintf("Order %s is complete and the escrowed funds were released to you.", p.OrderNumber), link),
		}, nil

	case enums.EventOrderDisputed:
		var p payloads.OrderDisputedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return []models.Notification{
			seller.note(enums.NotificationTypeDisputeUpdate, "Issue reported",
				fmt.Sprintf("The buyer reported a problem with order %s. Funds are frozen until an admin reviews it.", p.OrderNumber), link),
		}, nil

	case enums.EventOrderExpired:
		var p payloads.OrderExpiredEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return []models.Notification{
			buyer.note(enums.NotificationTypeOrderUpdate, "Order expired",
				fmt.Sprintf("Order %s was not processed in time and has been cancelled. Your payment has been refunded.", p.OrderNumber), link),
		}, nil

	case enums.EventDisputeResolved:
		var p payloads.DisputeResolvedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		buyerMsg := fmt.Sprintf("Your dispute on order %s was resolved in your favour and the payment refunded.", p.OrderNumber)
		sellerMsg := fmt.Sprintf("The dispute on order %s was resolved for the buyer. The payment was refunded.", p.OrderNumber)
		if p.Resolution == enums.DisputeResolutionRelease {
			buyerMsg = fmt.Sprintf("Your dispute on order %s was reviewed and the payment released to the seller.", p.OrderNumber)
			sellerMsg = fmt.Sprintf("The dispute on order %s was resolved in your favour and the funds released.", p.OrderNumber)
		}
		return []models.Notification{
			buyer.note(enums.NotificationTypeDisputeUpdate, "Dispute resolved", buyerMsg, link),
			seller.note(enums.NotificationTypeDisputeUpdate, "Dispute resolved", sellerMsg, link),
		}, nil

	case enums.EventDeliveryClaimed:
		var p payloads.DeliveryClaimedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return []models.Notification{
			buyer.note(enums.NotificationTypeDeliveryUpdate, "Courier assigned",
				fmt.Sprintf("A delivery agent picked up order %s.", p.OrderNumber), link),
			seller.note(enums.NotificationTypeDeliveryUpdate, "Courier assigned",
				fmt.Sprintf("Order %s was claimed by a delivery agent.", p.OrderNumber), link),
		}, nil

	case enums.EventDeliveryProofUploaded:
		var p payloads.DeliveryProofUploadedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return []models.Notification{
			buyer.note(enums.NotificationTypeDeliveryUpdate, "Parcel delivered",
				fmt.Sprintf("Order %s was dropped off. Please confirm receipt to release payment.", p.OrderNumber), link),
		}, nil
	}
	return nil, nil
}

type recipient struct {
	order   *models.Order
	toBuyer bool
}

func (r recipient) note(kind enums.NotificationType, title, message, link string) models.Notification {
	orderID := r.order.ID
	to := r.order.SellerID
	if r.toBuyer {
		to = r.order.BuyerID
	}
	return models.Notification{
		RecipientID: to,
		OrderID:     &orderID,
		Type:        kind,
		Title:       title,
		Message:     message,
		Link:        &link,
	}
}
