package enums

import "fmt"

// NotificationType groups in-app notifications for filtering in clients.
type NotificationType string

const (
	NotificationTypeOrderUpdate    NotificationType = "order_update"
	NotificationTypeDeliveryUpdate NotificationType = "delivery_update"
	NotificationTypeDisputeUpdate  NotificationType = "dispute_update"
)

func (n NotificationType) IsValid() bool {
	switch n {
	case NotificationTypeOrderUpdate, NotificationTypeDeliveryUpdate, NotificationTypeDisputeUpdate:
		return true
	}
	return false
}

func ParseNotificationType(value string) (NotificationType, error) {
	if t := NotificationType(value); t.IsValid() {
		return t, nil
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
