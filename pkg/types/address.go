package types

import (
	"fmt"
	"strings"
)

// Address is the delivery destination captured on an order. It is stored as json.
type Address struct {
	RecipientName string  `json:"recipient_name" validate:"required"`
	Line1         string  `json:"line1" validate:"required"`
	Line2         *string `json:"line2,omitempty"`
	City          string  `json:"city" validate:"required"`
	State         string  `json:"state"`
	PostalCode    string  `json:"postal_code" validate:"required"`
	Country       string  `json:"country"`
	Phone         *string `json:"phone,omitempty"`
}

// Validate checks the fields required to hand the parcel to a courier.
func (a Address) Validate() error {
	if strings.TrimSpace(a.RecipientName) == "" {
		return fmt.Errorf("address: missing recipient_name")
	}
	if strings.TrimSpace(a.Line1) == "" {
		return fmt.Errorf("address: missing line1")
	}
	if strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("address: missing city")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		return fmt.Errorf("address: missing postal_code")
	}
	return nil
}

// Normalized trims whitespace and defaults the country code.
func (a Address) Normalized() Address {
	out := a
	out.RecipientName = strings.TrimSpace(a.RecipientName)
	out.Line1 = strings.TrimSpace(a.Line1)
	out.City = strings.TrimSpace(a.City)
	out.State = strings.TrimSpace(a.State)
	out.PostalCode = strings.TrimSpace(a.PostalCode)
	out.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if out.Country == "" {
		out.Country = "US"
	}
	return out
}
