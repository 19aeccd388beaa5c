package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cashback-referral-system/shopify"
)

// OrderPaidEvent is the platform-neutral form of an "order paid" notification.
type OrderPaidEvent struct {
	OrderID       string             `json:"order_id"`
	OrderGID      string             `json:"order_gid"`
	OrderName     string             `json:"order_name"`
	Currency      string             `json:"currency"`
	Customer      CustomerIdentity   `json:"customer"`
	DiscountCodes []string           `json:"discount_codes"`
	LineItems     []shopify.LineItem `json:"line_items"`
}

// flexibleID accepts ids sent as JSON numbers or strings.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s", string(b))
	}
	*f = flexibleID(n.String())
	return nil
}

type orderPaidPayload struct {
	ID                flexibleID `json:"id"`
	AdminGraphQLAPIID string     `json:"admin_graphql_api_id"`
	Name              string     `json:"name"`
	Currency          string     `json:"currency"`
	Email             string     `json:"email"`
	Customer          *struct {
		ID                flexibleID `json:"id"`
		AdminGraphQLAPIID string     `json:"admin_graphql_api_id"`
		Email             string     `json:"email"`
		FirstName         string     `json:"first_name"`
		LastName          string     `json:"last_name"`
	} `json:"customer"`
	DiscountCodes []struct {
		Code string `json:"code"`
	} `json:"discount_codes"`
	LineItems []struct {
		ProductID flexibleID `json:"product_id"`
		Title     string     `json:"title"`
		Quantity  int        `json:"quantity"`
	} `json:"line_items"`
}

// ParseOrderPaidWebhook decodes an orders/paid webhook body.
func ParseOrderPaidWebhook(body []byte) (OrderPaidEvent, error) {
	var p orderPaidPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return OrderPaidEvent{}, fmt.Errorf("decode order webhook: %w", err)
	}

	ev := OrderPaidEvent{
		OrderID:   string(p.ID),
		OrderGID:  p.AdminGraphQLAPIID,
		OrderName: p.Name,
		Currency:  strings.ToUpper(p.Currency),
	}
	if ev.OrderGID == "" {
		ev.OrderGID = shopify.OrderGID(ev.OrderID)
	}
	if p.Customer != nil {
		ev.Customer = CustomerIdentity{
			ExternalID: p.Customer.AdminGraphQLAPIID,
			Email:      p.Customer.Email,
			FirstName:  p.Customer.FirstName,
			LastName:   p.Customer.LastName,
		}
		if ev.Customer.ExternalID == "" {
			ev.Customer.ExternalID = shopify.CustomerGID(string(p.Customer.ID))
		}
		if ev.Customer.Email == "" {
			ev.Customer.Email = p.Email
		}
	}
	for _, dc := range p.DiscountCodes {
		if code := NormalizeCode(dc.Code); code != "" {
			ev.DiscountCodes = append(ev.DiscountCodes, code)
		}
	}
	for _, li := range p.LineItems {
		item := shopify.LineItem{Title: li.Title, Quantity: li.Quantity}
		if li.ProductID != "" {
			if _, err := strconv.ParseInt(string(li.ProductID), 10, 64); err == nil {
				item.ProductID = "gid://shopify/Product/" + string(li.ProductID)
			} else {
				item.ProductID = string(li.ProductID)
			}
		}
		ev.LineItems = append(ev.LineItems, item)
	}
	return ev, nil
}
