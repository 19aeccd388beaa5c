package shopify

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

type moneyBag struct {
	ShopMoney struct {
		Amount       decimal.Decimal `json:"amount"`
		CurrencyCode string          `json:"currencyCode"`
	} `json:"shopMoney"`
}

type orderNode struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	TotalPriceSet *moneyBag `json:"totalPriceSet"`
	LineItems     struct {
		Nodes []struct {
			Title    string `json:"title"`
			Quantity int    `json:"quantity"`
			Product  *struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"product"`
		} `json:"nodes"`
	} `json:"lineItems"`
	Transactions []struct {
		ID        string          `json:"id"`
		Kind      TransactionKind `json:"kind"`
		Status    string          `json:"status"`
		Gateway   string          `json:"gateway"`
		AmountSet *moneyBag       `json:"amountSet"`
	} `json:"transactions"`
}

// GetOrder fetches totals, line items and payment transactions for an order.
func (c *Client) GetOrder(ctx context.Context, orderGID string) (*Order, error) {
	var data struct {
		Order *orderNode `json:"order"`
	}
	if err := c.do(ctx, orderQuery, map[string]any{"id": OrderGID(orderGID)}, &data); err != nil {
		return nil, err
	}
	if data.Order == nil {
		return nil, fmt.Errorf("shopify: order %s not found", orderGID)
	}

	n := data.Order
	order := &Order{ID: n.ID, Name: n.Name}
	if n.TotalPriceSet != nil {
		total := n.TotalPriceSet.ShopMoney.Amount
		order.Total = &total
		order.Currency = n.TotalPriceSet.ShopMoney.CurrencyCode
	}
	for _, li := range n.LineItems.Nodes {
		item := LineItem{Title: li.Title, Quantity: li.Quantity}
		if li.Product != nil {
			item.ProductID = li.Product.ID
			if li.Product.Title != "" {
				item.Title = li.Product.Title
			}
		}
		order.LineItems = append(order.LineItems, item)
	}
	for _, tx := range n.Transactions {
		t := Transaction{ID: tx.ID, Kind: tx.Kind, Status: tx.Status, Gateway: tx.Gateway}
		if tx.AmountSet != nil {
			t.Amount = tx.AmountSet.ShopMoney.Amount
		}
		order.Transactions = append(order.Transactions, t)
	}
	return order, nil
}

// CreateRefund issues a refund. With a parent transaction the money goes back
// through the original payment; without one it is recorded on the fallback gateway.
func (c *Client) CreateRefund(ctx context.Context, r RefundRequest) (*Refund, error) {
	orderID := OrderGID(r.OrderGID)
	tx := map[string]any{
		"orderId": orderID,
		"amount":  r.Amount.StringFixed(2),
		"kind":    string(TransactionKindRefund),
		"gateway": r.Gateway,
	}
	if r.ParentTransactionID != "" {
		tx["parentId"] = r.ParentTransactionID
	}
	if tx["gateway"] == "" {
		tx["gateway"] = FallbackGateway
	}
	input := map[string]any{
		"orderId":      orderID,
		"note":         r.Note,
		"notify":       false,
		"transactions": []map[string]any{tx},
	}

	var data struct {
		RefundCreate struct {
			Refund *struct {
				ID string `json:"id"`
			} `json:"refund"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"refundCreate"`
	}
	if err := c.do(ctx, refundMutation, map[string]any{"input": input}, &data); err != nil {
		return nil, err
	}
	if err := classifyUserErrors(data.RefundCreate.UserErrors); err != nil {
		return nil, err
	}
	if data.RefundCreate.Refund == nil {
		return nil, fmt.Errorf("shopify: refundCreate returned no refund")
	}
	return &Refund{ID: data.RefundCreate.Refund.ID}, nil
}
