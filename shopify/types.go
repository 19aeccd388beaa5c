package shopify

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type CustomerInput struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Audience is who may redeem a discount: every customer, or only members of
// the listed customer segments. The zero value means every customer.
type Audience struct {
	segmentIDs []string
}

func AllCustomers() Audience {
	return Audience{}
}

// Segments restricts a discount to the given segment ids. Blank ids are
// dropped; if none remain the audience is every customer.
func Segments(ids ...string) Audience {
	var kept []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			kept = append(kept, id)
		}
	}
	return Audience{segmentIDs: kept}
}

func (a Audience) IsAll() bool {
	return len(a.segmentIDs) == 0
}

func (a Audience) SegmentIDs() []string {
	return append([]string(nil), a.segmentIDs...)
}

// DiscountSpec describes a basic percentage code discount.
type DiscountSpec struct {
	Title                  string
	Code                   string
	Percentage             decimal.Decimal // fraction in [0,1]
	StartsAt               time.Time
	EndsAt                 *time.Time
	UsageLimit             *int // nil = unlimited
	AppliesOncePerCustomer bool
	Audience               Audience
}

type TransactionKind string

const (
	TransactionKindSale          TransactionKind = "SALE"
	TransactionKindCapture       TransactionKind = "CAPTURE"
	TransactionKindAuthorization TransactionKind = "AUTHORIZATION"
	TransactionKindRefund        TransactionKind = "REFUND"
)

type Transaction struct {
	ID      string
	Kind    TransactionKind
	Status  string
	Gateway string
	Amount  decimal.Decimal
}

// Refundable reports whether a refund can be issued against this transaction.
func (t Transaction) Refundable() bool {
	if !strings.EqualFold(t.Status, "SUCCESS") {
		return false
	}
	return t.Kind == TransactionKindSale || t.Kind == TransactionKindCapture
}

type LineItem struct {
	ProductID string
	Title     string
	Quantity  int
}

type Order struct {
	ID           string
	Name         string
	Total        *decimal.Decimal // nil when the platform did not report one
	Currency     string
	LineItems    []LineItem
	Transactions []Transaction
}

// RefundableTransaction returns the first successful sale/capture, or nil.
func (o *Order) RefundableTransaction() *Transaction {
	if o == nil {
		return nil
	}
	for i := range o.Transactions {
		if o.Transactions[i].Refundable() {
			return &o.Transactions[i]
		}
	}
	return nil
}

// PrimaryProduct returns the first line item, with its quantity summed across
// every line of the same product.
func (o *Order) PrimaryProduct() *LineItem {
	if o == nil || len(o.LineItems) == 0 {
		return nil
	}
	primary := o.LineItems[0]
	key := primary.productKey()
	for _, li := range o.LineItems[1:] {
		if li.productKey() == key {
			primary.Quantity += li.Quantity
		}
	}
	return &primary
}

func (li LineItem) productKey() string {
	if li.ProductID != "" {
		return li.ProductID
	}
	return li.Title
}

// FallbackGateway is used when an order has no refundable transaction.
const FallbackGateway = "manual"

type RefundRequest struct {
	OrderGID            string
	Amount              decimal.Decimal
	Currency            string
	Note                string
	ParentTransactionID string // empty means fallback refund
	Gateway             string
}

type Refund struct {
	ID string
}

const orderGIDPrefix = "gid://shopify/Order/"

// OrderGID normalizes a numeric order id to its admin global id.
func OrderGID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "gid://") {
		return id
	}
	return orderGIDPrefix + id
}

// CustomerGID normalizes a numeric customer id to its admin global id.
func CustomerGID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "gid://") {
		return id
	}
	return "gid://shopify/Customer/" + id
}
