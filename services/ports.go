package services

import (
	"context"
	"time"

	"cashback-referral-system/shopify"
)

// Commerce is the slice of the e-commerce platform this service depends on.
// *shopify.Client satisfies it.
type Commerce interface {
	FindCustomerByEmail(ctx context.Context, email string) (*shopify.Customer, error)
	CreateCustomer(ctx context.Context, input shopify.CustomerInput) (*shopify.Customer, error)
	CreateDiscount(ctx context.Context, spec shopify.DiscountSpec) (string, error)
	UpdateDiscount(ctx context.Context, id string, spec shopify.DiscountSpec) error
	DeleteDiscount(ctx context.Context, id string) error
	GetOrder(ctx context.Context, orderGID string) (*shopify.Order, error)
	CreateRefund(ctx context.Context, req shopify.RefundRequest) (*shopify.Refund, error)
}

// Publisher hands a message to the transactional-email pipeline and
// returns the broker's message id.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// Locker serializes work on a key across processes.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Clock is swapped in tests.
type Clock func() time.Time
