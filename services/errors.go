package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrRewardNotFound          = errors.New("reward not found")
	ErrReferrerNotFound        = errors.New("referrer not found")
	ErrCodeNotFound            = errors.New("code not found")
	ErrInvalidState            = errors.New("reward is not pending")
	ErrNoOrderAvailable        = errors.New("no order available to refund against")
	ErrOrderTotalUnknown       = errors.New("order total unknown")
	ErrRefundCeilingExceeded   = errors.New("refund ceiling exceeded")
	ErrCodeGenerationExhausted = errors.New("could not generate a unique code")
	ErrMissingEventFields      = errors.New("purchase event is missing required fields")
	ErrSettlementInProgress    = errors.New("settlement already in progress for this reward")
	ErrPlatformUnavailable     = errors.New("commerce platform is not configured")
)

// CeilingExceededError reports how much headroom is left on the origin order.
type CeilingExceededError struct {
	OrderGID    string
	OrderTotal  decimal.Decimal
	Ceiling     decimal.Decimal
	AlreadyPaid decimal.Decimal
	Requested   decimal.Decimal
	Remaining   decimal.Decimal
}

func (e *CeilingExceededError) Error() string {
	return fmt.Sprintf("refund ceiling exceeded for %s: ceiling %s, already paid %s, requested %s, remaining %s",
		e.OrderGID, e.Ceiling.StringFixed(2), e.AlreadyPaid.StringFixed(2), e.Requested.StringFixed(2), e.Remaining.StringFixed(2))
}

func (e *CeilingExceededError) Is(target error) bool {
	return target == ErrRefundCeilingExceeded
}

// RefundError wraps a failed refund call. The reward stays PENDING.
type RefundError struct {
	OrderGID string
	Attempts int
	Err      error
}

func (e *RefundError) Error() string {
	return fmt.Sprintf("refund for %s failed after %d attempt(s): %v", e.OrderGID, e.Attempts, e.Err)
}

func (e *RefundError) Unwrap() error {
	return e.Err
}
