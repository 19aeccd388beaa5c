package shopify

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOrderLocked means the order is being modified by another process.
// It is the only platform error worth retrying.
var ErrOrderLocked = errors.New("shopify: order is locked")

type UserError struct {
	Field   []string `json:"field"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
}

// UserErrors are validation errors returned inside a mutation payload.
type UserErrors []UserError

func (e UserErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ue := range e {
		if len(ue.Field) > 0 {
			msgs = append(msgs, fmt.Sprintf("%s: %s", strings.Join(ue.Field, "."), ue.Message))
		} else {
			msgs = append(msgs, ue.Message)
		}
	}
	return "shopify: " + strings.Join(msgs, "; ")
}

// HTTPError is a non-2xx response from the admin API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("shopify returned status %d: %s", e.StatusCode, e.Body)
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type GraphQLErrors []graphQLError

func (e GraphQLErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ge := range e {
		msgs = append(msgs, ge.Message)
	}
	return "shopify graphql: " + strings.Join(msgs, "; ")
}

func isLockedMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "locked") || strings.Contains(msg, "being modified")
}

// classifyUserErrors turns a userErrors list into an error, mapping lock
// conflicts to ErrOrderLocked.
func classifyUserErrors(errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	for _, ue := range errs {
		if strings.EqualFold(ue.Code, "ORDER_LOCKED") || isLockedMessage(ue.Message) {
			return fmt.Errorf("%w: %s", ErrOrderLocked, ue.Message)
		}
	}
	return UserErrors(errs)
}
