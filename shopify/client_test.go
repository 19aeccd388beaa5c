package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// recordingServer answers every GraphQL call with the next canned body.
type recordingServer struct {
	mu        sync.Mutex
	responses []string
	status    int
	requests  []graphQLRequest
	tokens    []string
}

func (s *recordingServer) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var req graphQLRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.requests = append(s.requests, req)
	s.tokens = append(s.tokens, r.Header.Get("X-Shopify-Access-Token"))

	if s.status != 0 {
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte("nope"))
		return
	}
	body := `{"data":{}}`
	if len(s.responses) > 0 {
		body = s.responses[0]
		s.responses = s.responses[1:]
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func newTestClient(t *testing.T, srv *recordingServer) *Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(ts.Close)
	return &Client{Endpoint: ts.URL, Token: "shpat_test", HTTPClient: ts.Client()}
}

func TestGetOrderParsesTotalsAndTransactions(t *testing.T) {
	srv := &recordingServer{responses: []string{`{"data":{"order":{
		"id":"gid://shopify/Order/1","name":"#1001",
		"totalPriceSet":{"shopMoney":{"amount":"100.00","currencyCode":"EUR"}},
		"lineItems":{"nodes":[
			{"title":"Pottery","quantity":1,"product":{"id":"gid://shopify/Product/7","title":"Pottery Workshop"}},
			{"title":"Apron","quantity":1,"product":{"id":"gid://shopify/Product/8","title":"Apron"}},
			{"title":"Pottery","quantity":2,"product":{"id":"gid://shopify/Product/7","title":"Pottery Workshop"}}
		]},
		"transactions":[
			{"id":"gid://shopify/OrderTransaction/1","kind":"AUTHORIZATION","status":"SUCCESS","gateway":"stripe","amountSet":{"shopMoney":{"amount":"100.00"}}},
			{"id":"gid://shopify/OrderTransaction/2","kind":"CAPTURE","status":"SUCCESS","gateway":"stripe","amountSet":{"shopMoney":{"amount":"100.00"}}}
		]}}}`}}
	client := newTestClient(t, srv)

	order, err := client.GetOrder(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if order.Total == nil || !order.Total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("Total = %v, want 100", order.Total)
	}
	if order.Currency != "EUR" {
		t.Errorf("Currency = %q", order.Currency)
	}
	tx := order.RefundableTransaction()
	if tx == nil || tx.ID != "gid://shopify/OrderTransaction/2" {
		t.Fatalf("RefundableTransaction() = %+v, want the capture", tx)
	}
	primary := order.PrimaryProduct()
	if primary == nil || primary.ProductID != "gid://shopify/Product/7" || primary.Quantity != 3 {
		t.Fatalf("PrimaryProduct() = %+v", primary)
	}
	if got := srv.requests[0].Variables["id"]; got != "gid://shopify/Order/1" {
		t.Errorf("order id variable = %v, want normalized gid", got)
	}
	if srv.tokens[0] != "shpat_test" {
		t.Errorf("access token header = %q", srv.tokens[0])
	}
}

func TestPrimaryProductIsFirstLineItem(t *testing.T) {
	tests := []struct {
		name      string
		items     []LineItem
		wantTitle string
		wantQty   int
	}{
		{"first wins over larger later line", []LineItem{{ProductID: "A", Title: "A", Quantity: 1}, {ProductID: "B", Title: "B", Quantity: 3}}, "A", 1},
		{"same product summed", []LineItem{{ProductID: "A", Title: "A", Quantity: 1}, {ProductID: "B", Title: "B", Quantity: 3}, {ProductID: "A", Title: "A", Quantity: 2}}, "A", 3},
		{"title used without product id", []LineItem{{Title: "Tip", Quantity: 1}, {Title: "Tip", Quantity: 1}}, "Tip", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &Order{LineItems: tt.items}
			got := order.PrimaryProduct()
			if got == nil || got.Title != tt.wantTitle || got.Quantity != tt.wantQty {
				t.Fatalf("PrimaryProduct() = %+v, want %s x%d", got, tt.wantTitle, tt.wantQty)
			}
			if tt.items[0].Quantity != 1 {
				t.Fatal("PrimaryProduct must not modify the order's line items")
			}
		})
	}

	if (&Order{}).PrimaryProduct() != nil {
		t.Fatal("empty order should have no primary product")
	}
}

func TestGetOrderWithoutTotal(t *testing.T) {
	srv := &recordingServer{responses: []string{`{"data":{"order":{"id":"gid://shopify/Order/2","name":"#1002","lineItems":{"nodes":[]},"transactions":[]}}}`}}
	client := newTestClient(t, srv)

	order, err := client.GetOrder(context.Background(), "gid://shopify/Order/2")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if order.Total != nil {
		t.Fatalf("Total = %v, want nil", order.Total)
	}
	if order.RefundableTransaction() != nil {
		t.Fatal("expected no refundable transaction")
	}
}

func TestCreateRefundErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		status     int
		wantLocked bool
		wantUser   bool
	}{
		{
			name:       "locked user error",
			body:       `{"data":{"refundCreate":{"refund":null,"userErrors":[{"field":["orderId"],"message":"Order is locked for editing"}]}}}`,
			wantLocked: true,
		},
		{
			name:       "locked top-level error",
			body:       `{"errors":[{"message":"The order is being modified by another request"}]}`,
			wantLocked: true,
		},
		{
			name:       "http 423",
			status:     http.StatusLocked,
			wantLocked: true,
		},
		{
			name:     "validation error",
			body:     `{"data":{"refundCreate":{"refund":null,"userErrors":[{"field":["transactions","0","amount"],"message":"Amount exceeds refundable"}]}}}`,
			wantUser: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &recordingServer{status: tt.status}
			if tt.body != "" {
				srv.responses = []string{tt.body}
			}
			client := newTestClient(t, srv)

			_, err := client.CreateRefund(context.Background(), RefundRequest{
				OrderGID: "1", Amount: decimal.NewFromInt(10), ParentTransactionID: "gid://shopify/OrderTransaction/2",
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrOrderLocked); got != tt.wantLocked {
				t.Errorf("errors.Is(ErrOrderLocked) = %v, want %v (err=%v)", got, tt.wantLocked, err)
			}
			var ue UserErrors
			if got := errors.As(err, &ue); got != tt.wantUser {
				t.Errorf("errors.As(UserErrors) = %v, want %v", got, tt.wantUser)
			}
		})
	}
}

func TestCreateRefundFallbackGateway(t *testing.T) {
	srv := &recordingServer{responses: []string{`{"data":{"refundCreate":{"refund":{"id":"gid://shopify/Refund/9"},"userErrors":[]}}}`}}
	client := newTestClient(t, srv)

	refund, err := client.CreateRefund(context.Background(), RefundRequest{
		OrderGID: "gid://shopify/Order/1", Amount: decimal.RequireFromString("12.5"), Note: "cashback",
	})
	if err != nil {
		t.Fatalf("CreateRefund() error = %v", err)
	}
	if refund.ID != "gid://shopify/Refund/9" {
		t.Errorf("refund id = %q", refund.ID)
	}

	input := srv.requests[0].Variables["input"].(map[string]any)
	txs := input["transactions"].([]any)
	tx := txs[0].(map[string]any)
	if tx["gateway"] != FallbackGateway {
		t.Errorf("gateway = %v, want %s", tx["gateway"], FallbackGateway)
	}
	if _, ok := tx["parentId"]; ok {
		t.Error("fallback refund must not carry a parent transaction")
	}
	if tx["amount"] != "12.50" {
		t.Errorf("amount = %v, want 12.50", tx["amount"])
	}
}

func TestDiscountInputAudience(t *testing.T) {
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	limit := 5
	spec := DiscountSpec{
		Title: "Referral ABC-1234", Code: "ABC-1234",
		Percentage: decimal.RequireFromString("0.15"),
		StartsAt:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:     &end, UsageLimit: &limit,
		Audience: Segments(" ", "gid://shopify/Segment/1", ""),
	}

	input := discountInput(spec)
	selection := input["customerSelection"].(map[string]any)
	segments, ok := selection["customerSegments"].(map[string]any)
	if !ok {
		t.Fatalf("customerSelection = %v, want segment selection", selection)
	}
	ids := segments["add"].([]string)
	if len(ids) != 1 || ids[0] != "gid://shopify/Segment/1" {
		t.Errorf("segment ids = %v", ids)
	}
	if input["usageLimit"] != 5 {
		t.Errorf("usageLimit = %v", input["usageLimit"])
	}

	spec.Audience = Segments("  ")
	input = discountInput(spec)
	if all := input["customerSelection"].(map[string]any)["all"]; all != true {
		t.Errorf("blank segments should fall back to all customers, got %v", input["customerSelection"])
	}
}

func TestFindCustomerByEmailNotFound(t *testing.T) {
	srv := &recordingServer{responses: []string{`{"data":{"customers":{"nodes":[]}}}`}}
	client := newTestClient(t, srv)

	customer, err := client.FindCustomerByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("FindCustomerByEmail() error = %v", err)
	}
	if customer != nil {
		t.Fatalf("customer = %+v, want nil", customer)
	}
	if q := srv.requests[0].Variables["query"].(string); !strings.Contains(q, "ada@example.com") {
		t.Errorf("search query = %q", q)
	}
}

func TestHTTPErrorIsNotLocked(t *testing.T) {
	srv := &recordingServer{status: http.StatusUnauthorized}
	client := newTestClient(t, srv)

	err := client.DeleteDiscount(context.Background(), "gid://shopify/DiscountCodeNode/1")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want HTTPError 401", err)
	}
	if errors.Is(err, ErrOrderLocked) {
		t.Fatal("401 must not be treated as locked")
	}
}
