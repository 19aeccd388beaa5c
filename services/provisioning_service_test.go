package services

import (
	"context"
	"errors"
	"testing"

	"cashback-referral-system/config"
	"cashback-referral-system/models"
	"cashback-referral-system/shopify"
)

func TestProvisionCreatesCustomerAndCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.Provisioning.Provision(ctx, ProvisionRequest{Email: " Ada@Example.com ", FirstName: "Ada"})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if !res.CustomerCreated || !res.CodeCreated || res.DiscountID == nil {
		t.Fatalf("result = %+v", res)
	}
	if got := f.Commerce.CreatedCustomers[0].Email; got != "ada@example.com" {
		t.Fatalf("customer email = %s", got)
	}
	if res.Referrer.ExternalCustomerID != f.Commerce.Customers["ada@example.com"].ID {
		t.Fatalf("referrer external id = %s", res.Referrer.ExternalCustomerID)
	}
	if res.Code.HasOrigin() {
		t.Fatal("provisioned code must not have an origin order")
	}

	var logs []models.EmailLog
	f.DB.Find(&logs)
	if len(logs) != 1 || logs[0].Status != models.EmailStatusSent || logs[0].Kind != models.EmailKindCodeIssued {
		t.Fatalf("email logs = %+v", logs)
	}
}

func TestProvisionExistingCustomerReusesCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.Commerce.Customers["ada@example.com"] = &shopify.Customer{ID: "gid://shopify/Customer/42", Email: "ada@example.com", FirstName: "Ada"}

	first, err := f.Provisioning.Provision(ctx, ProvisionRequest{Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if first.CustomerCreated {
		t.Fatal("existing customer must not be recreated")
	}
	second, err := f.Provisioning.Provision(ctx, ProvisionRequest{Email: "ada@example.com", LastName: "Lovelace"})
	if err != nil {
		t.Fatalf("second Provision() error = %v", err)
	}
	if second.CodeCreated || second.Code.Code != first.Code.Code {
		t.Fatalf("code re-minted: %s vs %s", second.Code.Code, first.Code.Code)
	}
	if second.Referrer.LastName == nil || *second.Referrer.LastName != "Lovelace" {
		t.Fatalf("last name not updated: %v", second.Referrer.LastName)
	}
	if f.Publisher.CallCount != 2 {
		t.Fatalf("publish calls = %d, want one per provisioning", f.Publisher.CallCount)
	}
}

func TestProvisionRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.Provisioning.Provision(context.Background(), ProvisionRequest{Email: "not-an-email"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if _, ok := verr.Fields["Email"]; !ok {
		t.Fatalf("fields = %v", verr.Fields)
	}
}

func TestProvisionRequiresPlatform(t *testing.T) {
	f := newFixture(t)
	svc := NewProvisioningService(f.Settings, f.Referrers, f.Codes, nil, f.Notifier, config.NewDiscardLogger())
	if _, err := svc.Provision(context.Background(), ProvisionRequest{Email: "ada@example.com"}); !errors.Is(err, ErrPlatformUnavailable) {
		t.Fatalf("err = %v, want ErrPlatformUnavailable", err)
	}
}
