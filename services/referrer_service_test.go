package services

import (
	"context"
	"errors"
	"testing"

	"cashback-referral-system/models"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	identity := CustomerIdentity{ExternalID: "gid://shopify/Customer/1", Email: "ada@example.com", FirstName: "Ada"}

	first, err := f.Referrers.GetOrCreate(ctx, identity)
	if err != nil {
		t.Fatalf("first GetOrCreate() error = %v", err)
	}
	second, err := f.Referrers.GetOrCreate(ctx, identity)
	if err != nil {
		t.Fatalf("second GetOrCreate() error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}

	var stored models.Referrer
	f.DB.First(&stored, "id = ?", first.ID)
	if !stored.UpdatedAt.Equal(stored.CreatedAt) {
		t.Errorf("unchanged identity touched the row: created %v updated %v", stored.CreatedAt, stored.UpdatedAt)
	}

	var count int64
	f.DB.Model(&models.Referrer{}).Count(&count)
	if count != 1 {
		t.Fatalf("referrers = %d, want 1", count)
	}
}

func TestGetOrCreateUpdatesChangedContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.Referrers.GetOrCreate(ctx, CustomerIdentity{ExternalID: "c-1", Email: "old@example.com", FirstName: "Ada"}); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	got, err := f.Referrers.GetOrCreate(ctx, CustomerIdentity{ExternalID: "c-1", Email: "new@example.com", LastName: "Lovelace"})
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if *got.Email != "new@example.com" || *got.LastName != "Lovelace" {
		t.Fatalf("contact not updated: %+v", got)
	}
	if got.FirstName == nil || *got.FirstName != "Ada" {
		t.Fatalf("blank incoming name must not clear the stored one: %v", got.FirstName)
	}
	if got.DisplayName() != "Ada Lovelace" {
		t.Errorf("DisplayName() = %q", got.DisplayName())
	}
}

func TestGetOrCreateRequiresExternalID(t *testing.T) {
	f := newFixture(t)
	_, err := f.Referrers.GetOrCreate(context.Background(), CustomerIdentity{Email: "x@example.com"})
	if !errors.Is(err, ErrMissingEventFields) {
		t.Fatalf("err = %v, want ErrMissingEventFields", err)
	}
}

func TestDeleteReferrerCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.referrer(t, "owner")
	other := f.referrer(t, "other")

	code := f.codeWithOrigin(t, owner, "gid://shopify/Order/1")
	f.Codes.SyncDiscount(ctx, code, f.settings(t))
	f.reward(t, code, "10", models.RewardStatusPending)
	f.Notifier.CodeIssued(ctx, owner, code)

	otherCode := f.codeWithOrigin(t, other, "gid://shopify/Order/2")
	kept := f.reward(t, otherCode, "10", models.RewardStatusPending)

	if err := f.Referrers.Delete(ctx, owner.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	counts := map[string]any{
		"codes":      &models.Code{},
		"referrals":  &models.Referral{},
		"rewards":    &models.Reward{},
		"email_logs": &models.EmailLog{},
	}
	for name, model := range counts {
		var n int64
		f.DB.Model(model).Where("referrer_id = ?", owner.ID).Count(&n)
		if n != 0 {
			t.Errorf("%s left for deleted referrer: %d", name, n)
		}
	}
	if _, err := f.Referrers.Get(ctx, owner.ID); !errors.Is(err, ErrReferrerNotFound) {
		t.Errorf("Get() err = %v, want ErrReferrerNotFound", err)
	}
	if f.rewardStatus(t, kept.ID) != models.RewardStatusPending {
		t.Error("other referrer's reward must survive")
	}
	if len(f.Commerce.DeletedDiscounts) != 1 {
		t.Errorf("deleted discounts = %v, want one", f.Commerce.DeletedDiscounts)
	}

	if err := f.Referrers.Delete(ctx, owner.ID); !errors.Is(err, ErrReferrerNotFound) {
		t.Fatalf("second Delete() err = %v, want ErrReferrerNotFound", err)
	}
}

func TestReferrerDisplayName(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		name     string
		referrer models.Referrer
		want     string
	}{
		{"full name", models.Referrer{FirstName: str("Ada"), LastName: str("Lovelace"), Email: str("ada@example.com")}, "Ada Lovelace"},
		{"first name only", models.Referrer{FirstName: str("Ada"), LastName: str(" ")}, "Ada"},
		{"last name only", models.Referrer{LastName: str("Lovelace")}, "Lovelace"},
		{"email fallback", models.Referrer{Email: str("ada@example.com")}, "ada@example.com"},
		{"external id fallback", models.Referrer{ExternalCustomerID: "gid://shopify/Customer/9", Email: str("")}, "gid://shopify/Customer/9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.referrer.DisplayName(); got != tt.want {
				t.Fatalf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}
