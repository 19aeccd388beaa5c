package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cashback-referral-system/config"
	"cashback-referral-system/models"
	"cashback-referral-system/shopify"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	errMockPlatform = errors.New("mock platform error")
	errMockPublish  = errors.New("mock publish error")
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeCommerce implements Commerce in memory.
type fakeCommerce struct {
	mu sync.Mutex

	Orders      map[string]*shopify.Order
	OrderErr    error
	OrderCalls  int
	RefundErrs  []error // consumed one per call; nil entries succeed
	RefundCalls []shopify.RefundRequest
	RefundDelay time.Duration

	CreatedDiscounts  []shopify.DiscountSpec
	UpdatedDiscounts  map[string]shopify.DiscountSpec
	DeletedDiscounts  []string
	CreateDiscountErr error

	Customers        map[string]*shopify.Customer // by email
	CreatedCustomers []shopify.CustomerInput

	nextID int
}

func newFakeCommerce() *fakeCommerce {
	return &fakeCommerce{
		Orders:           make(map[string]*shopify.Order),
		UpdatedDiscounts: make(map[string]shopify.DiscountSpec),
		Customers:        make(map[string]*shopify.Customer),
	}
}

func (f *fakeCommerce) id(kind string) string {
	f.nextID++
	return fmt.Sprintf("gid://shopify/%s/%d", kind, f.nextID)
}

func (f *fakeCommerce) FindCustomerByEmail(_ context.Context, email string) (*shopify.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Customers[email], nil
}

func (f *fakeCommerce) CreateCustomer(_ context.Context, input shopify.CustomerInput) (*shopify.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreatedCustomers = append(f.CreatedCustomers, input)
	c := &shopify.Customer{ID: f.id("Customer"), Email: input.Email, FirstName: input.FirstName, LastName: input.LastName}
	f.Customers[input.Email] = c
	return c, nil
}

func (f *fakeCommerce) CreateDiscount(_ context.Context, spec shopify.DiscountSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateDiscountErr != nil {
		return "", f.CreateDiscountErr
	}
	f.CreatedDiscounts = append(f.CreatedDiscounts, spec)
	return f.id("DiscountCodeNode"), nil
}

func (f *fakeCommerce) UpdateDiscount(_ context.Context, id string, spec shopify.DiscountSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdatedDiscounts[id] = spec
	return nil
}

func (f *fakeCommerce) DeleteDiscount(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeletedDiscounts = append(f.DeletedDiscounts, id)
	return nil
}

func (f *fakeCommerce) GetOrder(_ context.Context, gid string) (*shopify.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OrderCalls++
	if f.OrderErr != nil {
		return nil, f.OrderErr
	}
	order, ok := f.Orders[gid]
	if !ok {
		return nil, fmt.Errorf("order %s not found", gid)
	}
	return order, nil
}

func (f *fakeCommerce) CreateRefund(ctx context.Context, req shopify.RefundRequest) (*shopify.Refund, error) {
	f.mu.Lock()
	f.RefundCalls = append(f.RefundCalls, req)
	var err error
	if len(f.RefundErrs) > 0 {
		err = f.RefundErrs[0]
		f.RefundErrs = f.RefundErrs[1:]
	}
	delay := f.RefundDelay
	id := f.id("Refund")
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return &shopify.Refund{ID: id}, nil
}

func (f *fakeCommerce) refundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.RefundCalls)
}

// fakePublisher records published notifications.
type fakePublisher struct {
	mu         sync.Mutex
	Messages   [][]byte
	CallCount  int
	FailOnCall int // fail from the Nth call on (0 = never)
}

func (p *fakePublisher) Publish(_ context.Context, data []byte, _ map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCount++
	if p.FailOnCall > 0 && p.CallCount >= p.FailOnCall {
		return "", errMockPublish
	}
	p.Messages = append(p.Messages, data)
	return fmt.Sprintf("msg-%d", p.CallCount), nil
}

type fixture struct {
	DB           *gorm.DB
	Commerce     *fakeCommerce
	Publisher    *fakePublisher
	Settings     *SettingsService
	Referrers    *ReferrerService
	Codes        *CodeService
	Referrals    *ReferralService
	Ledger       *RewardLedger
	Notifier     *NotificationService
	Purchases    *PurchaseService
	Settlement   *SettlementService
	Provisioning *ProvisioningService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newTestDB(t)
	log := config.NewDiscardLogger()
	commerce := newFakeCommerce()
	publisher := &fakePublisher{}

	f := &fixture{DB: db, Commerce: commerce, Publisher: publisher}
	f.Settings = NewSettingsService(db, log)
	f.Referrers = NewReferrerService(db, commerce, log)
	f.Codes = NewCodeService(db, commerce, log)
	f.Referrals = NewReferralService(db, log)
	f.Ledger = NewRewardLedger(db, log)
	f.Notifier = NewNotificationService(db, publisher, log)
	f.Purchases = NewPurchaseService(db, PurchaseDeps{
		Settings:        f.Settings,
		Referrers:       f.Referrers,
		Codes:           f.Codes,
		Referrals:       f.Referrals,
		Ledger:          f.Ledger,
		Commerce:        commerce,
		Notifier:        f.Notifier,
		DefaultCurrency: "EUR",
	}, log)
	f.Settlement = NewSettlementService(f.Settings, f.Ledger, commerce, f.Notifier, NewLocalLocker(), log)
	f.Settlement.backoff = func(int) time.Duration { return 0 }
	f.Provisioning = NewProvisioningService(f.Settings, f.Referrers, f.Codes, commerce, f.Notifier, log)
	return f
}

func (f *fixture) settings(t *testing.T) *models.Settings {
	t.Helper()
	s, err := f.Settings.Get(context.Background())
	if err != nil {
		t.Fatalf("Settings.Get() error = %v", err)
	}
	return s
}

func (f *fixture) referrer(t *testing.T, externalID string) *models.Referrer {
	t.Helper()
	r, err := f.Referrers.GetOrCreate(context.Background(), CustomerIdentity{
		ExternalID: externalID,
		Email:      externalID + "@example.com",
	})
	if err != nil {
		t.Fatalf("GetOrCreate(%s) error = %v", externalID, err)
	}
	return r
}

// codeWithOrigin creates a code owned by owner whose origin is orderGID.
func (f *fixture) codeWithOrigin(t *testing.T, owner *models.Referrer, orderGID string) *models.Code {
	t.Helper()
	code, _, err := f.Codes.IssueOrRefresh(context.Background(), f.settings(t), IssueRequest{
		ReferrerID:     owner.ID,
		OriginOrderID:  orderGID,
		OriginOrderGID: orderGID,
	})
	if err != nil {
		t.Fatalf("IssueOrRefresh() error = %v", err)
	}
	return code
}

// reward creates a referral made with code plus its reward.
func (f *fixture) reward(t *testing.T, code *models.Code, amount string, status models.RewardStatus) *models.Reward {
	t.Helper()
	referral := models.Referral{
		ReferrerID: code.ReferrerID,
		CodeID:     &code.ID,
		OrderID:    uuid.NewString(),
	}
	if err := f.DB.Create(&referral).Error; err != nil {
		t.Fatalf("create referral: %v", err)
	}
	reward := models.Reward{
		ReferrerID: code.ReferrerID,
		ReferralID: referral.ID,
		Amount:     decimal.RequireFromString(amount),
		Currency:   "EUR",
		Status:     status,
	}
	if err := f.DB.Create(&reward).Error; err != nil {
		t.Fatalf("create reward: %v", err)
	}
	return &reward
}

func (f *fixture) order(gid, total string, txs ...shopify.Transaction) *shopify.Order {
	o := &shopify.Order{ID: gid, Currency: "EUR", Transactions: txs}
	if total != "" {
		d := decimal.RequireFromString(total)
		o.Total = &d
	}
	f.Commerce.mu.Lock()
	f.Commerce.Orders[gid] = o
	f.Commerce.mu.Unlock()
	return o
}

func capture(id string) shopify.Transaction {
	return shopify.Transaction{ID: id, Kind: shopify.TransactionKindCapture, Status: "SUCCESS", Gateway: "stripe"}
}

func (f *fixture) rewardStatus(t *testing.T, id string) models.RewardStatus {
	t.Helper()
	var r models.Reward
	if err := f.DB.First(&r, "id = ?", id).Error; err != nil {
		t.Fatalf("load reward: %v", err)
	}
	return r.Status
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
