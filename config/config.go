package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Shopify    ShopifyConfig
	Redis      RedisConfig
	PubSub     PubSubConfig
	Archive    ArchiveConfig
	Settlement SettlementConfig
	LogLevel   string
}

type ServerConfig struct {
	Port            string
	AllowedOrigins  string
	AdminToken      string
	DefaultCurrency string
}

type DatabaseConfig struct {
	URL string
}

type ShopifyConfig struct {
	ShopDomain    string
	AccessToken   string
	APIVersion    string
	WebhookSecret string
	Timeout       time.Duration
}

// Enabled reports whether outbound platform calls can be made.
func (s ShopifyConfig) Enabled() bool {
	return s.ShopDomain != "" && s.AccessToken != ""
}

type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	DeliveryTTL time.Duration
}

type PubSubConfig struct {
	ProjectID       string
	CredentialsJSON string
	NotifyTopic     string
}

type ArchiveConfig struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// Enabled reports whether raw webhook payloads are archived to R2.
func (a ArchiveConfig) Enabled() bool {
	return a.AccountID != "" && a.Bucket != ""
}

type SettlementConfig struct {
	RequireKnownOrderTotal bool
	LockTTL                time.Duration
}

// Load reads configuration from the environment (and .env when present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	requireTotal, _ := strconv.ParseBool(getEnv("SETTLEMENT_REQUIRE_ORDER_TOTAL", "false"))
	timeoutSeconds, err := strconv.Atoi(getEnv("HTTP_TIMEOUT_SECONDS", "30"))
	if err != nil || timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "5200"),
			AllowedOrigins:  normalizeOrigins(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
			AdminToken:      os.Getenv("ADMIN_SERVICE_TOKEN"),
			DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", "EUR")),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Shopify: ShopifyConfig{
			ShopDomain:    os.Getenv("SHOPIFY_SHOP_DOMAIN"),
			AccessToken:   os.Getenv("SHOPIFY_ACCESS_TOKEN"),
			APIVersion:    getEnv("SHOPIFY_API_VERSION", "2024-10"),
			WebhookSecret: os.Getenv("SHOPIFY_WEBHOOK_SECRET"),
			Timeout:       time.Duration(timeoutSeconds) * time.Second,
		},
		Redis: RedisConfig{
			Address:     os.Getenv("REDIS_ADDRESS"),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          redisDB,
			DeliveryTTL: 24 * time.Hour,
		},
		PubSub: PubSubConfig{
			ProjectID:       firstNonEmpty(os.Getenv("PUBSUB_PROJECT_ID"), os.Getenv("GOOGLE_CLOUD_PROJECT")),
			CredentialsJSON: os.Getenv("PUBSUB_CREDENTIALS_JSON"),
			NotifyTopic:     getEnv("NOTIFY_TOPIC", "referral-notifications"),
		},
		Archive: ArchiveConfig{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
		},
		Settlement: SettlementConfig{
			RequireKnownOrderTotal: requireTotal,
			LockTTL:                2 * time.Minute,
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable not set")
	}
	if cfg.Server.AdminToken == "" {
		return nil, errors.New("ADMIN_SERVICE_TOKEN environment variable not set")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// normalizeOrigins trims the comma-separated origin list for fiber's CORS config.
func normalizeOrigins(raw string) string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}
