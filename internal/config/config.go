package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config is built once at startup and handed to each component; nothing
// reads the environment after Load returns.
type Config struct {
	Bot        BotConfig
	YooKassa   YooKassaConfig
	Sub        SubscriptionConfig
	Webhook    WebhookConfig
	Reconciler ReconcilerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
}

type BotConfig struct {
	Token     string  `envconfig:"BOT_TOKEN" required:"true"`
	ChannelID int64   `envconfig:"CHANNEL_ID" required:"true"`
	AdminIDs  []int64 `envconfig:"ADMIN_IDS"`
}

func (b BotConfig) IsAdmin(userID int64) bool {
	for _, id := range b.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type YooKassaConfig struct {
	ShopID    string `envconfig:"YOOKASSA_SHOP_ID" required:"true"`
	SecretKey string `envconfig:"YOOKASSA_SECRET_KEY" required:"true"`
	BaseURL   string `envconfig:"YOOKASSA_BASE_URL" default:"https://api.yookassa.ru/v3"`
	ReturnURL string `envconfig:"YOOKASSA_RETURN_URL" default:"https://t.me/"`
}

type SubscriptionConfig struct {
	Price        string `envconfig:"SUBSCRIPTION_PRICE" default:"500"`
	Currency     string `envconfig:"SUBSCRIPTION_CURRENCY" default:"RUB"`
	DurationDays int    `envconfig:"SUBSCRIPTION_DURATION_DAYS" default:"30"`
	TrialDays    int    `envconfig:"TRIAL_PERIOD_DAYS" default:"0"`
	InviteTTL    int    `envconfig:"INVITE_LINK_EXPIRE_HOURS" default:"24"`
}

func (s SubscriptionConfig) PriceAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(s.Price)
}

func (s SubscriptionConfig) Period() time.Duration {
	return time.Duration(s.DurationDays) * 24 * time.Hour
}

func (s SubscriptionConfig) InviteExpiry() time.Duration {
	return time.Duration(s.InviteTTL) * time.Hour
}

type WebhookConfig struct {
	Host        string        `envconfig:"WEBHOOK_HOST" default:"0.0.0.0"`
	Port        int           `envconfig:"WEBHOOK_PORT" default:"8080"`
	PaymentWait time.Duration `envconfig:"PAYMENT_WEBHOOK_WAIT" default:"15m"`
}

func (w WebhookConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

type ReconcilerConfig struct {
	Interval time.Duration `envconfig:"CHECK_SUBSCRIPTIONS_INTERVAL" default:"5m"`
}

type PostgresConfig struct {
	DSN string `envconfig:"POSTGRES_DSN"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     string `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if _, err := cfg.Sub.PriceAmount(); err != nil {
		return nil, fmt.Errorf("invalid SUBSCRIPTION_PRICE %q: %w", cfg.Sub.Price, err)
	}
	if cfg.Sub.DurationDays <= 0 {
		return nil, fmt.Errorf("SUBSCRIPTION_DURATION_DAYS must be positive, got %d", cfg.Sub.DurationDays)
	}
	return &cfg, nil
}
