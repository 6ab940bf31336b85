// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/01moynul/storefront-ledger/internal/money"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// --- Application ---
	AppEnv   string `envconfig:"APP_ENV" default:"production"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`

	// --- Database ---
	// The DSN must carry parseTime=true so DATETIME columns scan into time.Time.
	DBDSN          string `envconfig:"DB_DSN" required:"true"`
	DBReadOnlyDSN  string `envconfig:"DB_DSN_READONLY"`
	DBMaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	AutoMigrate    bool   `envconfig:"AUTO_MIGRATE" default:"true"`

	// --- Auth ---
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"72h"`

	// --- HTTP edge ---
	CORSOrigin     string  `envconfig:"CORS_ORIGIN" default:"http://localhost:5173"`
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"50"`

	// --- Proof uploads ---
	UploadDir     string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`

	// --- Ledger policy ---
	ReferralRateBPS int64        `envconfig:"REFERRAL_RATE_BPS" default:"500"`
	TopupFeeBPS     int64        `envconfig:"TOPUP_FEE_BPS" default:"0"`
	TransferFeeBPS  int64        `envconfig:"TRANSFER_FEE_BPS" default:"300"`
	WithdrawalMin   money.Amount `envconfig:"WITHDRAWAL_MIN" default:"10.00"`

	// --- Pending order expiry (0 disables the sweep) ---
	PendingOrderTTL time.Duration `envconfig:"PENDING_ORDER_TTL" default:"0"`
	ExpirySweepSpec string        `envconfig:"EXPIRY_SWEEP_SPEC" default:"@every 10m"`

	// --- Payment rails ---
	PlisioAPIKey      string   `envconfig:"PLISIO_API_KEY"`
	PlisioBaseURL     string   `envconfig:"PLISIO_BASE_URL" default:"https://api.plisio.net"`
	PlisioCallbackURL string   `envconfig:"PLISIO_CALLBACK_URL"`
	ManualGateways    []string `envconfig:"MANUAL_GATEWAYS" default:"paypal,zelle,cashapp,venmo,bank_transfer"`

	// --- Admin alerts ---
	TelegramBotToken    string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAdminChatID string `envconfig:"TELEGRAM_ADMIN_CHAT_ID"`

	// --- Assistant ---
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// AssistantEnabled reports whether the admin assistant can be started.
func (c *Config) AssistantEnabled() bool {
	return c.GeminiAPIKey != "" && c.DBReadOnlyDSN != ""
}

func (c *Config) Validate() error {
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be > 0")
	}
	if c.DBMaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be > 0")
	}
	for name, bps := range map[string]int64{
		"REFERRAL_RATE_BPS": c.ReferralRateBPS,
		"TOPUP_FEE_BPS":     c.TopupFeeBPS,
		"TRANSFER_FEE_BPS":  c.TransferFeeBPS,
	} {
		if bps < 0 || bps > 10000 {
			return fmt.Errorf("%s must be between 0 and 10000", name)
		}
	}
	if c.WithdrawalMin < 0 {
		return fmt.Errorf("WITHDRAWAL_MIN must not be negative")
	}
	if c.PendingOrderTTL < 0 {
		return fmt.Errorf("PENDING_ORDER_TTL must not be negative")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	return nil
}

// Load reads environment variables into a Config and validates it.
// The caller is expected to have loaded any .env file beforehand.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
