package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/openmint/vendere/pkg/validation"
)

// Whitelist variants selectable at configuration time.
const (
	WhitelistNone      = "none"
	WhitelistSingleUse = "single_use"
	WhitelistBounded   = "bounded"
)

// Whitelist key modes.
const (
	KeyModeWallet = "wallet"
	KeyModeAsset  = "asset"
)

// PriceTier is one accepted price parsed from PRICE_TIERS: an amount and
// the asset class it is denominated in.
type PriceTier struct {
	Amount int64
	Asset  string
}

type Config struct {
	Development bool
	// API configuration
	APIPort        int
	MetricsEnabled bool
	// Postgres configuration
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string `validate:"required"`
	PostgresPort     int
	PostgresDB       string `validate:"required"`
	// Chain access configuration
	IndexerURL       string `validate:"required,url"`
	IndexerProjectID string
	SignerURL        string `validate:"required,url"`
	// Vending configuration
	PaymentAddress string `validate:"required"`
	ProfitAddress  string `validate:"required"`
	DevAddress     string
	DevFeeLovelace int64
	PriceTiers     []PriceTier `validate:"min=1"`
	SingleVendMax  int64       `validate:"min=1"`
	VendRandomly   bool
	VendSeed       int64
	BogoThreshold  int64
	BogoBonus      int64
	MetadataDir    string `validate:"required"`
	// Loop configuration
	MinConfirmations    int64
	PollInterval        time.Duration
	MaxRetries          int
	IndexerRetries      int `validate:"min=0"`
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
	// Whitelist configuration
	WhitelistType    string `validate:"oneof=none single_use bounded"`
	WhitelistKeyMode string `validate:"oneof=wallet asset"`
	WhitelistDir     string
	WhitelistQuota   int
	// Signing material forwarded to the external signer
	PaymentKeyFile    string `validate:"required"`
	PolicyScriptFiles []string
	MintKeyFiles      []string
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Development:      getEnvAsBool("DEVELOPMENT", false),
		APIPort:          getEnvAsInt("API_PORT", 6532),
		MetricsEnabled:   getEnvAsBool("METRICS_ENABLED", true),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnvAsInt("POSTGRES_PORT", 5432),
		PostgresDB:       getEnv("POSTGRES_DB", "vendere"),

		IndexerURL:       getEnv("INDEXER_URL", "https://cardano-preprod.blockfrost.io/api/v0"),
		IndexerProjectID: getEnv("INDEXER_PROJECT_ID", ""),
		SignerURL:        getEnv("SIGNER_URL", "http://localhost:8090"),

		PaymentAddress: getEnv("PAYMENT_ADDRESS", ""),
		ProfitAddress:  getEnv("PROFIT_ADDRESS", ""),
		DevAddress:     getEnv("DEV_ADDRESS", ""),
		DevFeeLovelace: getEnvAsInt64("DEV_FEE_LOVELACE", 0),
		SingleVendMax:  getEnvAsInt64("SINGLE_VEND_MAX", 10),
		VendRandomly:   getEnvAsBool("VEND_RANDOMLY", true),
		VendSeed:       getEnvAsInt64("VEND_SEED", 0),
		BogoThreshold:  getEnvAsInt64("BOGO_THRESHOLD", 0),
		BogoBonus:      getEnvAsInt64("BOGO_BONUS", 0),
		MetadataDir:    getEnv("METADATA_DIR", ""),

		MinConfirmations:    getEnvAsInt64("MIN_CONFIRMATIONS", 3),
		PollInterval:        getEnvAsDuration("POLL_INTERVAL", 15*time.Second),
		MaxRetries:          getEnvAsInt("MAX_RETRIES", 3),
		IndexerRetries:      getEnvAsInt("INDEXER_RETRIES", 4),
		ConfirmTimeout:      getEnvAsDuration("CONFIRM_TIMEOUT", 5*time.Minute),
		ConfirmPollInterval: getEnvAsDuration("CONFIRM_POLL_INTERVAL", 10*time.Second),

		WhitelistType:    getEnv("WHITELIST_TYPE", WhitelistNone),
		WhitelistKeyMode: getEnv("WHITELIST_KEY_MODE", KeyModeWallet),
		WhitelistDir:     getEnv("WHITELIST_DIR", ""),
		WhitelistQuota:   getEnvAsInt("WHITELIST_QUOTA", 1),

		PaymentKeyFile:    getEnv("PAYMENT_KEY_FILE", ""),
		PolicyScriptFiles: getEnvAsList("POLICY_SCRIPT_FILES"),
		MintKeyFiles:      getEnvAsList("MINT_KEY_FILES"),
	}

	tiers, err := parsePriceTiers(getEnv("PRICE_TIERS", ""))
	if err != nil {
		return nil, err
	}
	cfg.PriceTiers = tiers

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := validation.ValidateAddress(c.PaymentAddress); err != nil {
		return fmt.Errorf("invalid PAYMENT_ADDRESS: %w", err)
	}
	if err := validation.ValidateAddress(c.ProfitAddress); err != nil {
		return fmt.Errorf("invalid PROFIT_ADDRESS: %w", err)
	}
	if c.PaymentAddress == c.ProfitAddress {
		return fmt.Errorf("PAYMENT_ADDRESS and PROFIT_ADDRESS must differ")
	}
	if c.DevFeeLovelace > 0 {
		if err := validation.ValidateAddress(c.DevAddress); err != nil {
			return fmt.Errorf("DEV_FEE_LOVELACE is set, invalid DEV_ADDRESS: %w", err)
		}
	}
	if c.DevFeeLovelace < 0 {
		return fmt.Errorf("DEV_FEE_LOVELACE must not be negative")
	}

	for i, tier := range c.PriceTiers {
		if tier.Amount <= 0 {
			return fmt.Errorf("PRICE_TIERS entry %d: amount must be positive", i)
		}
		if tier.Asset != "lovelace" {
			if err := validation.ValidateAssetID(tier.Asset); err != nil {
				return fmt.Errorf("PRICE_TIERS entry %d: %w", i, err)
			}
		}
	}

	if (c.BogoThreshold > 0) != (c.BogoBonus > 0) {
		return fmt.Errorf("BOGO_THRESHOLD and BOGO_BONUS must be set together")
	}

	if c.WhitelistType != WhitelistNone {
		if c.WhitelistDir == "" {
			return fmt.Errorf("WHITELIST_DIR is required for whitelist type %s", c.WhitelistType)
		}
		if c.WhitelistQuota < 1 {
			return fmt.Errorf("WHITELIST_QUOTA must be at least 1")
		}
	}

	return nil
}

// parsePriceTiers parses PRICE_TIERS: comma-separated entries of the form
// "amount" or "amount:asset", with lovelace as the default asset. Tier
// order in the variable is the matching priority order.
func parsePriceTiers(raw string) ([]PriceTier, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("PRICE_TIERS is required")
	}
	entries := strings.Split(raw, ",")
	tiers := make([]PriceTier, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		asset := "lovelace"
		amountPart := entry
		if idx := strings.Index(entry, ":"); idx >= 0 {
			amountPart = entry[:idx]
			asset = strings.TrimSpace(entry[idx+1:])
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(amountPart), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("PRICE_TIERS entry %q has a non-numeric amount: %w", entry, err)
		}
		tiers = append(tiers, PriceTier{Amount: amount, Asset: asset})
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("PRICE_TIERS contains no entries")
	}
	return tiers, nil
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsInt64(name string, defaultValue int64) int64 {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(name string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsList(name string) []string {
	valueStr, exists := os.LookupEnv(name)
	if !exists || strings.TrimSpace(valueStr) == "" {
		return nil
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
