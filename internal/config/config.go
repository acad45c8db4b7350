package config

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	JWTExpiresIn    time.Duration `mapstructure:"JWT_EXPIRES_IN"`
	RPCURL          string        `mapstructure:"RPC_URL"`
	ContractAddress string        `mapstructure:"CONTRACT_ADDRESS"`
	LedgerTimeout   time.Duration `mapstructure:"LEDGER_TIMEOUT"`
	FundingEnabled  bool          `mapstructure:"FUNDING_ENABLED"`
	FunderIndex     int           `mapstructure:"FUNDER_INDEX"`
	MinBalanceWei   string        `mapstructure:"MIN_BALANCE_WEI"`
	RazorpayKeyID   string        `mapstructure:"RAZORPAY_KEY_ID"`
	RazorpaySecret  string        `mapstructure:"RAZORPAY_KEY_SECRET"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
}

var contractAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "9000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("JWT_EXPIRES_IN", "24h")
	v.SetDefault("RPC_URL", "http://localhost:8545")
	v.SetDefault("LEDGER_TIMEOUT", "30s")
	v.SetDefault("FUNDING_ENABLED", false)
	v.SetDefault("FUNDER_INDEX", 0)
	v.SetDefault("MIN_BALANCE_WEI", "100000000000000000") // 0.1 ether
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "10M")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("JWT_EXPIRES_IN")
	v.BindEnv("RPC_URL")
	v.BindEnv("CONTRACT_ADDRESS")
	v.BindEnv("LEDGER_TIMEOUT")
	v.BindEnv("FUNDING_ENABLED")
	v.BindEnv("FUNDER_INDEX")
	v.BindEnv("MIN_BALANCE_WEI")
	v.BindEnv("RAZORPAY_KEY_ID")
	v.BindEnv("RAZORPAY_KEY_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("BODY_LIMIT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Ledger account funding may be active against the configured node.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. JWT_SECRET is always
// required so sessions cannot be forged; in production the test-account funder
// must be disabled since accounts are independently funded there.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.JWTSecret))
	}
	if c.ContractAddress == "" {
		return fmt.Errorf("CONTRACT_ADDRESS is required")
	}
	if !contractAddressRe.MatchString(c.ContractAddress) {
		return fmt.Errorf("CONTRACT_ADDRESS must be a 0x-prefixed 20-byte hex address, got %q", c.ContractAddress)
	}
	if c.IsProduction() && c.FundingEnabled {
		return fmt.Errorf("FUNDING_ENABLED must be false in production; the funder exists only for local test networks")
	}
	if c.JWTExpiresIn <= 0 {
		return fmt.Errorf("JWT_EXPIRES_IN must be positive, got %s", c.JWTExpiresIn)
	}
	if c.LedgerTimeout <= 0 {
		return fmt.Errorf("LEDGER_TIMEOUT must be positive, got %s", c.LedgerTimeout)
	}
	return nil
}
