/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/shopspring/decimal: Fee rates are parsed as decimals, never floats.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the wallet-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string `mapstructure:"DATABASE_URL"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	WalletEventExchange          string `mapstructure:"WALLET_EVENT_EXCHANGE"`
	JWTSecret                    string `mapstructure:"JWT_SECRET"`
	InternalAPIKey               string `mapstructure:"INTERNAL_API_KEY"`
	PlatformAccountID            string `mapstructure:"PLATFORM_ACCOUNT_ID"`
	GroupServiceURL              string `mapstructure:"GROUP_SERVICE_URL"`
	GroupServiceInternalAPIKey   string `mapstructure:"GROUP_SERVICE_INTERNAL_API_KEY"`
	PlatformFeeRate              string `mapstructure:"PLATFORM_FEE_RATE"`
	LeaderCommissionRate         string `mapstructure:"LEADER_COMMISSION_RATE"`
	SettlementLockTimeoutMS      int    `mapstructure:"SETTLEMENT_LOCK_TIMEOUT_MS"`
	SettlementMaxRetries         int    `mapstructure:"SETTLEMENT_MAX_RETRIES"`
	SettlementRateLimitPerMinute int    `mapstructure:"SETTLEMENT_RATE_LIMIT_PER_MINUTE"`
}

// SplitRates parses the configured fee rates into decimals. A rate that does not
// parse is a configuration error, not something to silently default.
func (c Config) SplitRates() (platformFee, leaderCommission decimal.Decimal, err error) {
	platformFee, err = decimal.NewFromString(strings.TrimSpace(c.PlatformFeeRate))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid PLATFORM_FEE_RATE %q: %w", c.PlatformFeeRate, err)
	}
	leaderCommission, err = decimal.NewFromString(strings.TrimSpace(c.LeaderCommissionRate))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid LEADER_COMMISSION_RATE %q: %w", c.LeaderCommissionRate, err)
	}
	if platformFee.IsNegative() || platformFee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("PLATFORM_FEE_RATE %q out of range [0, 1)", c.PlatformFeeRate)
	}
	if leaderCommission.IsNegative() || leaderCommission.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("LEADER_COMMISSION_RATE %q out of range [0, 1)", c.LeaderCommissionRate)
	}
	return platformFee, leaderCommission, nil
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("WALLET_EVENT_EXCHANGE", "wallet.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "wallet:rate_limit")
	viper.SetDefault("PLATFORM_ACCOUNT_ID", "platform")
	viper.SetDefault("PLATFORM_FEE_RATE", "0.10")
	viper.SetDefault("LEADER_COMMISSION_RATE", "0.03")
	viper.SetDefault("SETTLEMENT_LOCK_TIMEOUT_MS", 5000)
	viper.SetDefault("SETTLEMENT_MAX_RETRIES", 3)
	viper.SetDefault("SETTLEMENT_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "WALLET_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("WALLET_EVENT_EXCHANGE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "WALLET_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PLATFORM_ACCOUNT_ID")
	_ = viper.BindEnv("GROUP_SERVICE_URL")
	_ = viper.BindEnv("GROUP_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PLATFORM_FEE_RATE")
	_ = viper.BindEnv("LEADER_COMMISSION_RATE")
	_ = viper.BindEnv("SETTLEMENT_LOCK_TIMEOUT_MS")
	_ = viper.BindEnv("SETTLEMENT_MAX_RETRIES")
	_ = viper.BindEnv("SETTLEMENT_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("WALLET_SERVICE_INTERNAL_API_KEY"))
	}
	config.GroupServiceInternalAPIKey = strings.TrimSpace(config.GroupServiceInternalAPIKey)
	if config.GroupServiceInternalAPIKey == "" {
		config.GroupServiceInternalAPIKey = config.InternalAPIKey
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "wallet:rate_limit"
	}
	if config.SettlementLockTimeoutMS <= 0 {
		config.SettlementLockTimeoutMS = 5000
	}
	if config.SettlementMaxRetries < 1 {
		config.SettlementMaxRetries = 3
	}

	return
}
