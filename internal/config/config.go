/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the billing-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix       string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	JobEventQueue        string `mapstructure:"JOB_EVENT_QUEUE"`
	AuthJWKSURL          string `mapstructure:"AUTH_JWKS_URL"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`
	ReferralServiceURL   string `mapstructure:"REFERRAL_SERVICE_URL"`
	TranzilaBaseURL      string `mapstructure:"TRANZILA_BASE_URL"`
	TranzilaTerminal     string `mapstructure:"TRANZILA_TERMINAL"`
	TranzilaAPIKey       string `mapstructure:"TRANZILA_API_KEY"`
	CardcomBaseURL       string `mapstructure:"CARDCOM_BASE_URL"`
	CardcomTerminal      string `mapstructure:"CARDCOM_TERMINAL"`
	CardcomAPIName       string `mapstructure:"CARDCOM_API_NAME"`
	CardcomAPIPassword   string `mapstructure:"CARDCOM_API_PASSWORD"`
	PayPlusBaseURL       string `mapstructure:"PAYPLUS_BASE_URL"`
	PayPlusAPIKey        string `mapstructure:"PAYPLUS_API_KEY"`
	PayPlusSecretKey     string `mapstructure:"PAYPLUS_SECRET_KEY"`
	AutopayProvider      string `mapstructure:"AUTOPAY_PROVIDER"`
	AutopayMaxAttempts   int    `mapstructure:"AUTOPAY_MAX_ATTEMPTS"`
	AutopayBackoffHours  int    `mapstructure:"AUTOPAY_BACKOFF_HOURS"`
	VATRateBP            int64  `mapstructure:"VAT_RATE_BP"`
	SettlementWorkers    int    `mapstructure:"SETTLEMENT_WORKER_COUNT"`
	CustomerJobRate      float64 `mapstructure:"CUSTOMER_JOB_RATE"`
	ReferralJobRate      float64 `mapstructure:"REFERRAL_JOB_RATE"`
	PlatformRate         float64 `mapstructure:"PLATFORM_RATE"`
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
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("JOB_EVENT_QUEUE", "billing_service.job_completions")
	viper.SetDefault("REDIS_KEY_PREFIX", "proflink:billing")
	viper.SetDefault("AUTOPAY_PROVIDER", "tranzila")
	viper.SetDefault("AUTOPAY_MAX_ATTEMPTS", 3)
	viper.SetDefault("AUTOPAY_BACKOFF_HOURS", 24)
	viper.SetDefault("VAT_RATE_BP", 1700)
	viper.SetDefault("SETTLEMENT_WORKER_COUNT", 8)
	viper.SetDefault("CUSTOMER_JOB_RATE", 0.10)
	viper.SetDefault("REFERRAL_JOB_RATE", 0.05)
	viper.SetDefault("PLATFORM_RATE", 0.10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "BILLING_REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JOB_EVENT_QUEUE")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "BILLING_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("REFERRAL_SERVICE_URL")
	_ = viper.BindEnv("TRANZILA_BASE_URL")
	_ = viper.BindEnv("TRANZILA_TERMINAL")
	_ = viper.BindEnv("TRANZILA_API_KEY")
	_ = viper.BindEnv("CARDCOM_BASE_URL")
	_ = viper.BindEnv("CARDCOM_TERMINAL")
	_ = viper.BindEnv("CARDCOM_API_NAME")
	_ = viper.BindEnv("CARDCOM_API_PASSWORD")
	_ = viper.BindEnv("PAYPLUS_BASE_URL")
	_ = viper.BindEnv("PAYPLUS_API_KEY")
	_ = viper.BindEnv("PAYPLUS_SECRET_KEY")
	_ = viper.BindEnv("AUTOPAY_PROVIDER")
	_ = viper.BindEnv("AUTOPAY_MAX_ATTEMPTS")
	_ = viper.BindEnv("AUTOPAY_BACKOFF_HOURS")
	_ = viper.BindEnv("VAT_RATE_BP")
	_ = viper.BindEnv("VAT_RATE_PERCENT")
	_ = viper.BindEnv("SETTLEMENT_WORKER_COUNT")
	_ = viper.BindEnv("CUSTOMER_JOB_RATE")
	_ = viper.BindEnv("REFERRAL_JOB_RATE")
	_ = viper.BindEnv("PLATFORM_RATE")

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
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("BILLING_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "proflink:billing"
	}

	// Allow specifying VAT as a percentage via VAT_RATE_PERCENT (e.g. "17").
	if viper.IsSet("VAT_RATE_PERCENT") {
		percentStr := strings.TrimSpace(viper.GetString("VAT_RATE_PERCENT"))
		if percentStr != "" {
			percentValue, parseErr := strconv.ParseFloat(percentStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid VAT_RATE_PERCENT\" value=%q err=%v", percentStr, parseErr)
			} else {
				config.VATRateBP = int64(math.Round(percentValue * 100))
			}
		}
	}

	if config.VATRateBP < 0 {
		log.Printf("level=warn component=config msg=\"negative VAT rate configured; coercing to zero\" vat_rate_bp=%d", config.VATRateBP)
		config.VATRateBP = 0
	}
	if config.VATRateBP > 10000 {
		log.Printf("level=warn component=config msg=\"VAT rate too high; capping at 100%%\" vat_rate_bp=%d", config.VATRateBP)
		config.VATRateBP = 10000
	}

	if config.SettlementWorkers <= 0 {
		config.SettlementWorkers = 8
	}
	if config.AutopayMaxAttempts <= 0 {
		config.AutopayMaxAttempts = 3
	}
	if config.AutopayBackoffHours <= 0 {
		config.AutopayBackoffHours = 24
	}

	clampRate := func(name string, v *float64, fallback float64) {
		if *v <= 0 || *v > 1 {
			log.Printf("level=warn component=config msg=\"rate out of range; using default\" key=%s value=%f", name, *v)
			*v = fallback
		}
	}
	clampRate("CUSTOMER_JOB_RATE", &config.CustomerJobRate, 0.10)
	clampRate("REFERRAL_JOB_RATE", &config.ReferralJobRate, 0.05)
	clampRate("PLATFORM_RATE", &config.PlatformRate, 0.10)

	return
}
