package config

import (
	"fmt"
	"strings"
	"time"

	"storefront_gateway/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// DefaultPaymentRecipient адрес магазина, на который идут оплаты
const DefaultPaymentRecipient = "0x17C07a3F1e95A3919d6Bf8B3244A6f0e2bB2568A"

const (
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
	StoreBackendMemory   = "memory"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Store    StoreConfig    `mapstructure:"store"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Log      LogConfig      `mapstructure:"log"`
	World    WorldConfig    `mapstructure:"world"`
	Payment  PaymentConfig  `mapstructure:"payment"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// WorldConfig параметры внешних сервисов World (проверка доказательств и статус транзакций)
type WorldConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	AppID             string        `mapstructure:"app_id"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Action            string        `mapstructure:"action"`
	VerificationLevel string        `mapstructure:"verification_level"`
}

// PaymentConfig параметры товара, которые привязываются к каждой платёжной ссылке
type PaymentConfig struct {
	ReferenceTTL time.Duration `mapstructure:"reference_ttl"`
	Recipient    string        `mapstructure:"recipient"`
	Token        string        `mapstructure:"token"`
	Amount       string        `mapstructure:"amount"`
}

var defaults = map[string]any{
	"server.host":              "0.0.0.0",
	"server.port":              8080,
	"database.host":            "localhost",
	"database.port":            5432,
	"database.user":            "postgres",
	"database.password":        "postgres",
	"database.dbname":          "storefront",
	"database.sslmode":         "disable",
	"redis.addr":               "localhost:6379",
	"redis.password":           "",
	"redis.db":                 0,
	"store.backend":            StoreBackendPostgres,
	"nats.url":                 "nats://localhost:4222",
	"log.level":                "info",
	"log.json":                 false,
	"world.base_url":           "https://developer.worldcoin.org",
	"world.app_id":             "",
	"world.api_key":            "",
	"world.timeout":            "8s",
	"world.action":             "access_tshirt_store",
	"world.verification_level": "orb",
	"payment.reference_ttl":    "1h",
	"payment.recipient":        DefaultPaymentRecipient,
	"payment.token":            "USDC",
	"payment.amount":           "25",
}

// Load читает конфигурацию из переменных окружения поверх значений по умолчанию
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate проверяет значения, которые нельзя выразить типом
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendPostgres, StoreBackendRedis, StoreBackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Payment.ReferenceTTL <= 0 {
		return fmt.Errorf("payment reference ttl must be positive, got %s", c.Payment.ReferenceTTL)
	}

	if c.World.Timeout < time.Second || c.World.Timeout > 30*time.Second {
		return fmt.Errorf("world timeout must be between 1s and 30s, got %s", c.World.Timeout)
	}

	if strings.TrimSpace(c.World.Action) == "" {
		return fmt.Errorf("world action cannot be empty")
	}

	switch types.VerificationLevel(c.World.VerificationLevel) {
	case types.VerificationLevelDevice, types.VerificationLevelOrb:
	default:
		return fmt.Errorf("unknown world verification level %q", c.World.VerificationLevel)
	}

	// Без получателя ссылка не привязана к магазину; допустимо только для хранилища в памяти
	if c.Payment.Recipient == "" && c.Store.Backend != StoreBackendMemory {
		return fmt.Errorf("payment recipient is required for store backend %q", c.Store.Backend)
	}

	if c.Payment.Recipient != "" && !common.IsHexAddress(c.Payment.Recipient) {
		return fmt.Errorf("payment recipient %q is not a hex address", c.Payment.Recipient)
	}

	amount, err := decimal.NewFromString(c.Payment.Amount)
	if err != nil {
		return fmt.Errorf("invalid payment amount %q: %w", c.Payment.Amount, err)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("payment amount must be positive, got %s", c.Payment.Amount)
	}

	return nil
}

// PaymentAmount сумма товара в единицах токена
func (c *Config) PaymentAmount() decimal.Decimal {
	amount, err := decimal.NewFromString(c.Payment.Amount)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
