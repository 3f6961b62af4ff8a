package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethodWhitelist is every method the gateway integration understands.
// GatewayConfig.EnabledPaymentMethods must be a subset.
var PaymentMethodWhitelist = []string{"card", "upi", "netbanking", "wallet", "emi", "paylater"}

func KnownPaymentMethod(m string) bool {
	for _, w := range PaymentMethodWhitelist {
		if w == m {
			return true
		}
	}
	return false
}

type GatewayEnvironment string

const (
	EnvSandbox    GatewayEnvironment = "sandbox"
	EnvProduction GatewayEnvironment = "production"
)

type GatewayConfig struct {
	MerchantID            string             `json:"merchantId"`
	APIKey                string             `json:"apiKey"`
	APISecret             string             `json:"apiSecret"`
	EnabledPaymentMethods []string           `json:"enabledPaymentMethods"`
	MinTransactionAmount  decimal.Decimal    `json:"minTransactionAmount"`
	MaxTransactionAmount  decimal.Decimal    `json:"maxTransactionAmount"`
	SessionTimeoutMinutes int                `json:"sessionTimeoutMinutes"`
	Environment           GatewayEnvironment `json:"environment"`
	IsActive              bool               `json:"isActive"`
	UpdatedAt             time.Time          `json:"updatedAt"`
	LastModifiedBy        string             `json:"lastModifiedBy"`
}

func (c GatewayConfig) MethodEnabled(m string) bool {
	for _, e := range c.EnabledPaymentMethods {
		if e == m {
			return true
		}
	}
	return false
}

// AmountAllowed checks min <= amount <= max.
func (c GatewayConfig) AmountAllowed(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(c.MinTransactionAmount) && amount.LessThanOrEqual(c.MaxTransactionAmount)
}

// Masked hides credentials for admin read-back.
func (c GatewayConfig) Masked() GatewayConfig {
	c.APISecret = mask(c.APISecret)
	c.APIKey = mask(c.APIKey)
	return c
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
