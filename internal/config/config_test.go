package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "carts", cfg.Tables.Carts)
	assert.Equal(t, 7*24*time.Hour, cfg.Cart.TTL)
	assert.Equal(t, 48*time.Hour, cfg.IdempotencyTTL)

	rate, err := cfg.Pricing.Rate()
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.09").Equal(rate))

	methods, err := cfg.Pricing.Methods()
	require.NoError(t, err)
	assert.Equal(t, int64(90000), methods["standard"])
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CHECKOUT_TABLES_ORDERS", "orders-prod")
	t.Setenv("CHECKOUT_PRICING_TAX_RATE", "0.2")
	t.Setenv("CHECKOUT_CART_TTL", "24h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "orders-prod", cfg.Tables.Orders)
	assert.Equal(t, 24*time.Hour, cfg.Cart.TTL)
	rate, _ := cfg.Pricing.Rate()
	assert.True(t, decimal.RequireFromString("0.2").Equal(rate))
}

func TestValidate_Rejects(t *testing.T) {
	bad := PricingConfig{TaxRate: "abc"}
	_, err := bad.Rate()
	require.Error(t, err)

	bad = PricingConfig{TaxRate: "0.1", ShippingMethods: []string{"standard"}}
	_, err = bad.Methods()
	require.Error(t, err)

	cfg := Config{Pricing: PricingConfig{TaxRate: "0.1"}}
	require.Error(t, cfg.Validate(), "zero TTL")
}
