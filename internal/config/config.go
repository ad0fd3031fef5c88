package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete service configuration, loadable from environment
// variables (CHECKOUT_ prefix) or YAML config files.
type Config struct {
	Addr      string `default:":8080" usage:"HTTP listen address for local mode"`
	RunLocal  bool   `default:"false" usage:"Serve HTTP directly instead of behind the Lambda proxy"`
	LogLevel  string `default:"info" usage:"debug, info, warn or error"`
	LogFormat string `default:"json" usage:"json or console"`

	AWS     AWSConfig
	Tables  TablesConfig
	Queue   QueueConfig
	Metrics MetricsConfig
	Cart    CartConfig
	Pricing PricingConfig

	IdempotencyTTL time.Duration `default:"48h" usage:"How long checkout idempotency keys are remembered"`
	// CallbackSecret is the shared secret payment gateways send in X-Callback-Secret.
	CallbackSecret string `usage:"Shared secret for payment callbacks; empty disables the check"`
}

type AWSConfig struct {
	Region   string `default:"us-east-1"`
	Endpoint string `usage:"Endpoint override for LocalStack or DynamoDB Local"`
	// CreateTables creates missing tables at startup. Local development only.
	CreateTables bool `default:"false"`
}

type TablesConfig struct {
	Carts        string `default:"carts"`
	Orders       string `default:"orders"`
	Products     string `default:"products"`
	Coupons      string `default:"coupons"`
	Users        string `default:"users"`
	Entitlements string `default:"entitlements"`
	Idempotency  string `default:"idempotency"`
}

type QueueConfig struct {
	NotificationsURL string `usage:"SQS queue URL for outbound notifications"`
}

type MetricsConfig struct {
	Enabled   bool   `default:"false"`
	Namespace string `default:"Storefront/Checkout"`
}

type CartConfig struct {
	TTL        time.Duration `default:"168h" usage:"Sliding cart expiry window"`
	SweepLimit int           `default:"500" usage:"Max carts archived per sweep run"`
}

type PricingConfig struct {
	TaxRate string `default:"0.09" usage:"Tax rate applied to subtotal after discount"`
	// ShippingMethods lists method:cost pairs, cost in minor currency units.
	ShippingMethods []string `default:"standard:90000,express:150000"`
	// FreeShippingOver waives shipping once the discounted subtotal reaches it. 0 disables.
	FreeShippingOver int64 `default:"0"`
}

// Load reads configuration from the environment and optional YAML files.
func Load() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		SkipFlags: true,
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that the loader cannot type check.
func (c *Config) Validate() error {
	if _, err := c.Pricing.Rate(); err != nil {
		return err
	}
	if _, err := c.Pricing.Methods(); err != nil {
		return err
	}
	if c.Cart.TTL <= 0 {
		return errors.New("cart TTL must be positive")
	}
	return nil
}

// Rate parses the tax rate.
func (p PricingConfig) Rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(p.TaxRate)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse tax rate %q", p.TaxRate)
	}
	if rate.IsNegative() {
		return decimal.Zero, errors.Errorf("tax rate %s is negative", rate)
	}
	return rate, nil
}

// Methods parses the shipping method list.
func (p PricingConfig) Methods() (map[string]int64, error) {
	out := make(map[string]int64, len(p.ShippingMethods))
	for _, pair := range p.ShippingMethods {
		name, cost, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || name == "" {
			return nil, errors.Errorf("shipping method %q: want name:cost", pair)
		}
		v, err := strconv.ParseInt(cost, 10, 64)
		if err != nil || v < 0 {
			return nil, errors.Errorf("shipping method %q: invalid cost", pair)
		}
		out[name] = v
	}
	return out, nil
}
