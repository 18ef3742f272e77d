// Package settlement computes platform fees and VAT for an order subtotal.
// The calculator is pure: configuration is injected, nothing is read from
// process-wide state, and the same call serves checkout and every
// subscription renewal.
package settlement

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/settlement-core/internal/money"
)

// Channel is the sales context of an order.
type Channel string

const (
	ChannelDirect      Channel = "direct"      // creator's own storefront
	ChannelMarketplace Channel = "marketplace" // platform-promoted discovery
)

var (
	ErrUnknownChannel = errors.New("unknown sales channel")
	ErrNoVATRate      = errors.New("no VAT rate effective for date")
)

// VATRate is one row of the country-specific, time-versioned rate table.
type VATRate struct {
	Country       string    `json:"country"` // ISO 3166-1 alpha-2
	RateBps       int64     `json:"rate_bps"`
	EffectiveFrom time.Time `json:"effective_from"`
}

// Config carries the injected pricing rules. Fee rates are configuration so
// channel pricing can change without touching order logic.
type Config struct {
	FeeRatesBps   map[Channel]int64
	VATRates      []VATRate
	SellerCountry string
}

// DefaultConfig returns the platform defaults: 5% direct, 30% marketplace,
// South African VAT (14% before 1 April 2018, 15% after).
func DefaultConfig() Config {
	return Config{
		FeeRatesBps: map[Channel]int64{
			ChannelDirect:      500,
			ChannelMarketplace: 3000,
		},
		VATRates: []VATRate{
			{Country: "ZA", RateBps: 1400, EffectiveFrom: time.Date(1993, 4, 7, 0, 0, 0, 0, time.UTC)},
			{Country: "ZA", RateBps: 1500, EffectiveFrom: time.Date(2018, 4, 1, 0, 0, 0, 0, time.UTC)},
		},
		SellerCountry: "ZA",
	}
}

// Settlement is the computed money breakdown for one order or billing cycle.
// The platform fee reduces the seller's net and is never added to the
// buyer-facing total.
type Settlement struct {
	Subtotal   money.Money
	FeeRateBps int64
	FeeAmount  money.Money
	VATRateBps int64
	VATAmount  money.Money
	Total      money.Money
}

// Calculator computes settlements from an injected Config.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Compute returns the fee and VAT breakdown for a subtotal. Sellers without
// VAT registration charge no VAT regardless of the rate table.
func (c *Calculator) Compute(subtotal money.Money, channel Channel, vatRegistered bool, effectiveDate time.Time) (Settlement, error) {
	feeBps, ok := c.cfg.FeeRatesBps[channel]
	if !ok {
		return Settlement{}, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	s := Settlement{
		Subtotal:   subtotal,
		FeeRateBps: feeBps,
		FeeAmount:  subtotal.ApplyRate(feeBps),
		VATAmount:  money.Zero(subtotal.Currency),
	}

	if vatRegistered {
		rate, err := c.vatRateAt(c.cfg.SellerCountry, effectiveDate)
		if err != nil {
			return Settlement{}, err
		}
		s.VATRateBps = rate
		s.VATAmount = subtotal.ApplyRate(rate)
	}

	s.Total = subtotal.Add(s.VATAmount)
	return s, nil
}

// vatRateAt selects the rate whose effective-from date is the latest one at
// or before the given date.
func (c *Calculator) vatRateAt(country string, date time.Time) (int64, error) {
	rates := make([]VATRate, 0, len(c.cfg.VATRates))
	for _, r := range c.cfg.VATRates {
		if r.Country == country && !r.EffectiveFrom.After(date) {
			rates = append(rates, r)
		}
	}
	if len(rates) == 0 {
		return 0, fmt.Errorf("%w: %s %s", ErrNoVATRate, country, date.Format("2006-01-02"))
	}
	sort.Slice(rates, func(i, j int) bool {
		return rates[i].EffectiveFrom.Before(rates[j].EffectiveFrom)
	})
	return rates[len(rates)-1].RateBps, nil
}
