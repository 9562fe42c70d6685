package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/punchamoorthee/paycore/internal/domain"
)

// Catalog is the provider and global fee setup kept in providers.yaml.
type Catalog struct {
	Providers []ProviderEntry `yaml:"providers"`
	Fees      []FeeEntry      `yaml:"fees"`
}

type ProviderEntry struct {
	Name          string   `yaml:"name"`
	Identifier    string   `yaml:"identifier"`
	Active        bool     `yaml:"active"`
	Healthy       bool     `yaml:"healthy"`
	Channels      []string `yaml:"channels"`
	FeePercentage string   `yaml:"fee_percentage"`
	FixedFee      int64    `yaml:"fixed_fee"`
}

type FeeEntry struct {
	Channel     string `yaml:"channel"`
	Currency    string `yaml:"currency"`
	Percentage  string `yaml:"percentage"`
	FixedAmount int64  `yaml:"fixed_amount"`
	MinFee      int64  `yaml:"min_fee"`
	MaxFee      *int64 `yaml:"max_fee"`
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}
	return &c, nil
}

// ProviderRecords converts the catalog entries into provider rows.
func (c *Catalog) ProviderRecords() ([]domain.Provider, error) {
	out := make([]domain.Provider, 0, len(c.Providers))
	seen := make(map[string]bool)
	for _, e := range c.Providers {
		if e.Identifier == "" {
			return nil, fmt.Errorf("provider %q has no identifier", e.Name)
		}
		if seen[e.Identifier] {
			return nil, fmt.Errorf("provider %q listed twice", e.Identifier)
		}
		seen[e.Identifier] = true

		p := domain.Provider{
			Name:       e.Name,
			Identifier: e.Identifier,
			Active:     e.Active,
			Healthy:    e.Healthy,
			Metadata:   domain.ProviderMetadata{FixedFee: e.FixedFee},
		}
		if p.Name == "" {
			p.Name = e.Identifier
		}
		for _, ch := range e.Channels {
			channel := domain.Channel(ch)
			if !channel.Valid() {
				return nil, fmt.Errorf("provider %q: unknown channel %q", e.Identifier, ch)
			}
			p.SupportedChannels = append(p.SupportedChannels, channel)
		}
		if e.FeePercentage != "" {
			pct, err := decimal.NewFromString(e.FeePercentage)
			if err != nil {
				return nil, fmt.Errorf("provider %q: fee_percentage: %w", e.Identifier, err)
			}
			p.Metadata.FeePercentage = &pct
		}
		out = append(out, p)
	}
	return out, nil
}

// FeeRecords converts the catalog's global fee entries.
func (c *Catalog) FeeRecords() ([]domain.FeeConfig, error) {
	out := make([]domain.FeeConfig, 0, len(c.Fees))
	for _, e := range c.Fees {
		ch := domain.Channel(e.Channel)
		if !ch.Valid() {
			return nil, fmt.Errorf("fee entry: unknown channel %q", e.Channel)
		}
		pct, err := decimal.NewFromString(e.Percentage)
		if err != nil {
			return nil, fmt.Errorf("fee entry for %s: percentage: %w", e.Channel, err)
		}
		currency := e.Currency
		if currency == "" {
			currency = domain.DefaultCurrency
		}
		out = append(out, domain.FeeConfig{
			Channel:     ch,
			Currency:    currency,
			Percentage:  pct,
			FixedAmount: e.FixedAmount,
			MinFee:      e.MinFee,
			MaxFee:      e.MaxFee,
			Active:      true,
		})
	}
	return out, nil
}
