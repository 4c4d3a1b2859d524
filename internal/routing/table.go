// Package routing holds the static symbol to provider table.
// It is configuration: resolved once per request, never mutated at runtime.
package routing

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wonny/marketdata/internal/cache"
	"github.com/wonny/marketdata/internal/provider"
)

// Rule overrides routing for one symbol
type Rule struct {
	Providers   []string `yaml:"providers,omitempty" json:"providers,omitempty"`
	Granularity string   `yaml:"granularity,omitempty" json:"granularity,omitempty"`
	TTLClass    string   `yaml:"ttl_class,omitempty" json:"ttl_class,omitempty"`
	// Calendar "none" judges freshness by ttl alone (lagged economic series)
	Calendar string `yaml:"calendar,omitempty" json:"calendar,omitempty"`
}

// Table is the routing configuration
// ⭐ SSOT: 심볼 → 공급자 라우팅 규칙은 여기서만
type Table struct {
	// DefaultProviders is the ordered chain for symbols without a rule
	DefaultProviders []string `yaml:"default_providers" json:"default_providers"`
	// Symbols pins symbols to their own chain, granularity or ttl class
	Symbols map[string]Rule `yaml:"symbols,omitempty" json:"symbols,omitempty"`
	// Proxies substitutes a stand-in symbol before lookup
	Proxies map[string]string `yaml:"proxies,omitempty" json:"proxies,omitempty"`
	// Unsupported lists glob patterns a provider can never serve
	Unsupported map[string][]string `yaml:"unsupported,omitempty" json:"unsupported,omitempty"`
}

// Route is the resolved plan for one requested symbol
type Route struct {
	// Requested is what the caller asked for; results are cached under it
	Requested string
	// Lookup is what providers are asked for (the proxy, if any)
	Lookup      string
	Providers   []string
	Granularity provider.Granularity
	TTLClass    cache.TTLClass
	Calendar    cache.Calendar
}

// Proxied reports whether a stand-in symbol is used
func (r Route) Proxied() bool {
	return r.Lookup != r.Requested
}

// DefaultTable returns the built-in routing
func DefaultTable() *Table {
	return &Table{
		DefaultProviders: []string{"alphavantage", "yahoo"},
		Symbols: map[string]Rule{
			// Volatility indices are only on the chart API
			"^VIX": {Providers: []string{"yahoo"}},
			"^VXN": {Providers: []string{"yahoo"}},
			// Treasury yields and credit spreads
			// FRED publishes these a business day late
			"DGS10":        {Providers: []string{"fred"}, Calendar: "none"},
			"DGS2":         {Providers: []string{"fred"}, Calendar: "none"},
			"T10Y2Y":       {Providers: []string{"fred"}, Calendar: "none"},
			"BAMLH0A0HYM2": {Providers: []string{"fred"}, Calendar: "none"},
			// Macro releases
			"CPIAUCSL": {Providers: []string{"fred"}, Granularity: "monthly", TTLClass: "monthly"},
			"UNRATE":   {Providers: []string{"fred"}, Granularity: "monthly", TTLClass: "monthly"},
			"GDP":      {Providers: []string{"fred"}, Granularity: "quarterly", TTLClass: "quarterly"},
		},
		Proxies: map[string]string{
			// Dollar index stand-in
			"DXY": "UUP",
		},
		Unsupported: map[string][]string{
			"alphavantage": {"^*"},
		},
	}
}

// Load reads a YAML table from path. Unknown fields are rejected.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML table
func Parse(data []byte) (*Table, error) {
	var t Table
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to parse routing table: %w", err)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks patterns, rule fields and proxy chains
func (t *Table) Validate() error {
	if len(t.DefaultProviders) == 0 {
		return fmt.Errorf("routing: default_providers must not be empty")
	}

	for name, patterns := range t.Unsupported {
		for _, p := range patterns {
			if _, err := path.Match(p, ""); err != nil {
				return fmt.Errorf("routing: bad pattern %q for %s: %w", p, name, err)
			}
		}
	}

	for symbol, rule := range t.Symbols {
		if _, err := provider.ParseGranularity(rule.Granularity); err != nil {
			return fmt.Errorf("routing: symbol %s: %w", symbol, err)
		}
		if _, err := cache.ParseTTLClass(rule.TTLClass); err != nil {
			return fmt.Errorf("routing: symbol %s: %w", symbol, err)
		}
		if _, err := cache.ParseCalendar(rule.Calendar); err != nil {
			return fmt.Errorf("routing: symbol %s: %w", symbol, err)
		}
	}

	for from, to := range t.Proxies {
		if to == "" || to == from {
			return fmt.Errorf("routing: proxy for %s must name a different symbol", from)
		}
		if _, chained := t.Proxies[to]; chained {
			return fmt.Errorf("routing: proxy %s -> %s is chained", from, to)
		}
	}

	return nil
}

// Providers returns every provider name the table mentions, sorted
func (t *Table) Providers() []string {
	seen := make(map[string]bool)
	for _, name := range t.DefaultProviders {
		seen[name] = true
	}
	for _, rule := range t.Symbols {
		for _, name := range rule.Providers {
			seen[name] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the provider chain for symbol.
// Providers that cannot serve the looked-up symbol are dropped, so the
// chain may be empty.
func (t *Table) Resolve(symbol string) Route {
	symbol = strings.TrimSpace(symbol)

	route := Route{
		Requested:   symbol,
		Lookup:      symbol,
		Granularity: provider.Daily,
		Calendar:    cache.CalendarTrading,
	}
	if proxy, ok := t.Proxies[symbol]; ok {
		route.Lookup = proxy
	}

	rule, ok := t.Symbols[route.Requested]
	if !ok {
		rule, ok = t.Symbols[route.Lookup]
	}

	chain := t.DefaultProviders
	if ok && len(rule.Providers) > 0 {
		chain = rule.Providers
	}
	if ok {
		// validated on load
		route.Granularity, _ = provider.ParseGranularity(rule.Granularity)
		route.TTLClass, _ = cache.ParseTTLClass(rule.TTLClass)
		route.Calendar, _ = cache.ParseCalendar(rule.Calendar)
	}
	if !ok || rule.TTLClass == "" {
		route.TTLClass = cache.TTLFor(route.Granularity)
	}

	for _, name := range chain {
		if !t.supports(name, route.Lookup) {
			continue
		}
		route.Providers = append(route.Providers, name)
	}

	return route
}

// supports reports whether provider can serve symbol
func (t *Table) supports(name, symbol string) bool {
	for _, pattern := range t.Unsupported[name] {
		if matched, _ := path.Match(pattern, symbol); matched {
			return false
		}
	}
	return true
}
