package billing

import (
	"sync"
)

// Package is a named bundle of allotted hours purchased at check-in.
type Package struct {
	Type        string  `json:"type"`
	Name        string  `json:"name"`
	Hours       float64 `json:"hours"`
	Description string  `json:"description"`
}

// DefaultPackages returns the built-in package table.
func DefaultPackages() []Package {
	return []Package{
		{Type: "deep-work", Name: "Deep Work", Hours: 4, Description: "4 hours + 1 drink"},
		{Type: "light-work", Name: "Light Work", Hours: 3, Description: "3 hours + 1 drink"},
		{Type: "fun-work", Name: "Fun Work", Hours: 1, Description: "1 hour + 1 drink"},
		{Type: "test", Name: "Test", Hours: 10.0 / 60.0, Description: "10 minutes + 1 drink"},
	}
}

// Catalog holds the set of package definitions addressable by type, plus
// the overtime rate. It supports atomic replacement on config reload so
// lookups never observe a half-updated table. Sessions reference packages
// by type; billing always looks the package up at decision time.
type Catalog struct {
	mu       sync.RWMutex
	packages map[string]Package
	order    []string
	rate     int64
}

// NewCatalog builds a catalog from the given packages and overtime rate.
// Empty inputs fall back to the defaults.
func NewCatalog(packages []Package, rate int64) *Catalog {
	c := &Catalog{}
	c.Replace(packages, rate)
	return c
}

// Replace swaps the whole package table and rate in one step.
func (c *Catalog) Replace(packages []Package, rate int64) {
	if len(packages) == 0 {
		packages = DefaultPackages()
	}
	if rate <= 0 {
		rate = DefaultOvertimeRate
	}

	byType := make(map[string]Package, len(packages))
	order := make([]string, 0, len(packages))
	for _, p := range packages {
		if _, ok := byType[p.Type]; !ok {
			order = append(order, p.Type)
		}
		byType[p.Type] = p
	}

	c.mu.Lock()
	c.packages = byType
	c.order = order
	c.rate = rate
	c.mu.Unlock()
}

// Get returns the package definition for a type.
func (c *Catalog) Get(packageType string) (Package, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.packages[packageType]
	return p, ok
}

// Has reports whether the given package type exists.
func (c *Catalog) Has(packageType string) bool {
	_, ok := c.Get(packageType)
	return ok
}

// List returns all packages in their configured order.
func (c *Catalog) List() []Package {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Package, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, c.packages[t])
	}
	return out
}

// OvertimeRate returns the current per-hour overtime rate.
func (c *Catalog) OvertimeRate() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}
