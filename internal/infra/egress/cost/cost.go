// Package cost keeps a running ledger of estimated proxy spend.
package cost

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vietddude/egress/internal/core/domain"
)

// Recorder accrues the cost of one request through a proxy class.
type Recorder interface {
	RecordUsage(class domain.ProxyClass) decimal.Decimal
}

// DefaultUnitCosts returns per-request prices in USD.
func DefaultUnitCosts() map[domain.ProxyClass]decimal.Decimal {
	return map[domain.ProxyClass]decimal.Decimal{
		domain.ProxyClassResidential: decimal.RequireFromString("0.001"),
		domain.ProxyClassDatacenter:  decimal.RequireFromString("0.0001"),
		domain.ProxyClassMobile:      decimal.RequireFromString("0.01"),
		domain.ProxyClassStatic:      decimal.RequireFromString("0.0005"),
	}
}

// ParseUnitCosts converts configured prices (class name -> decimal string),
// layered over the defaults.
func ParseUnitCosts(raw map[string]string) (map[domain.ProxyClass]decimal.Decimal, error) {
	costs := DefaultUnitCosts()
	for name, price := range raw {
		class, err := domain.ParseProxyClass(name)
		if err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("invalid unit cost for %s: %w", name, err)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("negative unit cost for %s", name)
		}
		costs[class] = d
	}
	return costs, nil
}

// ClassUsage is the spend of one proxy class.
type ClassUsage struct {
	Requests uint64          `json:"requests"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Cost     decimal.Decimal `json:"cost"`
}

type classLedger struct {
	mu       sync.Mutex
	unit     decimal.Decimal
	requests uint64
	total    decimal.Decimal
}

// Accountant is a monotonically increasing ledger split by proxy class.
// The class set is fixed at construction, so each ledger locks independently.
type Accountant struct {
	ledgers map[domain.ProxyClass]*classLedger
}

// NewAccountant creates a ledger. Classes missing from unitCosts use the
// defaults; unknown classes are priced like datacenter proxies.
func NewAccountant(unitCosts map[domain.ProxyClass]decimal.Decimal) *Accountant {
	costs := DefaultUnitCosts()
	for class, price := range unitCosts {
		costs[class] = price
	}
	if _, ok := costs[domain.ProxyClassUnknown]; !ok {
		costs[domain.ProxyClassUnknown] = costs[domain.ProxyClassDatacenter]
	}

	a := &Accountant{ledgers: make(map[domain.ProxyClass]*classLedger, len(costs))}
	for class, price := range costs {
		a.ledgers[class] = &classLedger{unit: price}
	}
	return a
}

func (a *Accountant) ledger(class domain.ProxyClass) *classLedger {
	if l, ok := a.ledgers[class]; ok {
		return l
	}
	return a.ledgers[domain.ProxyClassUnknown]
}

// RecordUsage adds one request's unit cost and returns the amount charged.
func (a *Accountant) RecordUsage(class domain.ProxyClass) decimal.Decimal {
	l := a.ledger(class)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests++
	l.total = l.total.Add(l.unit)
	return l.unit
}

// UnitCost returns the per-request price of a class.
func (a *Accountant) UnitCost(class domain.ProxyClass) decimal.Decimal {
	return a.ledger(class).unit
}

// TotalCost returns the running total in USD.
func (a *Accountant) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, l := range a.ledgers {
		l.mu.Lock()
		total = total.Add(l.total)
		l.mu.Unlock()
	}
	return total
}

// Breakdown returns spend per class.
func (a *Accountant) Breakdown() map[domain.ProxyClass]ClassUsage {
	out := make(map[domain.ProxyClass]ClassUsage, len(a.ledgers))
	for class, l := range a.ledgers {
		l.mu.Lock()
		out[class] = ClassUsage{Requests: l.requests, UnitCost: l.unit, Cost: l.total}
		l.mu.Unlock()
	}
	return out
}

// Snapshot is the serialisable ledger state.
type Snapshot struct {
	TotalCost decimal.Decimal                  `json:"total_cost"`
	Classes   map[domain.ProxyClass]ClassUsage `json:"classes"`
}

// Snapshot copies the ledger.
func (a *Accountant) Snapshot() Snapshot {
	return Snapshot{TotalCost: a.TotalCost(), Classes: a.Breakdown()}
}

// Restore loads accumulated totals. Unit prices stay as configured.
func (a *Accountant) Restore(s Snapshot) {
	for class, usage := range s.Classes {
		l, ok := a.ledgers[class]
		if !ok {
			continue
		}
		l.mu.Lock()
		l.requests = usage.Requests
		l.total = usage.Cost
		l.mu.Unlock()
	}
}
