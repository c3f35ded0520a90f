package cost

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vietddude/egress/internal/core/domain"
)

func TestRecordUsage(t *testing.T) {
	a := NewAccountant(nil)

	a.RecordUsage(domain.ProxyClassResidential)
	a.RecordUsage(domain.ProxyClassResidential)
	a.RecordUsage(domain.ProxyClassMobile)
	charged := a.RecordUsage(domain.ProxyClassUnknown)

	if !charged.Equal(decimal.RequireFromString("0.0001")) {
		t.Errorf("Expected unknown class priced like datacenter, got %s", charged)
	}
	want := decimal.RequireFromString("0.0121")
	if got := a.TotalCost(); !got.Equal(want) {
		t.Errorf("Expected total %s, got %s", want, got)
	}

	b := a.Breakdown()
	if b[domain.ProxyClassResidential].Requests != 2 {
		t.Errorf("Expected 2 residential requests, got %d", b[domain.ProxyClassResidential].Requests)
	}
	if !b[domain.ProxyClassMobile].Cost.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Expected mobile cost 0.01, got %s", b[domain.ProxyClassMobile].Cost)
	}
}

func TestUnrecognisedClassFallsBack(t *testing.T) {
	a := NewAccountant(nil)
	a.RecordUsage(domain.ProxyClass("satellite"))
	if got := a.Breakdown()[domain.ProxyClassUnknown].Requests; got != 1 {
		t.Errorf("Expected charge on the unknown ledger, got %d", got)
	}
}

func TestParseUnitCosts(t *testing.T) {
	costs, err := ParseUnitCosts(map[string]string{"residential": "0.002"})
	if err != nil {
		t.Fatalf("ParseUnitCosts failed: %v", err)
	}
	if !costs[domain.ProxyClassResidential].Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("Expected override 0.002, got %s", costs[domain.ProxyClassResidential])
	}
	if !costs[domain.ProxyClassMobile].Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Expected default mobile price, got %s", costs[domain.ProxyClassMobile])
	}

	bad := []map[string]string{
		{"residential": "cheap"},
		{"balloon": "0.1"},
		{"static": "-1"},
	}
	for _, raw := range bad {
		if _, err := ParseUnitCosts(raw); err == nil {
			t.Errorf("Expected error for %v", raw)
		}
	}
}

func TestSnapshotRestore(t *testing.T) {
	a := NewAccountant(nil)
	for i := 0; i < 3; i++ {
		a.RecordUsage(domain.ProxyClassStatic)
	}

	data, err := json.Marshal(a.Snapshot())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	restored := NewAccountant(nil)
	restored.Restore(snap)
	if !restored.TotalCost().Equal(a.TotalCost()) {
		t.Errorf("Expected %s after restore, got %s", a.TotalCost(), restored.TotalCost())
	}
	restored.RecordUsage(domain.ProxyClassStatic)
	if !restored.TotalCost().Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("Expected 0.002 after one more request, got %s", restored.TotalCost())
	}
}

func TestConcurrentUsage(t *testing.T) {
	a := NewAccountant(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				a.RecordUsage(domain.ProxyClassDatacenter)
			}
		}()
	}
	wg.Wait()
	if !a.TotalCost().Equal(decimal.RequireFromString("0.8")) {
		t.Errorf("Expected 0.8, got %s", a.TotalCost())
	}
}
