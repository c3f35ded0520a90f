package selector

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/egress/internal/core/domain"
	"github.com/vietddude/egress/internal/infra/egress/cost"
	"github.com/vietddude/egress/internal/infra/egress/registry"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func desc(id string, class domain.ProxyClass, country string) domain.ProxyDescriptor {
	return domain.ProxyDescriptor{ID: id, Class: class, Country: country}
}

func setup(t *testing.T, descs ...domain.ProxyDescriptor) (*Selector, *registry.Registry, *cost.Accountant, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)}
	reg := registry.NewRegistry(registry.DefaultConfig())
	reg.SetClock(clock.Now)
	reg.Admit(descs...)
	acct := cost.NewAccountant(nil)
	sel := New(DefaultConfig(), reg, acct)
	sel.SetClock(clock.Now)
	sel.SetRand(rand.New(rand.NewPCG(1, 2)).Float64)
	return sel, reg, acct, clock
}

func report(reg *registry.Registry, id, target string, successes, failures int) {
	for i := 0; i < successes; i++ {
		reg.ReportOutcome(id, target, true, 0, "")
	}
	for i := 0; i < failures; i++ {
		reg.ReportOutcome(id, target, false, 0, "")
	}
}

func TestSelectEmptyPool(t *testing.T) {
	sel, _, _, _ := setup(t)
	if _, ok := sel.Select("example.com", domain.ProxyRequirements{}, StrategyRoundRobin); ok {
		t.Error("Expected no proxy from an empty pool")
	}
}

func TestRoundRobinPicksOldest(t *testing.T) {
	sel, _, _, clock := setup(t,
		desc("a", domain.ProxyClassResidential, "US"),
		desc("b", domain.ProxyClassResidential, "US"),
		desc("c", domain.ProxyClassResidential, "US"),
	)

	var got []string
	for i := 0; i < 6; i++ {
		p, ok := sel.Select("example.com", domain.ProxyRequirements{}, StrategyRoundRobin)
		if !ok {
			t.Fatal("Expected a proxy")
		}
		got = append(got, p.ID)
		clock.Advance(time.Second)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected rotation %v, got %v", want, got)
		}
	}
}

func TestCooldownFallsBackToFullPool(t *testing.T) {
	sel, _, _, clock := setup(t, desc("only", domain.ProxyClassResidential, "US"))

	if _, ok := sel.Select("example.com", domain.ProxyRequirements{}, StrategyLeastUsed); !ok {
		t.Fatal("Expected first selection to succeed")
	}
	clock.Advance(5 * time.Second)
	p, ok := sel.Select("example.com", domain.ProxyRequirements{}, StrategyLeastUsed)
	if !ok || p.ID != "only" {
		t.Errorf("Expected cooled-down proxy via fallback, got %q (%v)", p.ID, ok)
	}
}

func TestCooldownSkipsRecentlyUsed(t *testing.T) {
	sel, reg, _, clock := setup(t,
		desc("a", domain.ProxyClassResidential, "US"),
		desc("b", domain.ProxyClassResidential, "US"),
	)
	report(reg, "a", "x.com", 10, 0)
	report(reg, "b", "x.com", 5, 5)

	p, _ := sel.Select("example.com", domain.ProxyRequirements{}, StrategyBestForSite)
	if p.ID != "a" {
		t.Fatalf("Expected a first, got %s", p.ID)
	}
	clock.Advance(10 * time.Second)
	p, _ = sel.Select("example.com", domain.ProxyRequirements{}, StrategyBestForSite)
	if p.ID != "b" {
		t.Errorf("Expected b while a cools down, got %s", p.ID)
	}
	clock.Advance(31 * time.Second)
	p, _ = sel.Select("example.com", domain.ProxyRequirements{}, StrategyBestForSite)
	if p.ID != "a" {
		t.Errorf("Expected a after cooldown, got %s", p.ID)
	}
}

func TestFilters(t *testing.T) {
	sel, reg, _, _ := setup(t,
		desc("dc", domain.ProxyClassDatacenter, "US"),
		desc("res-de", domain.ProxyClassResidential, "DE"),
		desc("mob", domain.ProxyClassMobile, "US"),
		desc("slow", domain.ProxyClassResidential, "US"),
	)
	report(reg, "dc", "x.com", 9, 1)
	report(reg, "res-de", "x.com", 5, 5)
	report(reg, "mob", "x.com", 10, 0)
	reg.ReportOutcome("slow", "x.com", true, 5*time.Second, "")

	tests := []struct {
		name string
		req  domain.ProxyRequirements
		want string
	}{
		{"class", domain.ProxyRequirements{Class: domain.ProxyClassDatacenter}, "dc"},
		{"country", domain.ProxyRequirements{Country: "de"}, "res-de"},
		{"min success", domain.ProxyRequirements{MinSuccessRate: 95, AvoidDatacenter: true, MaxResponseTime: time.Second}, "mob"},
		{"exclude", domain.ProxyRequirements{Class: domain.ProxyClassMobile, ExcludeIDs: []string{"mob"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := sel.Peek("example.com", tt.req, StrategyLeastUsed)
			if !ok {
				t.Fatal("Expected a proxy")
			}
			if tt.want != "" && p.ID != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, p.ID)
			}
			if tt.want == "" && p.ID == "mob" {
				t.Error("Expected excluded proxy to stay excluded in the widened pool")
			}
		})
	}
}

func TestBlockedSiteIsSkipped(t *testing.T) {
	sel, reg, _, _ := setup(t,
		desc("a", domain.ProxyClassResidential, "US"),
		desc("b", domain.ProxyClassResidential, "US"),
	)
	report(reg, "a", "shop.com", 20, 0)
	reg.ReportOutcome("a", "shop.com", false, 0, "IP banned")
	report(reg, "b", "x.com", 1, 1)

	p, _ := sel.Peek("shop.com", domain.ProxyRequirements{}, StrategyBestForSite)
	if p.ID != "b" {
		t.Errorf("Expected b for a site that banned a, got %s", p.ID)
	}
	p, _ = sel.Peek("other.com", domain.ProxyRequirements{}, StrategyBestForSite)
	if p.ID != "a" {
		t.Errorf("Expected a on other sites, got %s", p.ID)
	}
}

func TestWeightedRandomDistribution(t *testing.T) {
	pick := weightedRandom(rand.New(rand.NewPCG(7, 11)).Float64)
	candidates := []Candidate{
		{Health: registry.Health{Descriptor: desc("good", domain.ProxyClassResidential, "US"), SuccessRatePct: 100}},
		{Health: registry.Health{Descriptor: desc("poor", domain.ProxyClassResidential, "US"), SuccessRatePct: 10}},
	}

	const runs = 10000
	good := 0
	for i := 0; i < runs; i++ {
		c, _ := pick(candidates, Target{})
		if c.ID() == "good" {
			good++
		}
	}
	ratio := float64(good) / runs
	want := 1.0 / 1.1
	if math.Abs(ratio-want) > 0.02 {
		t.Errorf("Expected ratio near %.3f, got %.3f", want, ratio)
	}
}

func TestWeightFloorAndSiteBoost(t *testing.T) {
	dead := Candidate{Health: registry.Health{SuccessRatePct: 0}}
	if w := weight(dead); w != minWeight {
		t.Errorf("Expected floor %.1f, got %f", minWeight, w)
	}
	boosted := Candidate{
		Health: registry.Health{SuccessRatePct: 50},
		Site:   &registry.SitePerformance{SuccessRate: 1, TotalCount: 4, SuccessCount: 4},
	}
	if w := weight(boosted); w != 1.0 {
		t.Errorf("Expected 0.5 * (1 + 1) = 1.0, got %f", w)
	}
}

func TestBestForSite(t *testing.T) {
	sel, reg, _, _ := setup(t,
		desc("global", domain.ProxyClassResidential, "US"),
		desc("local", domain.ProxyClassResidential, "US"),
	)
	report(reg, "global", "elsewhere.com", 95, 5)
	report(reg, "local", "target.com", 10, 0)
	report(reg, "local", "elsewhere.com", 0, 50)

	p, _ := sel.Peek("target.com", domain.ProxyRequirements{}, StrategyBestForSite)
	if p.ID != "local" {
		t.Errorf("Expected site history to win, got %s", p.ID)
	}
	p, _ = sel.Peek("new.com", domain.ProxyRequirements{}, StrategyBestForSite)
	if p.ID != "global" {
		t.Errorf("Expected global rate without site history, got %s", p.ID)
	}
}

func TestLeastUsed(t *testing.T) {
	sel, reg, _, _ := setup(t,
		desc("busy", domain.ProxyClassResidential, "US"),
		desc("idle", domain.ProxyClassResidential, "US"),
	)
	report(reg, "busy", "x.com", 30, 0)
	report(reg, "idle", "x.com", 2, 0)

	p, _ := sel.Peek("example.com", domain.ProxyRequirements{}, StrategyLeastUsed)
	if p.ID != "idle" {
		t.Errorf("Expected idle, got %s", p.ID)
	}
}

func TestGeoTargeted(t *testing.T) {
	sel, _, _, _ := setup(t,
		desc("us", domain.ProxyClassResidential, "US"),
		desc("gb", domain.ProxyClassResidential, "GB"),
	)
	for i := 0; i < 20; i++ {
		p, _ := sel.Peek("https://www.example.co.uk/", domain.ProxyRequirements{}, StrategyGeoTargeted)
		if p.ID != "gb" {
			t.Fatalf("Expected gb for a .co.uk target, got %s", p.ID)
		}
	}
	if _, ok := sel.Peek("example.jp", domain.ProxyRequirements{}, StrategyGeoTargeted); !ok {
		t.Error("Expected fallback selection when no proxy matches the country")
	}
}

func TestScoreOptimizedPluggable(t *testing.T) {
	sel, reg, _, _ := setup(t,
		desc("dc", domain.ProxyClassDatacenter, "US"),
		desc("res", domain.ProxyClassResidential, "US"),
	)
	report(reg, "dc", "x.com", 10, 0)
	report(reg, "res", "x.com", 10, 0)

	p, _ := sel.Peek("www.linkedin.com", domain.ProxyRequirements{}, StrategyScoreOptimized)
	if p.ID != "res" {
		t.Errorf("Expected residential for a hard site, got %s", p.ID)
	}

	sel.SetScorer(ScorerFunc(func(c Candidate, _ Target) float64 {
		if c.Class() == domain.ProxyClassDatacenter {
			return 1
		}
		return 0
	}))
	p, _ = sel.Peek("www.linkedin.com", domain.ProxyRequirements{}, StrategyScoreOptimized)
	if p.ID != "dc" {
		t.Errorf("Expected custom scorer to pick dc, got %s", p.ID)
	}
}

func TestRegisterCustomStrategy(t *testing.T) {
	sel, _, _, _ := setup(t,
		desc("a", domain.ProxyClassResidential, "US"),
		desc("z", domain.ProxyClassResidential, "US"),
	)
	sel.Register("last", PickerFunc(func(c []Candidate, _ Target) (Candidate, bool) {
		return c[len(c)-1], true
	}))
	p, _ := sel.Peek("example.com", domain.ProxyRequirements{}, "last")
	if p.ID != "z" {
		t.Errorf("Expected custom strategy to pick z, got %s", p.ID)
	}
}

func TestSelectAccruesCost(t *testing.T) {
	sel, reg, acct, clock := setup(t, desc("m", domain.ProxyClassMobile, "US"))

	sel.Select("example.com", domain.ProxyRequirements{}, StrategyRoundRobin)
	h, _ := reg.Get("m")
	if !h.LastUsedAt.Equal(clock.Now()) {
		t.Errorf("Expected last use stamped at %v, got %v", clock.Now(), h.LastUsedAt)
	}
	if !acct.TotalCost().Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Expected mobile unit cost accrued, got %s", acct.TotalCost())
	}

	sel.Peek("example.com", domain.ProxyRequirements{}, StrategyRoundRobin)
	if !acct.TotalCost().Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Expected peek to be free, got %s", acct.TotalCost())
	}
}

func TestParseStrategy(t *testing.T) {
	tests := map[string]Strategy{
		"roundRobin":      StrategyRoundRobin,
		"weighted_random": StrategyWeightedRandom,
		"best-for-site":   StrategyBestForSite,
		"GeoTargeted":     StrategyGeoTargeted,
	}
	for in, want := range tests {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseStrategy("ml"); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

func TestSiteDifficulty(t *testing.T) {
	tests := map[string]int{
		"https://www.amazon.com/dp/1": 3,
		"m.facebook.com":              4,
		"example.org":                 2,
	}
	for target, want := range tests {
		if got := SiteDifficulty(target); got != want {
			t.Errorf("SiteDifficulty(%q) = %d, want %d", target, got, want)
		}
	}
}
