// Package selector picks an egress proxy for a target from the health registry.
package selector

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/egress/internal/core/domain"
	"github.com/vietddude/egress/internal/infra/egress/cost"
	"github.com/vietddude/egress/internal/infra/egress/geo"
	"github.com/vietddude/egress/internal/infra/egress/registry"
	"github.com/vietddude/egress/internal/routing/metrics"
)

// Source is the part of the health registry the selector reads and stamps.
type Source interface {
	Pool() []registry.Health
	Site(target, proxyID string) (registry.SitePerformance, bool)
	MarkUsed(proxyID string)
}

// Config holds selector settings.
type Config struct {
	Cooldown        time.Duration `yaml:"cooldown"`
	DefaultStrategy Strategy      `yaml:"default_strategy"`
}

// DefaultConfig returns the standard selector settings.
func DefaultConfig() Config {
	return Config{
		Cooldown:        30 * time.Second,
		DefaultStrategy: StrategyWeightedRandom,
	}
}

// Target describes the request being routed.
type Target struct {
	Domain     string
	Country    string
	Difficulty int // 1-5
	At         time.Time
}

// Selector chooses proxies. Selection is best-effort under concurrency: two
// callers may pick the same proxy before either stamps its last use.
type Selector struct {
	cfg    Config
	source Source
	costs  cost.Recorder

	mu      sync.RWMutex
	pickers map[Strategy]Picker
	scorer  Scorer

	difficulty func(target string) int
	randFloat  func() float64
	now        func() time.Time
}

// New creates a selector over the given registry. costs may be nil.
func New(cfg Config, source Source, costs cost.Recorder) *Selector {
	def := DefaultConfig()
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = def.DefaultStrategy
	}

	s := &Selector{
		cfg:        cfg,
		source:     source,
		costs:      costs,
		scorer:     DefaultScorer(),
		difficulty: SiteDifficulty,
		randFloat:  rand.Float64,
		now:        time.Now,
	}

	weighted := weightedRandom(func() float64 { return s.randFloat() })
	s.pickers = map[Strategy]Picker{
		StrategyRoundRobin:     PickerFunc(roundRobin),
		StrategyWeightedRandom: weighted,
		StrategyScoreOptimized: scoreOptimized(s.currentScorer),
		StrategyGeoTargeted:    geoTargeted(weighted),
		StrategyLeastUsed:      PickerFunc(leastUsed),
		StrategyBestForSite:    PickerFunc(bestForSite),
	}
	return s
}

// Register adds or replaces a named strategy.
func (s *Selector) Register(name Strategy, p Picker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pickers[name] = p
}

// SetScorer replaces the score_optimized scoring function.
func (s *Selector) SetScorer(scorer Scorer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scorer = scorer
}

func (s *Selector) currentScorer() Scorer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scorer
}

// SetDifficulty replaces the site difficulty estimator.
func (s *Selector) SetDifficulty(fn func(target string) int) {
	s.difficulty = fn
}

// SetRand replaces the random source used by weighted strategies.
func (s *Selector) SetRand(fn func() float64) {
	s.randFloat = fn
}

// SetClock replaces the time source. Used by tests.
func (s *Selector) SetClock(now func() time.Time) {
	s.now = now
}

// DefaultStrategy returns the configured default.
func (s *Selector) DefaultStrategy() Strategy {
	return s.cfg.DefaultStrategy
}

// TargetFor builds the routing target for a URL or host.
func (s *Selector) TargetFor(target string) Target {
	return Target{
		Domain:     domain.HostOf(target),
		Country:    geo.CountryForTarget(target),
		Difficulty: s.difficulty(target),
		At:         s.now(),
	}
}

// Select picks a proxy for target, or reports false when the pool is empty.
// An empty strategy uses the default. The chosen proxy is stamped as used
// and its cost accrued.
func (s *Selector) Select(target string, req domain.ProxyRequirements, strategy Strategy) (domain.ProxyDescriptor, bool) {
	c, ok := s.choose(target, req, strategy)
	if !ok {
		metrics.ProxyUnavailable.Inc()
		return domain.ProxyDescriptor{}, false
	}
	s.ReportUsage(c.Health.Descriptor)
	if strategy == "" {
		strategy = s.cfg.DefaultStrategy
	}
	metrics.ProxySelections.WithLabelValues(string(strategy), string(c.Class())).Inc()
	return c.Health.Descriptor, true
}

// Peek runs selection without recording usage.
func (s *Selector) Peek(target string, req domain.ProxyRequirements, strategy Strategy) (domain.ProxyDescriptor, bool) {
	c, ok := s.choose(target, req, strategy)
	return c.Health.Descriptor, ok
}

func (s *Selector) choose(target string, req domain.ProxyRequirements, strategy Strategy) (Candidate, bool) {
	if strategy == "" {
		strategy = s.cfg.DefaultStrategy
	}
	s.mu.RLock()
	picker, ok := s.pickers[strategy]
	s.mu.RUnlock()
	if !ok {
		picker = s.pickers[StrategyWeightedRandom]
	}

	t := s.TargetFor(target)
	candidates := s.candidates(t)
	if len(candidates) == 0 {
		return Candidate{}, false
	}

	filtered := s.filter(candidates, req, t)
	if len(filtered) == 0 {
		// Widen, but keep honouring explicit exclusions when possible.
		filtered = withoutIDs(candidates, req.ExcludeIDs)
		if len(filtered) == 0 {
			filtered = candidates
		}
	}
	return picker.Pick(filtered, t)
}

func (s *Selector) candidates(t Target) []Candidate {
	pool := s.source.Pool()
	out := make([]Candidate, 0, len(pool))
	for _, h := range pool {
		c := Candidate{Health: h}
		if t.Domain != "" {
			if sp, ok := s.source.Site(t.Domain, h.Descriptor.ID); ok {
				c.Site = &sp
			}
		}
		out = append(out, c)
	}
	return out
}

func (s *Selector) filter(candidates []Candidate, req domain.ProxyRequirements, t Target) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		h := c.Health
		if req.Class != "" && h.Descriptor.Class != req.Class {
			continue
		}
		if req.MinSuccessRate > 0 && h.SuccessRatePct < req.MinSuccessRate {
			continue
		}
		if req.MaxResponseTime > 0 && h.ResponseSamples > 0 && h.AvgResponseTime > req.MaxResponseTime {
			continue
		}
		if req.Country != "" && !strings.EqualFold(h.Descriptor.Country, req.Country) {
			continue
		}
		if req.AvoidDatacenter && h.Descriptor.Class == domain.ProxyClassDatacenter {
			continue
		}
		if slices.Contains(req.ExcludeIDs, h.Descriptor.ID) {
			continue
		}
		if !h.LastUsedAt.IsZero() && t.At.Sub(h.LastUsedAt) < s.cfg.Cooldown {
			continue
		}
		if t.Domain != "" && h.IsBlockedOn(t.Domain) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func withoutIDs(candidates []Candidate, ids []string) []Candidate {
	if len(ids) == 0 {
		return candidates
	}
	var out []Candidate
	for _, c := range candidates {
		if !slices.Contains(ids, c.ID()) {
			out = append(out, c)
		}
	}
	return out
}

// ReportUsage stamps the proxy's last use and accrues its class cost.
func (s *Selector) ReportUsage(p domain.ProxyDescriptor) {
	s.source.MarkUsed(p.ID)
	if s.costs != nil {
		charged := s.costs.RecordUsage(p.Class)
		metrics.EstimatedCost.WithLabelValues(string(p.Class)).Add(charged.InexactFloat64())
	}
}

// String is used in logs.
func (t Target) String() string {
	return fmt.Sprintf("%s (country=%s difficulty=%d)", t.Domain, t.Country, t.Difficulty)
}
