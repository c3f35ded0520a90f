package selector

import (
	"fmt"
	"strings"

	"github.com/vietddude/egress/internal/core/domain"
	"github.com/vietddude/egress/internal/infra/egress/registry"
)

// Strategy names a selection algorithm.
type Strategy string

const (
	StrategyRoundRobin     Strategy = "round_robin"     // oldest last use
	StrategyWeightedRandom Strategy = "weighted_random" // success-weighted draw
	StrategyScoreOptimized Strategy = "score_optimized" // highest Scorer result
	StrategyGeoTargeted    Strategy = "geo_targeted"    // target country, then weighted
	StrategyLeastUsed      Strategy = "least_used"      // fewest requests
	StrategyBestForSite    Strategy = "best_for_site"   // best success rate on the domain
)

var builtinStrategies = []Strategy{
	StrategyRoundRobin,
	StrategyWeightedRandom,
	StrategyScoreOptimized,
	StrategyGeoTargeted,
	StrategyLeastUsed,
	StrategyBestForSite,
}

// ParseStrategy accepts "best_for_site", "bestForSite" and similar spellings.
func ParseStrategy(name string) (Strategy, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	for _, s := range builtinStrategies {
		if normalized == string(s) || normalized == strings.ReplaceAll(string(s), "_", "") {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown selection strategy %q", name)
}

// Candidate is a proxy that passed filtering, with its history on the target.
type Candidate struct {
	Health registry.Health
	Site   *registry.SitePerformance // nil without history on this domain
}

// ID returns the proxy ID.
func (c Candidate) ID() string {
	return c.Health.Descriptor.ID
}

// Class returns the proxy class.
func (c Candidate) Class() domain.ProxyClass {
	return c.Health.Descriptor.Class
}

// Picker implements one selection strategy. Candidates are never empty and
// are sorted by proxy ID.
type Picker interface {
	Pick(candidates []Candidate, target Target) (Candidate, bool)
}

// PickerFunc adapts a function to Picker.
type PickerFunc func(candidates []Candidate, target Target) (Candidate, bool)

// Pick calls f.
func (f PickerFunc) Pick(candidates []Candidate, target Target) (Candidate, bool) {
	return f(candidates, target)
}

func roundRobin(candidates []Candidate, _ Target) (Candidate, bool) {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Health.LastUsedAt.Before(best.Health.LastUsedAt) {
			best = c
		}
	}
	return best, true
}

func leastUsed(candidates []Candidate, _ Target) (Candidate, bool) {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Health.TotalRequests() < best.Health.TotalRequests() {
			best = c
		}
	}
	return best, true
}

func bestForSite(candidates []Candidate, _ Target) (Candidate, bool) {
	best, bestRate := candidates[0], siteRate(candidates[0])
	for _, c := range candidates[1:] {
		if r := siteRate(c); r > bestRate {
			best, bestRate = c, r
		}
	}
	return best, true
}

// siteRate is the success rate on the target domain, or the global rate
// when there is no history there. Both are fractions.
func siteRate(c Candidate) float64 {
	if c.Site != nil && c.Site.TotalCount > 0 {
		return c.Site.SuccessRate
	}
	return c.Health.SuccessRatePct / 100
}

const minWeight = 0.1

// weight favours reliable proxies and those that did well on the target.
func weight(c Candidate) float64 {
	w := c.Health.SuccessRatePct / 100
	if c.Site != nil {
		w *= 1 + c.Site.SuccessRate
	}
	return max(w, minWeight)
}

func weightedRandom(randFloat func() float64) PickerFunc {
	return func(candidates []Candidate, _ Target) (Candidate, bool) {
		weights := make([]float64, len(candidates))
		var total float64
		for i, c := range candidates {
			weights[i] = weight(c)
			total += weights[i]
		}

		r := randFloat() * total
		for i, w := range weights {
			if r < w {
				return candidates[i], true
			}
			r -= w
		}
		return candidates[len(candidates)-1], true
	}
}

func geoTargeted(fallback PickerFunc) PickerFunc {
	return func(candidates []Candidate, target Target) (Candidate, bool) {
		var local []Candidate
		for _, c := range candidates {
			if strings.EqualFold(c.Health.Descriptor.Country, target.Country) {
				local = append(local, c)
			}
		}
		if len(local) == 0 {
			return fallback(candidates, target)
		}
		return fallback(local, target)
	}
}

func scoreOptimized(scorer func() Scorer) PickerFunc {
	return func(candidates []Candidate, target Target) (Candidate, bool) {
		s := scorer()
		best, bestScore := candidates[0], s.Score(candidates[0], target)
		for _, c := range candidates[1:] {
			if score := s.Score(c, target); score > bestScore {
				best, bestScore = c, score
			}
		}
		return best, true
	}
}
