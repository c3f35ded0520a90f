package selector

import (
	"strings"

	"github.com/vietddude/egress/internal/core/domain"
)

// Scorer ranks a candidate for the score_optimized strategy. Higher is better.
type Scorer interface {
	Score(c Candidate, target Target) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(c Candidate, target Target) float64

// Score calls f.
func (f ScorerFunc) Score(c Candidate, target Target) float64 {
	return f(c, target)
}

// HeuristicScorer is a fixed weighted blend of success rate, latency, proxy
// class fit for the site difficulty, and time of day. It does not learn from
// traffic; swap it out with Selector.SetScorer for anything smarter.
type HeuristicScorer struct {
	SuccessWeight float64
	ClassWeight   float64
	LatencyWeight float64
	HourWeight    float64
}

// DefaultScorer returns the standard heuristic weights.
func DefaultScorer() HeuristicScorer {
	return HeuristicScorer{
		SuccessWeight: 0.45,
		ClassWeight:   0.25,
		LatencyWeight: 0.2,
		HourWeight:    0.1,
	}
}

// assumedResponseSecs is used for proxies without response samples.
const assumedResponseSecs = 2.0

// Score implements Scorer.
func (h HeuristicScorer) Score(c Candidate, target Target) float64 {
	success := siteRate(c)

	secs := c.Health.AvgResponseTime.Seconds()
	if c.Health.ResponseSamples == 0 {
		secs = assumedResponseSecs
	}
	latency := 1 / (1 + secs)

	return h.SuccessWeight*success +
		h.ClassWeight*classFit(c.Class(), target.Difficulty) +
		h.LatencyWeight*latency +
		h.HourWeight*hourFit(c.Class(), target.At.Hour())
}

// classFit drops for easily fingerprinted classes as sites get harder.
func classFit(class domain.ProxyClass, difficulty int) float64 {
	d := float64(min(max(difficulty, 1), 5) - 1)
	switch class {
	case domain.ProxyClassResidential:
		return 1.0
	case domain.ProxyClassMobile:
		return 0.95
	case domain.ProxyClassStatic:
		return 0.8 - 0.05*d
	case domain.ProxyClassDatacenter:
		return 0.6 - 0.1*d
	default:
		return 0.5 - 0.1*d
	}
}

// hourFit prefers consumer IPs during waking hours, when their traffic
// blends in.
func hourFit(class domain.ProxyClass, hour int) float64 {
	switch class {
	case domain.ProxyClassResidential, domain.ProxyClassMobile:
		if hour >= 8 && hour <= 23 {
			return 1.0
		}
		return 0.8
	default:
		return 0.9
	}
}

// siteDifficulty rates well-known hard targets from 1 (easy) to 5.
var siteDifficulty = []struct {
	marker     string
	difficulty int
}{
	{"cloudflare", 4},
	{"facebook", 4},
	{"linkedin", 4},
	{"instagram", 4},
	{"amazon", 3},
	{"google", 3},
	{"twitter", 3},
	{"ebay", 3},
	{"walmart", 3},
	{"bestbuy", 3},
}

const defaultDifficulty = 2

// SiteDifficulty estimates how aggressively a target defends itself.
func SiteDifficulty(target string) int {
	host := domain.HostOf(target)
	for _, s := range siteDifficulty {
		if strings.Contains(host, s.marker) {
			return s.difficulty
		}
	}
	return defaultDifficulty
}
