package reputation

import (
	"math"
	"time"

	"github.com/vietddude/egress/internal/core/domain"
)

// Trend describes how quickly bans are arriving.
type Trend string

const (
	TrendUnknown   Trend = "unknown"
	TrendWorsening Trend = "worsening"
	TrendStable    Trend = "stable"
	TrendImproving Trend = "improving"
)

const (
	recentBanWindow  = time.Hour
	worseningWithin  = 60 * time.Second
	improvingBeyond  = time.Hour
	rapidInterval    = 60.0  // seconds
	moderateInterval = 300.0 // seconds
)

// DomainHealth summarises one domain for operators.
type DomainHealth struct {
	Domain           string             `json:"domain"`
	Score            float64            `json:"reputation_score"`
	Requests         uint64             `json:"total_requests"`
	Successes        uint64             `json:"successful_requests"`
	SuccessRate      float64            `json:"success_rate"`
	TotalBans        uint64             `json:"total_bans"`
	RecentBans       int                `json:"recent_bans"`
	RecoveryAttempts uint64             `json:"recovery_attempts"`
	Trend            Trend              `json:"trend"`
	State            domain.DomainState `json:"state"`
	Status           string             `json:"status"` // healthy | unhealthy
}

// GetDomainHealth reports counters, recent bans and the ban trend.
func (s *Store) GetDomainHealth(name string) DomainHealth {
	now := s.now()
	h := DomainHealth{
		Domain: domain.HostOf(name),
		Score:  1.0,
		Trend:  TrendUnknown,
		State:  domain.DomainStateHealthy,
		Status: "healthy",
	}

	e, ok := s.lookup(name)
	if !ok {
		return h
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	h.Score = e.score
	h.Requests = e.requests
	h.Successes = e.successes
	h.SuccessRate = float64(e.successes) / float64(max(e.requests, 1))
	h.TotalBans = e.bans
	h.RecentBans = countSince(e.history, now.Add(-recentBanWindow))
	h.RecoveryAttempts = e.recoveryAttempts
	h.State = e.state
	h.Trend = trendOf(e.history)
	if !s.proceedLocked(e, now) {
		h.Status = "unhealthy"
	}
	return h
}

func trendOf(history []domain.BanEvent) Trend {
	if len(history) < 2 {
		return TrendUnknown
	}
	gap := history[len(history)-1].Timestamp.Sub(history[len(history)-2].Timestamp)
	switch {
	case gap < worseningWithin:
		return TrendWorsening
	case gap > improvingBeyond:
		return TrendImproving
	default:
		return TrendStable
	}
}

// PatternAnalysis describes recurring ban behaviour for a domain.
type PatternAnalysis struct {
	Domain          string                 `json:"domain"`
	BanTypes        map[domain.BanType]int `json:"ban_types"`
	PrimaryBanType  domain.BanType         `json:"primary_ban_type,omitempty"`
	AvgInterval     float64                `json:"avg_interval_seconds,omitempty"`
	Patterns        []string               `json:"patterns"`
	Recommendations []string               `json:"recommendations"`
}

// AnalyzePatterns looks at the ban history for rate and periodicity patterns.
func (s *Store) AnalyzePatterns(name string) PatternAnalysis {
	a := PatternAnalysis{
		Domain:          domain.HostOf(name),
		BanTypes:        map[domain.BanType]int{},
		Patterns:        []string{},
		Recommendations: []string{},
	}
	history := s.RecentBans(name, s.cfg.HistorySize)
	if len(history) == 0 {
		return a
	}

	for _, ev := range history {
		a.BanTypes[ev.Type]++
	}

	if len(history) >= 3 {
		intervals := make([]float64, 0, len(history)-1)
		for i := 1; i < len(history); i++ {
			intervals = append(intervals, history[i].Timestamp.Sub(history[i-1].Timestamp).Seconds())
		}
		mean, stddev := meanStddev(intervals)
		a.AvgInterval = mean

		switch {
		case mean < rapidInterval:
			a.Patterns = append(a.Patterns, "rapid ban rate, likely aggressive detection")
			a.Recommendations = append(a.Recommendations, "significantly slow down request rate")
		case mean < moderateInterval:
			a.Patterns = append(a.Patterns, "moderate ban rate, rate limiting likely")
			a.Recommendations = append(a.Recommendations, "implement request throttling")
		}

		if len(intervals) >= 5 && stddev < mean*0.2 {
			a.Patterns = append(a.Patterns, "periodic bans detected")
			a.Recommendations = append(a.Recommendations, "randomize request timing")
		}
	}

	// Ties resolve to the earliest type in declaration order.
	best := 0
	for _, bt := range domain.BanTypes {
		if n := a.BanTypes[bt]; n > best {
			best = n
			a.PrimaryBanType = bt
		}
	}
	if rec, ok := typeAdvice[a.PrimaryBanType]; ok {
		a.Recommendations = append(a.Recommendations, rec)
	}
	return a
}

var typeAdvice = map[domain.BanType]string{
	domain.BanTypeRateLimit:  "reduce requests per minute",
	domain.BanTypeIPBan:      "use proxy rotation",
	domain.BanTypeCaptcha:    "implement captcha solving",
	domain.BanTypeBehavioral: "improve human-like behavior simulation",
}

// meanStddev returns the population mean and standard deviation.
func meanStddev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
