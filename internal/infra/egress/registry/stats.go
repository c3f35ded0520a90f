package registry

import (
	"sort"

	"github.com/vietddude/egress/internal/core/domain"
)

const (
	rankingSize        = 5
	rankingMinRequests = 10 // proxies need more than this to be ranked
)

// Ranked is one row of a ranking table.
type Ranked struct {
	ID              string            `json:"id"`
	Class           domain.ProxyClass `json:"class"`
	Country         string            `json:"country,omitempty"`
	SuccessRatePct  float64           `json:"success_rate"`
	TotalRequests   uint64            `json:"total_requests"`
	AvgResponseSecs float64           `json:"avg_response_time"`
}

// Stats summarises the whole registry.
type Stats struct {
	TotalProxies           int                       `json:"total_proxies"`
	ProxiesByClass         map[domain.ProxyClass]int `json:"proxies_by_type"`
	TotalRequests          uint64                    `json:"total_requests"`
	OverallSuccessRate     float64                   `json:"overall_success_rate"`
	TopPerforming          []Ranked                  `json:"top_performing"`
	WorstPerforming        []Ranked                  `json:"worst_performing"`
	MostUsed               []Ranked                  `json:"most_used"`
	GeographicDistribution map[string]int            `json:"geographic_distribution"`
}

// Stats builds the operator summary.
func (r *Registry) Stats() Stats {
	all := r.All()
	s := Stats{
		ProxiesByClass:         map[domain.ProxyClass]int{},
		TopPerforming:          []Ranked{},
		WorstPerforming:        []Ranked{},
		MostUsed:               []Ranked{},
		GeographicDistribution: map[string]int{},
	}

	var successes uint64
	ranked := make([]Ranked, 0, len(all))
	eligible := make([]Ranked, 0, len(all))
	for _, h := range all {
		// Pool composition counts admitted proxies only.
		if h.Pooled {
			s.TotalProxies++
			s.ProxiesByClass[h.Descriptor.Class]++
			country := h.Descriptor.Country
			if country == "" {
				country = "unknown"
			}
			s.GeographicDistribution[country]++
		}
		s.TotalRequests += h.TotalRequests()
		successes += h.SuccessCount

		row := Ranked{
			ID:              h.Descriptor.ID,
			Class:           h.Descriptor.Class,
			Country:         h.Descriptor.Country,
			SuccessRatePct:  h.SuccessRatePct,
			TotalRequests:   h.TotalRequests(),
			AvgResponseSecs: h.AvgResponseTime.Seconds(),
		}
		ranked = append(ranked, row)
		if row.TotalRequests > rankingMinRequests {
			eligible = append(eligible, row)
		}
	}
	if s.TotalRequests > 0 {
		s.OverallSuccessRate = float64(successes) / float64(s.TotalRequests) * 100
	}

	// all is sorted by ID, so stable sorts break ties by ID.
	top := append([]Ranked(nil), eligible...)
	sort.SliceStable(top, func(i, j int) bool { return top[i].SuccessRatePct > top[j].SuccessRatePct })
	s.TopPerforming = append(s.TopPerforming, top[:min(rankingSize, len(top))]...)

	worst := append([]Ranked(nil), eligible...)
	sort.SliceStable(worst, func(i, j int) bool { return worst[i].SuccessRatePct < worst[j].SuccessRatePct })
	s.WorstPerforming = append(s.WorstPerforming, worst[:min(rankingSize, len(worst))]...)

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].TotalRequests > ranked[j].TotalRequests })
	s.MostUsed = append(s.MostUsed, ranked[:min(rankingSize, len(ranked))]...)

	return s
}
