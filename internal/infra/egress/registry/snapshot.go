package registry

import (
	"sort"
	"time"

	"github.com/vietddude/egress/internal/core/domain"
)

// ProxySnapshot is the serialisable form of one proxy.
type ProxySnapshot struct {
	Descriptor    domain.ProxyDescriptor `json:"descriptor"`
	Pooled        bool                   `json:"pooled"`
	SuccessCount  uint64                 `json:"success_count"`
	FailureCount  uint64                 `json:"failure_count"`
	ResponseTimes []time.Duration        `json:"response_times,omitempty"`
	LastUsedAt    time.Time              `json:"last_used_at"`
	BlockedSites  []string               `json:"blocked_sites,omitempty"`
}

// SiteSnapshot is the serialisable form of one (domain, proxy) entry.
type SiteSnapshot struct {
	Domain          string        `json:"domain"`
	ProxyID         string        `json:"proxy_id"`
	SuccessCount    uint64        `json:"success_count"`
	TotalCount      uint64        `json:"total_count"`
	TimedCount      uint64        `json:"timed_count"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	LastUsedAt      time.Time     `json:"last_used_at"`
}

// Snapshot copies all proxies and site entries in a stable order.
func (r *Registry) Snapshot() ([]ProxySnapshot, []SiteSnapshot) {
	var proxies []ProxySnapshot
	r.proxies.Range(func(_, v any) bool {
		ph := v.(*proxyHealth)
		ph.mu.RLock()
		ps := ProxySnapshot{
			Descriptor:    ph.desc,
			Pooled:        ph.pooled,
			SuccessCount:  ph.successCount,
			FailureCount:  ph.failureCount,
			ResponseTimes: append([]time.Duration(nil), ph.responseTimes...),
			LastUsedAt:    ph.lastUsedAt,
		}
		for s := range ph.blockedSites {
			ps.BlockedSites = append(ps.BlockedSites, s)
		}
		ph.mu.RUnlock()
		sort.Strings(ps.BlockedSites)
		proxies = append(proxies, ps)
		return true
	})
	sort.Slice(proxies, func(i, j int) bool { return proxies[i].Descriptor.ID < proxies[j].Descriptor.ID })

	var sites []SiteSnapshot
	r.sites.Range(func(k, v any) bool {
		key := k.(siteKey)
		se := v.(*siteEntry)
		se.mu.Lock()
		sites = append(sites, SiteSnapshot{
			Domain:          key.domain,
			ProxyID:         key.proxyID,
			SuccessCount:    se.successCount,
			TotalCount:      se.totalCount,
			TimedCount:      se.timedCount,
			AvgResponseTime: se.avgResponseTime,
			LastUsedAt:      se.lastUsedAt,
		})
		se.mu.Unlock()
		return true
	})
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].Domain != sites[j].Domain {
			return sites[i].Domain < sites[j].Domain
		}
		return sites[i].ProxyID < sites[j].ProxyID
	})
	return proxies, sites
}

// Restore loads proxies and site entries, replacing any with the same keys.
func (r *Registry) Restore(proxies []ProxySnapshot, sites []SiteSnapshot) {
	for _, ps := range proxies {
		if ps.Descriptor.ID == "" {
			continue
		}
		ph := newProxyHealth(ps.Descriptor, ps.Pooled, r.cfg.ResponseWindow)
		ph.successCount = ps.SuccessCount
		ph.failureCount = ps.FailureCount
		if total := ps.SuccessCount + ps.FailureCount; total > 0 {
			ph.successRatePct = float64(ps.SuccessCount) / float64(total) * 100
		}
		ph.responseTimes = append(ph.responseTimes, ps.ResponseTimes...)
		if len(ph.responseTimes) > ph.maxWindow {
			ph.responseTimes = ph.responseTimes[len(ph.responseTimes)-ph.maxWindow:]
		}
		ph.lastUsedAt = ps.LastUsedAt
		for _, s := range ps.BlockedSites {
			ph.blockedSites[s] = struct{}{}
		}
		r.proxies.Store(ps.Descriptor.ID, ph)
	}

	for _, ss := range sites {
		r.sites.Store(siteKey{domain: ss.Domain, proxyID: ss.ProxyID}, &siteEntry{
			successCount:    ss.SuccessCount,
			totalCount:      ss.TotalCount,
			timedCount:      ss.TimedCount,
			avgResponseTime: ss.AvgResponseTime,
			lastUsedAt:      ss.LastUsedAt,
		})
	}
}
