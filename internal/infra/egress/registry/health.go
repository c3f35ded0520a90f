package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/egress/internal/core/domain"
)

// blockPatterns mark a failure as a block by the target site.
var blockPatterns = []string{
	"blocked",
	"banned",
	"forbidden",
	"access denied",
	"captcha",
	"ip ban",
}

// DetectBlock checks if an error message says the proxy was blocked.
func DetectBlock(message string) bool {
	lowerMsg := strings.ToLower(message)
	for _, pattern := range blockPatterns {
		if strings.Contains(lowerMsg, pattern) {
			return true
		}
	}
	return false
}

// Health is a read-only copy of one proxy's statistics.
type Health struct {
	Descriptor      domain.ProxyDescriptor
	Pooled          bool
	SuccessCount    uint64
	FailureCount    uint64
	SuccessRatePct  float64
	AvgResponseTime time.Duration
	ResponseSamples int
	LastUsedAt      time.Time
	BlockedSites    []string
}

// TotalRequests is SuccessCount + FailureCount.
func (h Health) TotalRequests() uint64 {
	return h.SuccessCount + h.FailureCount
}

// IsBlockedOn reports whether the proxy was blocked by the given domain.
func (h Health) IsBlockedOn(name string) bool {
	for _, s := range h.BlockedSites {
		if s == name {
			return true
		}
	}
	return false
}

// proxyHealth tracks one proxy. Guarded by its own lock.
type proxyHealth struct {
	mu sync.RWMutex

	desc   domain.ProxyDescriptor
	pooled bool

	successCount   uint64
	failureCount   uint64
	successRatePct float64

	// Response time tracking
	responseTimes []time.Duration
	maxWindow     int

	lastUsedAt   time.Time
	blockedSites map[string]struct{}
}

func newProxyHealth(desc domain.ProxyDescriptor, pooled bool, window int) *proxyHealth {
	return &proxyHealth{
		desc:           desc,
		pooled:         pooled,
		successRatePct: 100,
		responseTimes:  make([]time.Duration, 0, window),
		maxWindow:      window,
		blockedSites:   make(map[string]struct{}),
	}
}

func (ph *proxyHealth) record(success bool, site string, responseTime time.Duration, errText string) {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	if success {
		ph.successCount++
	} else {
		ph.failureCount++
		if site != "" && errText != "" && DetectBlock(errText) {
			ph.blockedSites[site] = struct{}{}
		}
	}

	if responseTime > 0 {
		ph.responseTimes = append(ph.responseTimes, responseTime)
		if len(ph.responseTimes) > ph.maxWindow {
			ph.responseTimes = ph.responseTimes[1:]
		}
	}

	total := ph.successCount + ph.failureCount
	ph.successRatePct = float64(ph.successCount) / float64(total) * 100
}

func (ph *proxyHealth) markUsed(at time.Time) {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	ph.lastUsedAt = at
}

func (ph *proxyHealth) snapshot() Health {
	ph.mu.RLock()
	defer ph.mu.RUnlock()

	h := Health{
		Descriptor:      ph.desc,
		Pooled:          ph.pooled,
		SuccessCount:    ph.successCount,
		FailureCount:    ph.failureCount,
		SuccessRatePct:  ph.successRatePct,
		ResponseSamples: len(ph.responseTimes),
		LastUsedAt:      ph.lastUsedAt,
	}
	if len(ph.responseTimes) > 0 {
		var total time.Duration
		for _, rt := range ph.responseTimes {
			total += rt
		}
		h.AvgResponseTime = total / time.Duration(len(ph.responseTimes))
	}
	if len(ph.blockedSites) > 0 {
		h.BlockedSites = make([]string, 0, len(ph.blockedSites))
		for s := range ph.blockedSites {
			h.BlockedSites = append(h.BlockedSites, s)
		}
		sort.Strings(h.BlockedSites)
	}
	return h
}

// SitePerformance is a read-only copy of one (domain, proxy) entry.
type SitePerformance struct {
	Domain          string
	ProxyID         string
	SuccessCount    uint64
	TotalCount      uint64
	SuccessRate     float64 // 0-1
	AvgResponseTime time.Duration
	LastUsedAt      time.Time
}

type siteKey struct {
	domain  string
	proxyID string
}

type siteEntry struct {
	mu              sync.Mutex
	successCount    uint64
	totalCount      uint64
	timedCount      uint64
	avgResponseTime time.Duration
	lastUsedAt      time.Time
}

func (se *siteEntry) record(success bool, responseTime time.Duration, at time.Time) {
	se.mu.Lock()
	defer se.mu.Unlock()

	se.totalCount++
	if success {
		se.successCount++
	}
	if responseTime > 0 {
		se.timedCount++
		// Incremental mean
		se.avgResponseTime += (responseTime - se.avgResponseTime) / time.Duration(se.timedCount)
	}
	se.lastUsedAt = at
}

func (se *siteEntry) snapshot(k siteKey) SitePerformance {
	se.mu.Lock()
	defer se.mu.Unlock()

	sp := SitePerformance{
		Domain:          k.domain,
		ProxyID:         k.proxyID,
		SuccessCount:    se.successCount,
		TotalCount:      se.totalCount,
		AvgResponseTime: se.avgResponseTime,
		LastUsedAt:      se.lastUsedAt,
	}
	if se.totalCount > 0 {
		sp.SuccessRate = float64(se.successCount) / float64(se.totalCount)
	}
	return sp
}
