// Package registry keeps per-proxy and per-(domain, proxy) health statistics.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/egress/internal/core/domain"
)

// Config holds registry settings.
type Config struct {
	ResponseWindow   int    `yaml:"response_window"`    // response times kept per proxy
	PruneMinRequests uint64 `yaml:"prune_min_requests"` // sample size before a proxy can be pruned
}

// DefaultConfig returns the standard registry settings.
func DefaultConfig() Config {
	return Config{
		ResponseWindow:   100,
		PruneMinRequests: 20,
	}
}

// Registry tracks proxy health. Every proxy and every (domain, proxy) pair has
// its own lock; the maps themselves are lock-free for readers.
type Registry struct {
	cfg     Config
	proxies sync.Map // string -> *proxyHealth
	sites   sync.Map // siteKey -> *siteEntry
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.ResponseWindow <= 0 {
		cfg.ResponseWindow = def.ResponseWindow
	}
	if cfg.PruneMinRequests == 0 {
		cfg.PruneMinRequests = def.PruneMinRequests
	}
	return &Registry{cfg: cfg, now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Admit adds proxies to the selectable pool. A proxy that is already known
// keeps its original descriptor and statistics.
func (r *Registry) Admit(descs ...domain.ProxyDescriptor) int {
	added := 0
	for _, d := range descs {
		if d.ID == "" {
			continue
		}
		if d.Class == "" {
			d.Class = domain.ProxyClassUnknown
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = r.now()
		}
		v, loaded := r.proxies.LoadOrStore(d.ID, newProxyHealth(d, true, r.cfg.ResponseWindow))
		if !loaded {
			added++
			continue
		}
		ph := v.(*proxyHealth)
		ph.mu.Lock()
		if !ph.pooled {
			ph.pooled = true
			if ph.desc.Class == domain.ProxyClassUnknown {
				ph.desc = d
			}
		}
		ph.mu.Unlock()
	}
	return added
}

// Remove drops a proxy and its site statistics.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.proxies.LoadAndDelete(id); !ok {
		return false
	}
	r.sites.Range(func(k, _ any) bool {
		if k.(siteKey).proxyID == id {
			r.sites.Delete(k)
		}
		return true
	})
	return true
}

func (r *Registry) entry(id string) *proxyHealth {
	if v, ok := r.proxies.Load(id); ok {
		return v.(*proxyHealth)
	}
	// Outcomes for proxies outside the pool are still counted.
	v, _ := r.proxies.LoadOrStore(id, newProxyHealth(
		domain.ProxyDescriptor{ID: id, Class: domain.ProxyClassUnknown, CreatedAt: r.now()},
		false,
		r.cfg.ResponseWindow,
	))
	return v.(*proxyHealth)
}

// ReportOutcome records the final result of one request through a proxy.
// A non-positive responseTime means none was measured. This never fails.
func (r *Registry) ReportOutcome(proxyID, target string, success bool, responseTime time.Duration, errText string) {
	if proxyID == "" {
		return
	}
	site := domain.HostOf(target)
	now := r.now()

	r.entry(proxyID).record(success, site, responseTime, errText)

	if site == "" {
		return
	}
	key := siteKey{domain: site, proxyID: proxyID}
	v, ok := r.sites.Load(key)
	if !ok {
		v, _ = r.sites.LoadOrStore(key, &siteEntry{})
	}
	v.(*siteEntry).record(success, responseTime, now)
}

// MarkUsed stamps the proxy's last use.
func (r *Registry) MarkUsed(proxyID string) {
	if v, ok := r.proxies.Load(proxyID); ok {
		v.(*proxyHealth).markUsed(r.now())
	}
}

// Get returns the health of one proxy.
func (r *Registry) Get(id string) (Health, bool) {
	v, ok := r.proxies.Load(id)
	if !ok {
		return Health{}, false
	}
	return v.(*proxyHealth).snapshot(), true
}

// Site returns the statistics of a proxy against one domain.
func (r *Registry) Site(target, proxyID string) (SitePerformance, bool) {
	key := siteKey{domain: domain.HostOf(target), proxyID: proxyID}
	v, ok := r.sites.Load(key)
	if !ok {
		return SitePerformance{}, false
	}
	return v.(*siteEntry).snapshot(key), true
}

// Pool returns every admitted proxy sorted by ID.
func (r *Registry) Pool() []Health {
	return r.collect(true)
}

// All returns every tracked proxy, admitted or not, sorted by ID.
func (r *Registry) All() []Health {
	return r.collect(false)
}

func (r *Registry) collect(pooledOnly bool) []Health {
	var out []Health
	r.proxies.Range(func(_, v any) bool {
		h := v.(*proxyHealth).snapshot()
		if !pooledOnly || h.Pooled {
			out = append(out, h)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Descriptor.ID < out[j].Descriptor.ID
	})
	return out
}

// PruneFailing removes proxies with at least PruneMinRequests requests whose
// success rate is below threshold (a fraction, e.g. 0.3). It returns the
// removed IDs.
func (r *Registry) PruneFailing(threshold float64) []string {
	var removed []string
	for _, h := range r.All() {
		if h.TotalRequests() < r.cfg.PruneMinRequests {
			continue
		}
		if h.SuccessRatePct >= threshold*100 {
			continue
		}
		if r.Remove(h.Descriptor.ID) {
			removed = append(removed, h.Descriptor.ID)
			slog.Info("Pruned failing proxy",
				"proxy", h.Descriptor.ID,
				"success_rate", h.SuccessRatePct,
				"requests", h.TotalRequests(),
			)
		}
	}
	return removed
}
