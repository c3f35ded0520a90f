// Package control wires classification, reputation, recovery and proxy
// selection into one feedback loop, and runs it as a service.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/egress/internal/core/domain"
	"github.com/vietddude/egress/internal/infra/egress/cost"
	"github.com/vietddude/egress/internal/infra/egress/registry"
	"github.com/vietddude/egress/internal/infra/egress/selector"
	"github.com/vietddude/egress/internal/infra/storage"
	"github.com/vietddude/egress/internal/routing/classifier"
	"github.com/vietddude/egress/internal/routing/metrics"
	"github.com/vietddude/egress/internal/routing/recovery"
	"github.com/vietddude/egress/internal/routing/reputation"
)

const (
	// peerReasonPrefix marks transitions applied on behalf of another instance.
	peerReasonPrefix = "peer: "

	announceTimeout = 2 * time.Second
)

// Announcer shares abandon and reset events with peer instances.
type Announcer interface {
	Announce(ctx context.Context, ev domain.DomainEvent) error
}

// ControllerConfig holds the settings of every routing component.
type ControllerConfig struct {
	Reputation    reputation.Config
	Recovery      recovery.Config
	Registry      registry.Config
	Selector      selector.Config
	UnitCosts     map[domain.ProxyClass]decimal.Decimal
	BanConfidence float64 // classifier confidence a ban must exceed
}

// DefaultControllerConfig returns the standard settings.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Reputation:    reputation.DefaultConfig(),
		Recovery:      recovery.DefaultConfig(),
		Registry:      registry.DefaultConfig(),
		Selector:      selector.DefaultConfig(),
		BanConfidence: 0.7,
	}
}

// Attempt is one finished fetch reported back by the caller.
type Attempt struct {
	Target       string
	ProxyID      string
	Outcome      domain.FetchOutcome
	ResponseTime time.Duration
	Err          error // transport failure, nil when a response arrived

	// Used to pick a replacement proxy when recovery asks for rotation.
	Requirements domain.ProxyRequirements
	Strategy     selector.Strategy
}

// Decision tells the caller how to continue after an attempt.
type Decision struct {
	BanType    domain.BanType
	Confidence float64
	Banned     bool
	Directive  *domain.Directive       // set when a ban triggered recovery
	NextProxy  *domain.ProxyDescriptor // set when recovery rotated the proxy
	Proceed    bool                    // whether the domain may be fetched again
}

// Controller is the closed loop: outcomes feed reputation and proxy health,
// bans trigger recovery, and selection reads the result.
type Controller struct {
	cfg ControllerConfig

	classifier *classifier.Classifier
	reputation *reputation.Store
	planner    *recovery.Planner
	registry   *registry.Registry
	selector   *selector.Selector
	costs      *cost.Accountant

	announcer Announcer
	now       func() time.Time
	log       *slog.Logger
}

// NewController builds every component from cfg.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.BanConfidence <= 0 {
		cfg.BanConfidence = DefaultControllerConfig().BanConfidence
	}

	store := reputation.NewStore(cfg.Reputation)
	repCfg := store.Config()
	cfg.Recovery.ReputationThreshold = repCfg.ReputationThreshold
	cfg.Recovery.BanThreshold = repCfg.BanThreshold

	reg := registry.NewRegistry(cfg.Registry)
	costs := cost.NewAccountant(cfg.UnitCosts)

	c := &Controller{
		cfg:        cfg,
		classifier: classifier.New(),
		reputation: store,
		planner:    recovery.NewPlanner(cfg.Recovery, store),
		registry:   reg,
		selector:   selector.New(cfg.Selector, reg, costs),
		costs:      costs,
		now:        time.Now,
		log:        slog.Default().With("component", "controller"),
	}
	c.selector.SetDifficulty(c.difficulty)
	store.SetTransitionHook(c.onTransition)
	return c
}

// SetAnnouncer enables peer announcements. Call before serving traffic.
func (c *Controller) SetAnnouncer(a Announcer) {
	c.announcer = a
}

// SetClock replaces the time source of every component. Used by tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
	c.reputation.SetClock(now)
	c.registry.SetClock(now)
	c.selector.SetClock(now)
}

// Reputation exposes the domain reputation store.
func (c *Controller) Reputation() *reputation.Store { return c.reputation }

// Planner exposes the recovery planner.
func (c *Controller) Planner() *recovery.Planner { return c.planner }

// Registry exposes the proxy health registry.
func (c *Controller) Registry() *registry.Registry { return c.registry }

// Selector exposes the proxy selector.
func (c *Controller) Selector() *selector.Selector { return c.selector }

// Costs exposes the cost ledger.
func (c *Controller) Costs() *cost.Accountant { return c.costs }

// difficulty raises the static site rating for domains that banned us
// recently: one level per two bans in the last hour, capped at 5.
func (c *Controller) difficulty(target string) int {
	base := selector.SiteDifficulty(target)
	recent := c.reputation.BansSince(target, c.now().Add(-time.Hour))
	return min(max(base, 1+recent/2), 5)
}

// AdmitProxies adds proxies to the pool.
func (c *Controller) AdmitProxies(descs ...domain.ProxyDescriptor) int {
	return c.registry.Admit(descs...)
}

// PoolSize returns the number of selectable proxies.
func (c *Controller) PoolSize() int {
	return len(c.registry.Pool())
}

// RemoveProxy drops a proxy and its statistics.
func (c *Controller) RemoveProxy(id string) bool {
	return c.registry.Remove(id)
}

// ShouldProceed reports whether target may be fetched now.
func (c *Controller) ShouldProceed(target string) bool {
	return c.reputation.ShouldProceed(target)
}

// SelectProxy picks a proxy for target. An empty strategy uses the default.
func (c *Controller) SelectProxy(target string, req domain.ProxyRequirements, strategy selector.Strategy) (domain.ProxyDescriptor, bool) {
	return c.selector.Select(target, req, strategy)
}

// HandleOutcome classifies a finished attempt and updates every component.
// A ban above the confidence threshold is recorded and recovered from; the
// returned error is non-nil only when recovery was interrupted by ctx.
func (c *Controller) HandleOutcome(ctx context.Context, a Attempt) (Decision, error) {
	name := domain.HostOf(a.Target)
	banType, confidence := c.classifier.Classify(a.Outcome)
	d := Decision{BanType: banType, Confidence: confidence}

	if banType == domain.BanTypeNone || confidence <= c.cfg.BanConfidence {
		success := a.Err == nil && a.Outcome.StatusCode < 400
		c.reputation.UpdateReputation(name, success)
		c.reportProxy(a, success, failureText(a))
		d.Proceed = c.reputation.ShouldProceed(name)
		return d, nil
	}

	d.Banned = true
	metrics.BansDetected.WithLabelValues(string(banType)).Inc()
	c.log.Warn("Ban detected",
		"domain", name,
		"ban_type", banType,
		"confidence", confidence,
		"status", a.Outcome.StatusCode,
		"proxy", a.ProxyID,
	)

	c.reputation.RecordBan(name, banType, c.banMetadata(a, confidence))
	c.reportProxy(a, false, "blocked: "+string(banType))

	// A recovered ban is retried by the caller, whose final outcome is
	// reported separately. Only a failed recovery ends the request here.
	directive, err := c.planner.Recover(ctx, name, banType)
	d.Directive = &directive
	result := "success"
	if !directive.Success {
		result = "failure"
		c.reputation.UpdateReputation(name, false)
	}
	metrics.RecoveriesTotal.WithLabelValues(string(directive.Strategy), result).Inc()
	if directive.Strategy == domain.StrategyWait {
		metrics.RecoveryWait.Observe(directive.WaitTime)
	}
	if err != nil && !errors.Is(err, recovery.ErrAbandoned) {
		return d, err
	}

	if directive.NewConfig.RotateProxy {
		req := a.Requirements
		if a.ProxyID != "" {
			req.ExcludeIDs = append(append([]string(nil), req.ExcludeIDs...), a.ProxyID)
		}
		if p, ok := c.selector.Select(a.Target, req, a.Strategy); ok {
			d.NextProxy = &p
		}
	}

	d.Proceed = c.reputation.ShouldProceed(name)
	return d, nil
}

func (c *Controller) banMetadata(a Attempt, confidence float64) map[string]any {
	meta := map[string]any{domain.MetaConfidence: confidence}
	if a.Outcome.StatusCode != 0 {
		meta[domain.MetaStatusCode] = a.Outcome.StatusCode
	}
	if wait, ok := classifier.RetryAfter(a.Outcome, c.now()); ok {
		meta[domain.MetaRetryAfter] = wait.Seconds()
	}
	if a.ProxyID != "" {
		meta[domain.MetaProxyID] = a.ProxyID
	}
	return meta
}

func failureText(a Attempt) string {
	switch {
	case a.Err != nil:
		return a.Err.Error()
	case a.Outcome.StatusCode >= 400:
		return fmt.Sprintf("http status %d", a.Outcome.StatusCode)
	default:
		return ""
	}
}

func (c *Controller) reportProxy(a Attempt, success bool, errText string) {
	if a.ProxyID == "" {
		return
	}
	c.registry.ReportOutcome(a.ProxyID, a.Target, success, a.ResponseTime, errText)

	class := domain.ProxyClassUnknown
	if h, ok := c.registry.Get(a.ProxyID); ok {
		class = h.Descriptor.Class
	}
	result := "success"
	if !success {
		result = "failure"
	}
	metrics.ProxyOutcomes.WithLabelValues(string(class), result).Inc()
	if a.ResponseTime > 0 {
		metrics.ProxyResponseTime.WithLabelValues(string(class)).Observe(a.ResponseTime.Seconds())
	}
}

func (c *Controller) onTransition(name string, t domain.DomainTransition) {
	metrics.DomainTransitions.WithLabelValues(string(t.To)).Inc()
	c.log.Info("Domain state changed", "domain", name, "transition", t.Describe())

	if t.To != domain.DomainStateAbandoned || strings.HasPrefix(t.Reason, peerReasonPrefix) {
		return
	}
	c.announce(domain.DomainEvent{
		Type:   domain.DomainEventAbandoned,
		Domain: name,
		Reason: t.Reason,
		At:     t.Timestamp,
	})
}

func (c *Controller) announce(ev domain.DomainEvent) {
	if c.announcer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()
	if err := c.announcer.Announce(ctx, ev); err != nil {
		c.log.Warn("Failed to announce domain event", "domain", ev.Domain, "event", ev.Type, "error", err)
	}
}

// HandlePeerEvent applies an event announced by another instance without
// announcing it again.
func (c *Controller) HandlePeerEvent(ev domain.DomainEvent) {
	switch ev.Type {
	case domain.DomainEventAbandoned:
		c.reputation.MarkAbandoned(ev.Domain, peerReasonPrefix+ev.Reason)
	case domain.DomainEventReset:
		c.reputation.ResetDomain(ev.Domain)
	default:
		c.log.Warn("Ignoring unknown peer event", "event", ev.Type, "domain", ev.Domain)
	}
}

// ResetDomain clears all history for a domain here and on peers.
func (c *Controller) ResetDomain(name string) bool {
	ok := c.reputation.ResetDomain(name)
	c.announce(domain.DomainEvent{
		Type:   domain.DomainEventReset,
		Domain: domain.HostOf(name),
		At:     c.now(),
	})
	return ok
}

// PruneFailing removes chronically failing proxies.
func (c *Controller) PruneFailing(threshold float64) []string {
	removed := c.registry.PruneFailing(threshold)
	metrics.ProxiesPruned.Add(float64(len(removed)))
	return removed
}

// DomainHealth reports the health of one domain.
func (c *Controller) DomainHealth(name string) reputation.DomainHealth {
	return c.reputation.GetDomainHealth(name)
}

// AnalyzePatterns reports ban patterns for one domain.
func (c *Controller) AnalyzePatterns(name string) reputation.PatternAnalysis {
	return c.reputation.AnalyzePatterns(name)
}

// Statistics is the operator summary of proxies, domains and spend.
type Statistics struct {
	registry.Stats
	TotalCost        decimal.Decimal                       `json:"total_cost"`
	CostBreakdown    map[domain.ProxyClass]cost.ClassUsage `json:"cost_breakdown"`
	TrackedDomains   int                                   `json:"tracked_domains"`
	AbandonedDomains []string                              `json:"abandoned_domains"`
}

// Statistics builds the operator summary.
func (c *Controller) Statistics() Statistics {
	s := Statistics{
		Stats:            c.registry.Stats(),
		TotalCost:        c.costs.TotalCost(),
		CostBreakdown:    c.costs.Breakdown(),
		AbandonedDomains: []string{},
	}
	for _, name := range c.reputation.Domains() {
		s.TrackedDomains++
		if r, ok := c.reputation.Get(name); ok && r.State == domain.DomainStateAbandoned {
			s.AbandonedDomains = append(s.AbandonedDomains, name)
		}
	}
	return s
}

// Snapshot captures the full routing state.
func (c *Controller) Snapshot() *storage.Snapshot {
	snap := storage.NewSnapshot(c.now())
	snap.Domains = c.reputation.Snapshot()
	snap.Proxies, snap.Sites = c.registry.Snapshot()
	snap.Costs = c.costs.Snapshot()
	return snap
}

// Restore loads a snapshot taken by Snapshot.
func (c *Controller) Restore(snap *storage.Snapshot) {
	c.reputation.Restore(snap.Domains)
	c.registry.Restore(snap.Proxies, snap.Sites)
	c.costs.Restore(snap.Costs)
}
