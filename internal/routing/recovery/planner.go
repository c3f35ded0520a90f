// Package recovery picks and carries out the corrective action for a detected ban.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/egress/internal/core/domain"
	"github.com/vietddude/egress/internal/routing/reputation"
)

// ErrAbandoned is returned when the chosen action is to give up on a domain.
var ErrAbandoned = errors.New("domain abandoned")

// Ledger is the slice of the reputation store the planner needs.
type Ledger interface {
	Get(name string) (reputation.Reputation, bool)
	SuccessfulRecovery(name string, banType domain.BanType) (domain.RecoveryStrategy, bool)
	RememberRecovery(rec domain.RecoveryRecord)
	NextRecoveryAttempt(name string) int
	RecentBans(name string, n int) []domain.BanEvent
	MarkAbandoned(name, reason string)
}

// Config holds planner settings.
type Config struct {
	BaseWait            time.Duration `yaml:"base_wait"`
	MaxWait             time.Duration `yaml:"max_wait"`
	RetryAfterLookback  int           `yaml:"retry_after_lookback"` // recent bans checked for retry_after
	SlowDownMultiplier  float64       `yaml:"slow_down_multiplier"`
	ReputationVisits    int           `yaml:"reputation_visits"`
	ReputationThreshold float64       `yaml:"-"`
	BanThreshold        uint64        `yaml:"-"`
}

// DefaultConfig returns the standard planner settings.
func DefaultConfig() Config {
	rep := reputation.DefaultConfig()
	return Config{
		BaseWait:            5 * time.Second,
		MaxWait:             300 * time.Second,
		RetryAfterLookback:  5,
		SlowDownMultiplier:  3.0,
		ReputationVisits:    10,
		ReputationThreshold: rep.ReputationThreshold,
		BanThreshold:        rep.BanThreshold,
	}
}

// preferences lists strategies per ban type, most preferred first.
var preferences = map[domain.BanType][]domain.RecoveryStrategy{
	domain.BanTypeRateLimit:    {domain.StrategyWait, domain.StrategySlowDown, domain.StrategyRotateProxy},
	domain.BanTypeIPBan:        {domain.StrategyRotateProxy, domain.StrategyWait},
	domain.BanTypeCaptcha:      {domain.StrategySolveCaptcha, domain.StrategyRotateProxy},
	domain.BanTypeCloudflare:   {domain.StrategyWait, domain.StrategySolveCaptcha, domain.StrategyChangeFingerprint},
	domain.BanTypeAccessDenied: {domain.StrategyRotateProxy, domain.StrategyChangeFingerprint},
	domain.BanTypeBehavioral:   {domain.StrategyChangePattern, domain.StrategyBuildReputation},
	domain.BanTypeGeographic:   {domain.StrategyRotateProxy},
	domain.BanTypeUserAgent:    {domain.StrategyChangeFingerprint},
	domain.BanTypeFingerprint:  {domain.StrategyChangeFingerprint, domain.StrategyRotateProxy},
	domain.BanTypeTemporary:    {domain.StrategyWait},
	domain.BanTypePermanent:    {domain.StrategyAbandon},
}

var fallbackPreference = []domain.RecoveryStrategy{domain.StrategyWait}

// Preferences returns the ordered strategies for a ban type.
func Preferences(banType domain.BanType) []domain.RecoveryStrategy {
	if p, ok := preferences[banType]; ok {
		return append([]domain.RecoveryStrategy(nil), p...)
	}
	return append([]domain.RecoveryStrategy(nil), fallbackPreference...)
}

// Planner chooses recovery strategies and executes them.
type Planner struct {
	cfg     Config
	ledger  Ledger
	backoff Backoff
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// NewPlanner creates a planner backed by the given ledger.
func NewPlanner(cfg Config, ledger Ledger) *Planner {
	def := DefaultConfig()
	if cfg.BaseWait <= 0 {
		cfg.BaseWait = def.BaseWait
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.RetryAfterLookback <= 0 {
		cfg.RetryAfterLookback = def.RetryAfterLookback
	}
	if cfg.SlowDownMultiplier <= 0 {
		cfg.SlowDownMultiplier = def.SlowDownMultiplier
	}
	if cfg.ReputationVisits <= 0 {
		cfg.ReputationVisits = def.ReputationVisits
	}
	if cfg.ReputationThreshold <= 0 {
		cfg.ReputationThreshold = def.ReputationThreshold
	}
	if cfg.BanThreshold == 0 {
		cfg.BanThreshold = def.BanThreshold
	}

	backoff := DefaultBackoff()
	backoff.Base = cfg.BaseWait
	backoff.Max = cfg.MaxWait

	return &Planner{
		cfg:     cfg,
		ledger:  ledger,
		backoff: backoff,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// SetJitter replaces the jitter source. Used by tests.
func (p *Planner) SetJitter(jitter func() float64) {
	p.backoff.Jitter = jitter
}

// SetSleeper replaces the blocking wait. Used by tests.
func (p *Planner) SetSleeper(sleep func(ctx context.Context, d time.Duration) error) {
	p.sleep = sleep
}

// GetRecoveryStrategy picks a strategy: abandon past the thresholds, else what
// worked before for this ban type, else the first preference.
func (p *Planner) GetRecoveryStrategy(name string, banType domain.BanType) domain.RecoveryStrategy {
	rep, _ := p.ledger.Get(name)
	if rep.State == domain.DomainStateAbandoned ||
		rep.Score < p.cfg.ReputationThreshold ||
		rep.Bans > p.cfg.BanThreshold {
		return domain.StrategyAbandon
	}

	if strategy, ok := p.ledger.SuccessfulRecovery(name, banType); ok {
		return strategy
	}

	return Preferences(banType)[0]
}

// WaitFor returns the backoff the Wait strategy would use for the given attempt.
func (p *Planner) WaitFor(name string, attempt int) time.Duration {
	return p.backoff.DelayWithHints(attempt, p.ledger.RecentBans(name, p.cfg.RetryAfterLookback))
}

// ExecuteRecovery carries out a strategy and returns the directive for the
// fetch layer. Only Wait blocks, and it stops early when ctx is done.
func (p *Planner) ExecuteRecovery(
	ctx context.Context,
	name string,
	banType domain.BanType,
	strategy domain.RecoveryStrategy,
) (domain.Directive, error) {
	attempt := p.ledger.NextRecoveryAttempt(name)
	d := domain.Directive{Strategy: strategy, Success: true}

	slog.Info("Executing recovery",
		"domain", name,
		"ban_type", banType,
		"strategy", strategy,
		"attempt", attempt,
	)

	switch strategy {
	case domain.StrategyWait:
		wait := p.WaitFor(name, attempt)
		d.WaitTime = wait.Seconds()
		if err := p.sleep(ctx, wait); err != nil {
			d.Success = false
			d.ActionTaken = "wait interrupted"
			return d, fmt.Errorf("recovery wait for %s: %w", name, err)
		}
		d.ActionTaken = fmt.Sprintf("waited %.1f seconds", d.WaitTime)

	case domain.StrategyRotateProxy:
		d.ActionTaken = "requested proxy rotation"
		d.NewConfig.RotateProxy = true

	case domain.StrategySolveCaptcha:
		d.ActionTaken = "requested captcha solving"
		d.NewConfig.SolveCaptcha = true

	case domain.StrategyChangeFingerprint:
		d.ActionTaken = "requested new browser fingerprint"
		d.NewConfig.NewFingerprint = true
		d.NewConfig.NewUserAgent = true

	case domain.StrategySlowDown:
		d.ActionTaken = fmt.Sprintf("requested %.1fx slower request rate", p.cfg.SlowDownMultiplier)
		d.NewConfig.DelayMultiplier = p.cfg.SlowDownMultiplier

	case domain.StrategyChangePattern:
		d.ActionTaken = "requested randomized request pattern"
		d.NewConfig.RandomizePattern = true
		d.NewConfig.AddReferrer = true

	case domain.StrategyBuildReputation:
		d.ActionTaken = fmt.Sprintf("requested %d benign visits before retry", p.cfg.ReputationVisits)
		d.NewConfig.ReputationMode = true
		d.NewConfig.VisitCount = p.cfg.ReputationVisits

	case domain.StrategyAbandon:
		d.Success = false
		d.ActionTaken = "abandoned domain"
		p.ledger.MarkAbandoned(name, "recovery abandoned after "+string(banType))
		slog.Warn("Domain abandoned", "domain", name, "ban_type", banType)
		return d, ErrAbandoned

	default:
		d.Success = false
		d.ActionTaken = "unknown strategy"
		return d, fmt.Errorf("unknown recovery strategy %q", strategy)
	}

	p.ledger.RememberRecovery(domain.RecoveryRecord{
		Domain:    domain.HostOf(name),
		BanType:   banType,
		Strategy:  strategy,
		Timestamp: p.now(),
	})
	return d, nil
}

// Recover plans and executes in one step.
func (p *Planner) Recover(ctx context.Context, name string, banType domain.BanType) (domain.Directive, error) {
	return p.ExecuteRecovery(ctx, name, banType, p.GetRecoveryStrategy(name, banType))
}
