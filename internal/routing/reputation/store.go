// Package reputation tracks how safe it is to keep contacting each target domain.
package reputation

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/egress/internal/core/domain"
)

// Config holds reputation thresholds.
type Config struct {
	ReputationThreshold float64       `yaml:"reputation_threshold"` // below this score a domain is abandoned
	BanThreshold        uint64        `yaml:"ban_threshold"`        // more bans than this abandons a domain
	Cooldown            time.Duration `yaml:"cooldown"`             // pause after each ban
	DegradedScore       float64       `yaml:"degraded_score"`       // below this score a domain is degraded
	HistorySize         int           `yaml:"history_size"`         // ban events kept per domain
	RecoveryMemory      int           `yaml:"recovery_memory"`      // successful recoveries kept per domain
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		ReputationThreshold: 0.3,
		BanThreshold:        10,
		Cooldown:            60 * time.Second,
		DegradedScore:       0.8,
		HistorySize:         100,
		RecoveryMemory:      20,
	}
}

const (
	banPenalty     = 0.9
	failurePenalty = 0.95
	successReward  = 1.01
)

// TransitionHook observes domain state changes. It is called without any
// store lock held.
type TransitionHook func(name string, t domain.DomainTransition)

// Store holds per-domain reputation. Entries are created lazily and each one
// is guarded by its own mutex, so unrelated domains never contend.
type Store struct {
	cfg     Config
	entries sync.Map // string -> *entry
	now     func() time.Time
	hook    TransitionHook
}

type entry struct {
	mu               sync.Mutex
	requests         uint64
	successes        uint64
	bans             uint64
	lastBanAt        time.Time
	score            float64
	state            domain.DomainState
	history          []domain.BanEvent
	recoveryAttempts uint64
	recoveries       []domain.RecoveryRecord
	removed          bool // set under mu when ResetDomain drops the entry
}

func newEntry() *entry {
	return &entry{score: 1.0, state: domain.DomainStateHealthy}
}

// NewStore creates a reputation store. Zero config fields fall back to defaults.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.ReputationThreshold <= 0 {
		cfg.ReputationThreshold = def.ReputationThreshold
	}
	if cfg.BanThreshold == 0 {
		cfg.BanThreshold = def.BanThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.DegradedScore <= 0 {
		cfg.DegradedScore = def.DegradedScore
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.RecoveryMemory <= 0 {
		cfg.RecoveryMemory = def.RecoveryMemory
	}
	return &Store{cfg: cfg, now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetTransitionHook registers a callback for domain state changes.
func (s *Store) SetTransitionHook(hook TransitionHook) {
	s.hook = hook
}

// Config returns the thresholds in use.
func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) lookup(name string) (*entry, bool) {
	v, ok := s.entries.Load(domain.HostOf(name))
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// acquire returns the live entry for a domain, creating it if needed, with
// its mutex held. An entry dropped by ResetDomain is never returned.
func (s *Store) acquire(name string) *entry {
	key := domain.HostOf(name)
	for {
		v, ok := s.entries.Load(key)
		if !ok {
			v, _ = s.entries.LoadOrStore(key, newEntry())
		}
		e := v.(*entry)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// ShouldProceed is the guard callers poll before each attempt.
func (s *Store) ShouldProceed(name string) bool {
	e, ok := s.lookup(name)
	if !ok {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.proceedLocked(e, s.now())
}

func (s *Store) proceedLocked(e *entry, now time.Time) bool {
	if e.state == domain.DomainStateAbandoned {
		return false
	}
	if e.score < s.cfg.ReputationThreshold || e.bans > s.cfg.BanThreshold {
		return false
	}
	if !e.lastBanAt.IsZero() && now.Sub(e.lastBanAt) < s.cfg.Cooldown {
		return false
	}
	return true
}

// RecordBan appends a ban event and decays the domain score.
func (s *Store) RecordBan(name string, banType domain.BanType, metadata map[string]any) domain.BanEvent {
	now := s.now()
	event := domain.BanEvent{
		ID:        uuid.NewString(),
		Timestamp: now,
		Type:      banType,
		Metadata:  copyMetadata(metadata),
	}

	e := s.acquire(name)
	e.history = append(e.history, event)
	if len(e.history) > s.cfg.HistorySize {
		e.history = e.history[len(e.history)-s.cfg.HistorySize:]
	}
	e.bans++
	e.lastBanAt = now
	e.score *= banPenalty
	transitions := s.evaluateLocked(e, now, "ban recorded: "+string(banType))
	e.mu.Unlock()

	s.emit(name, transitions)
	return event
}

// UpdateReputation records the final result of one request.
func (s *Store) UpdateReputation(name string, success bool) {
	now := s.now()
	e := s.acquire(name)
	e.requests++
	if success {
		e.successes++
		e.score = min(1.0, e.score*successReward)
	} else {
		e.score *= failurePenalty
	}
	reason := "request failed"
	if success {
		reason = "request succeeded"
	}
	transitions := s.evaluateLocked(e, now, reason)
	e.mu.Unlock()

	s.emit(name, transitions)
}

// MarkAbandoned moves a domain to the terminal abandoned state.
func (s *Store) MarkAbandoned(name, reason string) {
	now := s.now()
	e := s.acquire(name)
	var transitions []domain.DomainTransition
	if e.state == domain.DomainStateHealthy {
		transitions = append(transitions, s.moveLocked(e, domain.DomainStateDegraded, reason, now))
	}
	if e.state == domain.DomainStateDegraded {
		transitions = append(transitions, s.moveLocked(e, domain.DomainStateAbandoned, reason, now))
	}
	e.mu.Unlock()

	s.emit(name, transitions)
}

// ResetDomain forgets everything about a domain. This is the only way out of
// the abandoned state.
func (s *Store) ResetDomain(name string) bool {
	key := domain.HostOf(name)
	v, ok := s.entries.Load(key)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	existed := !e.removed
	e.removed = true
	s.entries.CompareAndDelete(key, e)
	e.mu.Unlock()

	if existed {
		slog.Info("Domain reputation reset", "domain", key)
	}
	return existed
}

// evaluateLocked derives the state implied by the counters and walks the state
// machine towards it.
func (s *Store) evaluateLocked(e *entry, now time.Time, reason string) []domain.DomainTransition {
	if e.state == domain.DomainStateAbandoned {
		return nil
	}

	target := domain.DomainStateHealthy
	switch {
	case e.score < s.cfg.ReputationThreshold || e.bans > s.cfg.BanThreshold:
		target = domain.DomainStateAbandoned
	case e.score < s.cfg.DegradedScore:
		target = domain.DomainStateDegraded
	case !e.lastBanAt.IsZero() && now.Sub(e.lastBanAt) < s.cfg.Cooldown:
		target = domain.DomainStateDegraded
	}

	var out []domain.DomainTransition
	for e.state != target {
		next := target
		if !domain.CanTransition(e.state, next) {
			// Healthy cannot jump straight to abandoned.
			next = domain.DomainStateDegraded
		}
		out = append(out, s.moveLocked(e, next, reason, now))
	}
	return out
}

func (s *Store) moveLocked(e *entry, to domain.DomainState, reason string, now time.Time) domain.DomainTransition {
	t := domain.DomainTransition{From: e.state, To: to, Reason: reason, Timestamp: now}
	e.state = to
	return t
}

func (s *Store) emit(name string, transitions []domain.DomainTransition) {
	for _, t := range transitions {
		slog.Debug("Domain state changed", "domain", domain.HostOf(name), "from", t.From, "to", t.To, "reason", t.Reason)
		if s.hook != nil {
			s.hook(domain.HostOf(name), t)
		}
	}
}

// NextRecoveryAttempt increments the recovery counter and returns the number
// of attempts made before this one.
func (s *Store) NextRecoveryAttempt(name string) int {
	e := s.acquire(name)
	defer e.mu.Unlock()
	prev := e.recoveryAttempts
	e.recoveryAttempts++
	return int(prev)
}

// RememberRecovery stores a successful recovery, evicting the oldest when full.
func (s *Store) RememberRecovery(rec domain.RecoveryRecord) {
	e := s.acquire(rec.Domain)
	defer e.mu.Unlock()
	e.recoveries = append(e.recoveries, rec)
	if len(e.recoveries) > s.cfg.RecoveryMemory {
		e.recoveries = e.recoveries[len(e.recoveries)-s.cfg.RecoveryMemory:]
	}
}

// SuccessfulRecovery returns the most recent strategy that worked for this
// (domain, ban type) pair.
func (s *Store) SuccessfulRecovery(name string, banType domain.BanType) (domain.RecoveryStrategy, bool) {
	e, ok := s.lookup(name)
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.recoveries) - 1; i >= 0; i-- {
		if e.recoveries[i].BanType == banType {
			return e.recoveries[i].Strategy, true
		}
	}
	return "", false
}

// RecentBans returns up to n of the most recent ban events, newest last.
func (s *Store) RecentBans(name string, n int) []domain.BanEvent {
	e, ok := s.lookup(name)
	if !ok || n <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	start := max(0, len(e.history)-n)
	out := make([]domain.BanEvent, len(e.history)-start)
	copy(out, e.history[start:])
	return out
}

// BansSince counts recorded ban events at or after since.
func (s *Store) BansSince(name string, since time.Time) int {
	e, ok := s.lookup(name)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return countSince(e.history, since)
}

func countSince(history []domain.BanEvent, since time.Time) int {
	n := 0
	for _, ev := range history {
		if !ev.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

// Reputation is a read-only copy of a domain's counters.
type Reputation struct {
	Requests  uint64             `json:"requests"`
	Successes uint64             `json:"successes"`
	Bans      uint64             `json:"bans"`
	LastBanAt *time.Time         `json:"last_ban_at,omitempty"`
	Score     float64            `json:"score"`
	State     domain.DomainState `json:"state"`
}

// Get returns the current counters for a domain. Unknown domains report a
// fresh reputation and false.
func (s *Store) Get(name string) (Reputation, bool) {
	e, ok := s.lookup(name)
	if !ok {
		return Reputation{Score: 1.0, State: domain.DomainStateHealthy}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reputationLocked(), true
}

func (e *entry) reputationLocked() Reputation {
	r := Reputation{
		Requests:  e.requests,
		Successes: e.successes,
		Bans:      e.bans,
		Score:     e.score,
		State:     e.state,
	}
	if !e.lastBanAt.IsZero() {
		t := e.lastBanAt
		r.LastBanAt = &t
	}
	return r
}

// Domains lists every tracked domain in sorted order.
func (s *Store) Domains() []string {
	var out []string
	s.entries.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

func copyMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
