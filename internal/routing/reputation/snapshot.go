package reputation

import (
	"time"

	"github.com/vietddude/egress/internal/core/domain"
)

// DomainSnapshot is the serialisable form of one domain entry.
type DomainSnapshot struct {
	Domain           string                  `json:"domain"`
	Requests         uint64                  `json:"requests"`
	Successes        uint64                  `json:"successes"`
	Bans             uint64                  `json:"bans"`
	LastBanAt        *time.Time              `json:"last_ban_at,omitempty"`
	Score            float64                 `json:"score"`
	State            domain.DomainState      `json:"state"`
	History          []domain.BanEvent       `json:"history,omitempty"`
	RecoveryAttempts uint64                  `json:"recovery_attempts"`
	Recoveries       []domain.RecoveryRecord `json:"recoveries,omitempty"`
}

// Snapshot copies every domain entry, sorted by domain.
func (s *Store) Snapshot() []DomainSnapshot {
	names := s.Domains()
	out := make([]DomainSnapshot, 0, len(names))
	for _, name := range names {
		e, ok := s.lookup(name)
		if !ok {
			continue
		}
		e.mu.Lock()
		r := e.reputationLocked()
		snap := DomainSnapshot{
			Domain:           name,
			Requests:         r.Requests,
			Successes:        r.Successes,
			Bans:             r.Bans,
			LastBanAt:        r.LastBanAt,
			Score:            r.Score,
			State:            r.State,
			History:          append([]domain.BanEvent(nil), e.history...),
			RecoveryAttempts: e.recoveryAttempts,
			Recoveries:       append([]domain.RecoveryRecord(nil), e.recoveries...),
		}
		e.mu.Unlock()
		out = append(out, snap)
	}
	return out
}

// Restore replaces the entries named in the snapshot. Domains not present in
// the snapshot are left alone.
func (s *Store) Restore(snaps []DomainSnapshot) {
	for _, snap := range snaps {
		e := newEntry()
		e.requests = snap.Requests
		e.successes = snap.Successes
		e.bans = snap.Bans
		if snap.LastBanAt != nil {
			e.lastBanAt = *snap.LastBanAt
		}
		e.score = min(1.0, max(0.0, snap.Score))
		if snap.State != "" {
			e.state = snap.State
		}
		e.history = append([]domain.BanEvent(nil), snap.History...)
		if len(e.history) > s.cfg.HistorySize {
			e.history = e.history[len(e.history)-s.cfg.HistorySize:]
		}
		e.recoveryAttempts = snap.RecoveryAttempts
		e.recoveries = append([]domain.RecoveryRecord(nil), snap.Recoveries...)
		if len(e.recoveries) > s.cfg.RecoveryMemory {
			e.recoveries = e.recoveries[len(e.recoveries)-s.cfg.RecoveryMemory:]
		}
		s.replace(domain.HostOf(snap.Domain), e)
	}
}

// replace installs e under key, retiring any entry already there so writers
// holding it retry against e.
func (s *Store) replace(key string, e *entry) {
	for {
		v, loaded := s.entries.LoadOrStore(key, e)
		if !loaded {
			return
		}
		old := v.(*entry)
		old.mu.Lock()
		old.removed = true
		swapped := s.entries.CompareAndSwap(key, old, e)
		old.mu.Unlock()
		if swapped {
			return
		}
	}
}
