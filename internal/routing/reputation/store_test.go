package reputation

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/egress/internal/core/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*Store, *fakeClock) {
	clock := newFakeClock()
	s := NewStore(DefaultConfig())
	s.SetClock(clock.Now)
	return s, clock
}

func TestRecordBanDecreasesScore(t *testing.T) {
	s, clock := newTestStore()

	for i := 0; i < 15; i++ {
		before, _ := s.Get("example.com")
		s.RecordBan("example.com", domain.BanTypeRateLimit, nil)
		after, _ := s.Get("example.com")
		if after.Score >= before.Score {
			t.Fatalf("Ban %d: expected score to drop below %f, got %f", i, before.Score, after.Score)
		}
		clock.Advance(time.Minute)
	}
}

func TestShouldProceed(t *testing.T) {
	s, clock := newTestStore()

	if !s.ShouldProceed("fresh.com") {
		t.Error("Expected unknown domain to proceed")
	}

	s.RecordBan("example.com", domain.BanTypeIPBan, nil)
	if s.ShouldProceed("example.com") {
		t.Error("Expected cooldown to block right after a ban")
	}

	clock.Advance(61 * time.Second)
	if !s.ShouldProceed("example.com") {
		t.Error("Expected domain to proceed after cooldown")
	}
}

func TestElevenBansStopsDomain(t *testing.T) {
	s, clock := newTestStore()

	for i := 0; i < 11; i++ {
		s.RecordBan("example.com", domain.BanTypeRateLimit, nil)
		clock.Advance(2 * time.Hour)
	}
	if s.ShouldProceed("example.com") {
		t.Error("Expected domain with 11 bans to be refused")
	}
	rep, _ := s.Get("example.com")
	if rep.State != domain.DomainStateAbandoned {
		t.Errorf("Expected abandoned state, got %s", rep.State)
	}
}

func TestLowScoreStopsDomain(t *testing.T) {
	s, _ := newTestStore()

	// 0.95^24 < 0.3
	for i := 0; i < 24; i++ {
		s.UpdateReputation("slow.com", false)
	}
	rep, _ := s.Get("slow.com")
	if rep.Score >= 0.3 {
		t.Fatalf("Expected score below 0.3, got %f", rep.Score)
	}
	if s.ShouldProceed("slow.com") {
		t.Error("Expected low-score domain to be refused")
	}
}

func TestUpdateReputation(t *testing.T) {
	s, _ := newTestStore()

	s.UpdateReputation("example.com", true)
	rep, _ := s.Get("example.com")
	if rep.Score != 1.0 {
		t.Errorf("Expected score capped at 1.0, got %f", rep.Score)
	}
	if rep.Requests != 1 || rep.Successes != 1 {
		t.Errorf("Expected 1/1 requests, got %d/%d", rep.Successes, rep.Requests)
	}

	s.UpdateReputation("example.com", false)
	rep, _ = s.Get("example.com")
	if rep.Score != 0.95 {
		t.Errorf("Expected score 0.95, got %f", rep.Score)
	}
	if rep.Requests != 2 || rep.Successes != 1 {
		t.Errorf("Expected 1/2 requests, got %d/%d", rep.Successes, rep.Requests)
	}
}

func TestAbandonedIsTerminalUntilReset(t *testing.T) {
	s, clock := newTestStore()
	var transitions []domain.DomainTransition
	s.SetTransitionHook(func(_ string, tr domain.DomainTransition) {
		transitions = append(transitions, tr)
	})

	s.MarkAbandoned("example.com", "operator")
	if len(transitions) != 2 {
		t.Fatalf("Expected healthy->degraded->abandoned, got %d transitions", len(transitions))
	}
	if transitions[0].To != domain.DomainStateDegraded || transitions[1].To != domain.DomainStateAbandoned {
		t.Errorf("Unexpected transitions: %+v", transitions)
	}

	clock.Advance(24 * time.Hour)
	for i := 0; i < 50; i++ {
		s.UpdateReputation("example.com", true)
	}
	if s.ShouldProceed("example.com") {
		t.Error("Expected abandoned domain to stay refused after successes")
	}

	if !s.ResetDomain("example.com") {
		t.Error("Expected reset to report an existing domain")
	}
	if !s.ShouldProceed("example.com") {
		t.Error("Expected domain to proceed after reset")
	}
	rep, _ := s.Get("example.com")
	if rep.State != domain.DomainStateHealthy || rep.Score != 1.0 {
		t.Errorf("Expected fresh reputation after reset, got %+v", rep)
	}
}

func TestResetDomainRetiresEntry(t *testing.T) {
	s, _ := newTestStore()
	s.RecordBan("example.com", domain.BanTypeCaptcha, nil)

	old, ok := s.lookup("example.com")
	if !ok {
		t.Fatal("Expected an entry for example.com")
	}
	if !s.ResetDomain("example.com") {
		t.Fatal("Expected reset to report an existing domain")
	}
	if s.ResetDomain("example.com") {
		t.Error("Expected a second reset to find nothing")
	}

	old.mu.Lock()
	removed := old.removed
	old.mu.Unlock()
	if !removed {
		t.Error("Expected the reset entry to be retired")
	}

	// A writer that loaded the old entry before the reset lands on a fresh one.
	e := s.acquire("example.com")
	fresh := e != old && e.bans == 0
	e.mu.Unlock()
	if !fresh {
		t.Error("Expected acquire to skip the retired entry")
	}

	s.RecordBan("example.com", domain.BanTypeCaptcha, nil)
	if rep, _ := s.Get("example.com"); rep.Bans != 1 {
		t.Errorf("Expected 1 ban after reset, got %d", rep.Bans)
	}
}

func TestResetDomainConcurrentWithBans(t *testing.T) {
	s, _ := newTestStore()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.RecordBan("busy.com", domain.BanTypeRateLimit, nil)
				s.UpdateReputation("busy.com", false)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.ResetDomain("busy.com")
		}
	}()
	wg.Wait()

	s.ResetDomain("busy.com")
	s.RecordBan("busy.com", domain.BanTypeRateLimit, nil)
	rep, _ := s.Get("busy.com")
	if rep.Bans != 1 || rep.Requests != 0 {
		t.Errorf("Expected a clean entry with 1 ban, got %+v", rep)
	}
}

func TestDegradedRecoversToHealthy(t *testing.T) {
	s, clock := newTestStore()

	s.RecordBan("example.com", domain.BanTypeCaptcha, nil)
	rep, _ := s.Get("example.com")
	if rep.State != domain.DomainStateDegraded {
		t.Fatalf("Expected degraded after ban, got %s", rep.State)
	}

	clock.Advance(2 * time.Minute)
	s.UpdateReputation("example.com", true)
	rep, _ = s.Get("example.com")
	if rep.State != domain.DomainStateHealthy {
		t.Errorf("Expected healthy once cooldown passed, got %s", rep.State)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 5
	s := NewStore(cfg)

	for i := 0; i < 8; i++ {
		s.RecordBan("example.com", domain.BanTypeRateLimit, map[string]any{"seq": i})
	}
	history := s.RecentBans("example.com", 100)
	if len(history) != 5 {
		t.Fatalf("Expected 5 events, got %d", len(history))
	}
	if history[0].Metadata["seq"] != 3 {
		t.Errorf("Expected oldest kept event seq 3, got %v", history[0].Metadata["seq"])
	}
}

func TestRecoveryMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecoveryMemory = 2
	s := NewStore(cfg)

	if _, ok := s.SuccessfulRecovery("example.com", domain.BanTypeRateLimit); ok {
		t.Error("Expected no remembered recovery")
	}

	s.RememberRecovery(domain.RecoveryRecord{Domain: "example.com", BanType: domain.BanTypeRateLimit, Strategy: domain.StrategyWait})
	s.RememberRecovery(domain.RecoveryRecord{Domain: "example.com", BanType: domain.BanTypeRateLimit, Strategy: domain.StrategySlowDown})
	s.RememberRecovery(domain.RecoveryRecord{Domain: "example.com", BanType: domain.BanTypeCaptcha, Strategy: domain.StrategySolveCaptcha})

	got, ok := s.SuccessfulRecovery("example.com", domain.BanTypeRateLimit)
	if !ok || got != domain.StrategySlowDown {
		t.Errorf("Expected most recent slow_down, got %s (%v)", got, ok)
	}

	s.RememberRecovery(domain.RecoveryRecord{Domain: "example.com", BanType: domain.BanTypeCaptcha, Strategy: domain.StrategyRotateProxy})
	if _, ok := s.SuccessfulRecovery("example.com", domain.BanTypeRateLimit); ok {
		t.Error("Expected rate limit recovery to be evicted")
	}
}

func TestNextRecoveryAttempt(t *testing.T) {
	s, _ := newTestStore()
	for want := 0; want < 3; want++ {
		if got := s.NextRecoveryAttempt("example.com"); got != want {
			t.Errorf("Expected attempt %d, got %d", want, got)
		}
	}
}

func TestDomainKeysAreNormalized(t *testing.T) {
	s, _ := newTestStore()
	s.RecordBan("https://Example.com/login", domain.BanTypeIPBan, nil)
	rep, ok := s.Get("example.com")
	if !ok || rep.Bans != 1 {
		t.Errorf("Expected ban recorded under example.com, got %+v (%v)", rep, ok)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, clock := newTestStore()
	s.RecordBan("a.com", domain.BanTypeRateLimit, map[string]any{domain.MetaRetryAfter: 30.0})
	clock.Advance(10 * time.Second)
	s.UpdateReputation("a.com", false)
	for i := 0; i < 11; i++ {
		s.RecordBan("b.com", domain.BanTypeIPBan, nil)
	}
	s.UpdateReputation("c.com", true)
	s.RememberRecovery(domain.RecoveryRecord{Domain: "a.com", BanType: domain.BanTypeRateLimit, Strategy: domain.StrategyWait})

	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var snaps []DomainSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	restored := NewStore(DefaultConfig())
	restored.SetClock(clock.Now)
	restored.Restore(snaps)

	for _, name := range []string{"a.com", "b.com", "c.com", "d.com"} {
		for _, step := range []time.Duration{0, 45 * time.Second, time.Hour} {
			clock.Advance(step)
			if got, want := restored.ShouldProceed(name), s.ShouldProceed(name); got != want {
				t.Errorf("%s after +%v: restored ShouldProceed=%v, original=%v", name, step, got, want)
			}
		}
	}

	if strat, ok := restored.SuccessfulRecovery("a.com", domain.BanTypeRateLimit); !ok || strat != domain.StrategyWait {
		t.Errorf("Expected remembered wait recovery, got %s (%v)", strat, ok)
	}
	bans := restored.RecentBans("a.com", 5)
	if len(bans) != 1 {
		t.Fatalf("Expected 1 ban event, got %d", len(bans))
	}
	if ra, ok := bans[0].RetryAfter(); !ok || ra != 30 {
		t.Errorf("Expected retry_after 30, got %v (%v)", ra, ok)
	}
}

func TestConcurrentDomains(t *testing.T) {
	s := NewStore(DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := []string{"a.com", "b.com"}[i%2]
			for j := 0; j < 100; j++ {
				s.UpdateReputation(name, j%2 == 0)
				s.ShouldProceed(name)
			}
		}(i)
	}
	wg.Wait()

	for _, name := range []string{"a.com", "b.com"} {
		rep, _ := s.Get(name)
		if rep.Requests != 400 || rep.Successes != 200 {
			t.Errorf("%s: expected 200/400, got %d/%d", name, rep.Successes, rep.Requests)
		}
	}
}
