package domain

import (
	"testing"
	"time"
)

func TestParseBanType(t *testing.T) {
	tests := []struct {
		in      string
		want    BanType
		wantErr bool
	}{
		{"rate_limit", BanTypeRateLimit, false},
		{"RateLimit", BanTypeRateLimit, false},
		{" IP_BAN ", BanTypeIPBan, false},
		{"cloudflare", BanTypeCloudflare, false},
		{"ratelimited", BanTypeNone, true},
	}
	for _, tt := range tests {
		got, err := ParseBanType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBanType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseBanType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseRecoveryStrategy(t *testing.T) {
	got, err := ParseRecoveryStrategy("RotateProxy")
	if err != nil || got != StrategyRotateProxy {
		t.Errorf("Expected rotate_proxy, got %s (%v)", got, err)
	}
	if _, err := ParseRecoveryStrategy("teleport"); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

func TestDomainTransitions(t *testing.T) {
	tests := []struct {
		from, to DomainState
		want     bool
	}{
		{DomainStateHealthy, DomainStateDegraded, true},
		{DomainStateDegraded, DomainStateHealthy, true},
		{DomainStateDegraded, DomainStateAbandoned, true},
		{DomainStateHealthy, DomainStateAbandoned, false},
		{DomainStateAbandoned, DomainStateHealthy, false},
		{DomainStateAbandoned, DomainStateDegraded, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDomainTransitionDescribe(t *testing.T) {
	tr := DomainTransition{From: DomainStateDegraded, To: DomainStateAbandoned, Reason: "ban threshold"}
	if got, want := tr.Describe(), "degraded -> abandoned (ban threshold)"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	tr.Reason = ""
	if got, want := tr.Describe(), "degraded -> abandoned"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestBanEventRetryAfter(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		want float64
		ok   bool
	}{
		{"absent", nil, 0, false},
		{"float", map[string]any{MetaRetryAfter: 30.0}, 30, true},
		{"int", map[string]any{MetaRetryAfter: 12}, 12, true},
		{"duration", map[string]any{MetaRetryAfter: 2 * time.Second}, 2, true},
		{"string ignored", map[string]any{MetaRetryAfter: "soon"}, 0, false},
		{"negative ignored", map[string]any{MetaRetryAfter: -1.0}, -1, false},
	}
	for _, tt := range tests {
		got, ok := BanEvent{Metadata: tt.meta}.RetryAfter()
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("%s: RetryAfter() = (%v, %v), want (%v, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHostOf(t *testing.T) {
	tests := map[string]string{
		"https://www.Example.co.uk/path?q=1": "www.example.co.uk",
		"example.com":                        "example.com",
		"example.com:8443":                   "example.com",
		"  ":                                 "",
	}
	for in, want := range tests {
		if got := HostOf(in); got != want {
			t.Errorf("HostOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetchOutcomeHeader(t *testing.T) {
	o := FetchOutcome{Headers: map[string]string{"Retry-After": "30"}}
	if v, ok := o.Header("retry-after"); !ok || v != "30" {
		t.Errorf("Expected case-insensitive header lookup, got %q %v", v, ok)
	}
	if _, ok := o.Header("cf-ray"); ok {
		t.Error("Expected missing header")
	}
}
