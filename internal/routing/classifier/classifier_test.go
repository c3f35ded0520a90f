package classifier

import (
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/vietddude/egress/internal/core/domain"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		outcome  domain.FetchOutcome
		wantType domain.BanType
		wantConf float64
	}{
		{
			name:     "no signal",
			outcome:  domain.FetchOutcome{},
			wantType: domain.BanTypeNone,
			wantConf: 0,
		},
		{
			name:     "429 ignores body",
			outcome:  domain.FetchOutcome{StatusCode: 429, Body: "captcha recaptcha hcaptcha challenge"},
			wantType: domain.BanTypeRateLimit,
			wantConf: 0.95,
		},
		{
			name:     "403 keeps ip ban prior over weak body match",
			outcome:  domain.FetchOutcome{StatusCode: 403, Body: "Access Forbidden"},
			wantType: domain.BanTypeIPBan,
			wantConf: 0.8,
		},
		{
			name:     "retry-after with empty body",
			outcome:  domain.FetchOutcome{Headers: map[string]string{"retry-after": "30"}},
			wantType: domain.BanTypeRateLimit,
			wantConf: 0.95,
		},
		{
			name:     "zero remaining rate limit",
			outcome:  domain.FetchOutcome{StatusCode: 200, Headers: map[string]string{"X-RateLimit-Remaining": "0"}},
			wantType: domain.BanTypeRateLimit,
			wantConf: 0.99,
		},
		{
			name:     "captcha phrases",
			outcome:  domain.FetchOutcome{StatusCode: 200, Body: "Please complete the CAPTCHA to verify you are human. Powered by reCAPTCHA"},
			wantType: domain.BanTypeCaptcha,
			wantConf: 0.9,
		},
		{
			name:     "503 overridden by stronger cloudflare body",
			outcome:  domain.FetchOutcome{StatusCode: 503, Body: "Checking your browser before accessing. DDoS protection by Cloudflare"},
			wantType: domain.BanTypeCloudflare,
			wantConf: 0.9,
		},
		{
			name:     "503 without body",
			outcome:  domain.FetchOutcome{StatusCode: 503},
			wantType: domain.BanTypeCloudflare,
			wantConf: 0.7,
		},
		{
			name:     "other 4xx baseline",
			outcome:  domain.FetchOutcome{StatusCode: 404, Body: "page missing"},
			wantType: domain.BanTypeNone,
			wantConf: 0.5,
		},
		{
			name:     "cf-ray corroborates error status",
			outcome:  domain.FetchOutcome{StatusCode: 404, Headers: map[string]string{"CF-RAY": "7d1f"}},
			wantType: domain.BanTypeCloudflare,
			wantConf: 0.6,
		},
		{
			name:     "cf-ray on healthy page",
			outcome:  domain.FetchOutcome{StatusCode: 200, Headers: map[string]string{"cf-ray": "7d1f"}},
			wantType: domain.BanTypeCloudflare,
			wantConf: 0.6,
		},
		{
			name:     "cf-cache-status header",
			outcome:  domain.FetchOutcome{StatusCode: 200, Headers: map[string]string{"CF-Cache-Status": "HIT"}, Body: "<html><body>Catalogue</body></html>"},
			wantType: domain.BanTypeCloudflare,
			wantConf: 0.6,
		},
		{
			name:     "geo block phrase",
			outcome:  domain.FetchOutcome{StatusCode: 200, Body: "This video is not available in your country"},
			wantType: domain.BanTypeGeographic,
			wantConf: 0.3,
		},
		{
			name:     "error title fallback",
			outcome:  domain.FetchOutcome{StatusCode: 200, Body: "<html><head><title>Error</title></head><body>oops</body></html>"},
			wantType: domain.BanTypeAccessDenied,
			wantConf: 0.7,
		},
		{
			name:     "error page class fallback",
			outcome:  domain.FetchOutcome{Body: `<html><body><div class="error-page">Something went wrong</div></body></html>`},
			wantType: domain.BanTypeAccessDenied,
			wantConf: 0.7,
		},
		{
			name:     "ordinary page",
			outcome:  domain.FetchOutcome{StatusCode: 200, Body: "<html><head><title>Products</title></head><body>Welcome</body></html>"},
			wantType: domain.BanTypeNone,
			wantConf: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotConf := Classify(tt.outcome)
			if gotType != tt.wantType {
				t.Errorf("Expected ban type %s, got %s", tt.wantType, gotType)
			}
			if !approx(gotConf, tt.wantConf) {
				t.Errorf("Expected confidence %.2f, got %.4f", tt.wantConf, gotConf)
			}
		})
	}
}

func TestClassifyPatternConfidenceCapped(t *testing.T) {
	body := "rate limit exceeded, too many requests (429), please slow down, you are throttled, exceeded quota"
	gotType, gotConf := Classify(domain.FetchOutcome{Body: body})
	if gotType != domain.BanTypeRateLimit {
		t.Fatalf("Expected rate_limit, got %s", gotType)
	}
	if gotConf != maxPatternConfidence {
		t.Errorf("Expected confidence capped at %.2f, got %.4f", maxPatternConfidence, gotConf)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	o := domain.FetchOutcome{StatusCode: 403, Body: "Suspicious activity: bot detected, unusual traffic"}
	firstType, firstConf := Classify(o)
	for i := 0; i < 20; i++ {
		bt, conf := Classify(o)
		if bt != firstType || conf != firstConf {
			t.Fatalf("Run %d returned (%s, %f), want (%s, %f)", i, bt, conf, firstType, firstConf)
		}
	}
	if firstType != domain.BanTypeBehavioral {
		t.Errorf("Expected behavioral, got %s", firstType)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	d, ok := RetryAfter(domain.FetchOutcome{Headers: map[string]string{"Retry-After": "30"}}, now)
	if !ok || d != 30*time.Second {
		t.Errorf("Expected 30s, got %v (%v)", d, ok)
	}

	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	d, ok = RetryAfter(domain.FetchOutcome{Headers: map[string]string{"retry-after": date}}, now)
	if !ok || d != 90*time.Second {
		t.Errorf("Expected 90s, got %v (%v)", d, ok)
	}

	if _, ok := RetryAfter(domain.FetchOutcome{Headers: map[string]string{"retry-after": "later"}}, now); ok {
		t.Error("Expected malformed header to be ignored")
	}
	if _, ok := RetryAfter(domain.FetchOutcome{}, now); ok {
		t.Error("Expected missing header to be ignored")
	}
}
