// Package classifier decides whether a fetch outcome means the caller was blocked.
package classifier

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/vietddude/egress/internal/core/domain"
)

const (
	headerRateLimitRemaining = "x-ratelimit-remaining"
	headerRetryAfter         = "retry-after"
	headerCloudflareRay      = "cf-ray"
	headerCloudflareCache    = "cf-cache-status"
)

const (
	confidencePerMatch   = 0.3
	maxPatternConfidence = 0.95
	cloudflareFloor      = 0.6
	fallbackConfidence   = 0.7
)

// Classifier maps fetch outcomes to a (BanType, confidence) pair.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	rules []rule
}

// New returns a classifier with the built-in phrase tables.
func New() *Classifier {
	return &Classifier{rules: defaultRules}
}

var std = New()

// Classify runs the default classifier.
func Classify(o domain.FetchOutcome) (domain.BanType, float64) {
	return std.Classify(o)
}

// Classify never fails: an outcome without any signal yields (None, 0).
func (c *Classifier) Classify(o domain.FetchOutcome) (domain.BanType, float64) {
	// Header short-circuits
	if v, ok := o.Header(headerRateLimitRemaining); ok && strings.TrimSpace(v) == "0" {
		return domain.BanTypeRateLimit, 0.99
	}
	if _, ok := o.Header(headerRetryAfter); ok {
		return domain.BanTypeRateLimit, 0.95
	}

	banType, confidence := statusPrior(o.StatusCode)
	if o.StatusCode == http.StatusTooManyRequests {
		return banType, confidence
	}

	if o.Body != "" {
		if bt, conf := c.scanBody(o.Body); conf > confidence {
			banType, confidence = bt, conf
		}
	}

	// Weak signal on its own: a floor, never an override.
	if behindCloudflare(o) {
		if banType == domain.BanTypeNone || banType == domain.BanTypeCloudflare {
			banType = domain.BanTypeCloudflare
			confidence = math.Max(confidence, cloudflareFloor)
		}
	}

	if banType == domain.BanTypeNone && looksLikeBlockPage(o.Body) {
		return domain.BanTypeAccessDenied, fallbackConfidence
	}

	return banType, confidence
}

func statusPrior(code int) (domain.BanType, float64) {
	switch {
	case code == http.StatusTooManyRequests:
		return domain.BanTypeRateLimit, 0.95
	case code == http.StatusForbidden:
		return domain.BanTypeIPBan, 0.8
	case code == http.StatusServiceUnavailable:
		return domain.BanTypeCloudflare, 0.7
	case code >= 400:
		return domain.BanTypeNone, 0.5
	default:
		return domain.BanTypeNone, 0
	}
}

func behindCloudflare(o domain.FetchOutcome) bool {
	if _, ok := o.Header(headerCloudflareRay); ok {
		return true
	}
	_, ok := o.Header(headerCloudflareCache)
	return ok
}

// scanBody returns the rule with the most matching patterns.
func (c *Classifier) scanBody(body string) (domain.BanType, float64) {
	best, bestConf := domain.BanTypeNone, 0.0
	for _, r := range c.rules {
		matches := 0
		for _, p := range r.patterns {
			if p.MatchString(body) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		conf := math.Min(float64(matches)*confidencePerMatch, maxPatternConfidence)
		if conf > bestConf {
			best, bestConf = r.banType, conf
		}
	}
	return best, bestConf
}

func looksLikeBlockPage(body string) bool {
	if !strings.Contains(body, "<") {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return false
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	if blockTitles[title] {
		return true
	}
	return doc.Find(blockSelector).Length() > 0
}

// RetryAfter parses a Retry-After header given either as delay seconds or as
// an HTTP date relative to now.
func RetryAfter(o domain.FetchOutcome, now time.Time) (time.Duration, bool) {
	v, ok := o.Header(headerRetryAfter)
	if !ok {
		return 0, false
	}
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}
