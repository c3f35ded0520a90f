package domain

import (
	"fmt"
	"strings"
	"time"
)

// BanType classifies why a response looks like the caller has been blocked.
type BanType string

const (
	BanTypeNone         BanType = "none"
	BanTypeRateLimit    BanType = "rate_limit"
	BanTypeIPBan        BanType = "ip_ban"
	BanTypeCaptcha      BanType = "captcha"
	BanTypeCloudflare   BanType = "cloudflare"
	BanTypeAccessDenied BanType = "access_denied"
	BanTypeBehavioral   BanType = "behavioral"
	BanTypeGeographic   BanType = "geographic"
	BanTypeUserAgent    BanType = "user_agent"
	BanTypeFingerprint  BanType = "fingerprint"
	BanTypeTemporary    BanType = "temporary"
	BanTypePermanent    BanType = "permanent"
)

// BanTypes lists every known ban type in declaration order.
var BanTypes = []BanType{
	BanTypeNone,
	BanTypeRateLimit,
	BanTypeIPBan,
	BanTypeCaptcha,
	BanTypeCloudflare,
	BanTypeAccessDenied,
	BanTypeBehavioral,
	BanTypeGeographic,
	BanTypeUserAgent,
	BanTypeFingerprint,
	BanTypeTemporary,
	BanTypePermanent,
}

// IsValid reports whether b is one of the declared ban types.
func (b BanType) IsValid() bool {
	for _, known := range BanTypes {
		if b == known {
			return true
		}
	}
	return false
}

// ParseBanType converts a name such as "rate_limit" or "RateLimit" into a BanType.
func ParseBanType(s string) (BanType, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for _, known := range BanTypes {
		if normalized == string(known) || normalized == strings.ReplaceAll(string(known), "_", "") {
			return known, nil
		}
	}
	return BanTypeNone, fmt.Errorf("unknown ban type %q", s)
}

// Metadata keys understood by the reputation store and recovery planner.
const (
	MetaRetryAfter = "retry_after" // seconds
	MetaStatusCode = "status_code"
	MetaProxyID    = "proxy_id"
	MetaConfidence = "confidence"
)

// BanEvent is one recorded ban against a domain. Immutable once recorded.
type BanEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      BanType        `json:"ban_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RetryAfter returns the retry_after metadata in seconds, if present and numeric.
// Malformed values are ignored.
func (e BanEvent) RetryAfter() (float64, bool) {
	raw, ok := e.Metadata[MetaRetryAfter]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, v >= 0
	case float32:
		return float64(v), v >= 0
	case int:
		return float64(v), v >= 0
	case int64:
		return float64(v), v >= 0
	case time.Duration:
		return v.Seconds(), v >= 0
	default:
		return 0, false
	}
}
