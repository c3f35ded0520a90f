package domain

import (
	"net/url"
	"strings"
)

// FetchOutcome is what the external fetch executor observed. A zero StatusCode
// means no status was available.
type FetchOutcome struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// Header looks a header up case-insensitively.
func (o FetchOutcome) Header(name string) (string, bool) {
	if v, ok := o.Headers[name]; ok {
		return v, true
	}
	for k, v := range o.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// HostOf reduces a target URL or bare host to the lowercase hostname used as
// the domain key.
func HostOf(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	raw := target
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(target)
	}
	return strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
}
