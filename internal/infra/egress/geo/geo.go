// Package geo infers where a target site expects its visitors to come from.
package geo

import (
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/vietddude/egress/internal/core/domain"
)

// DefaultCountry is used when the target's suffix says nothing about location.
const DefaultCountry = "US"

// ccTLDs that do not map to their ISO 3166 code.
var tldToCountry = map[string]string{
	"uk": "GB",
}

// Country-code suffixes commonly sold as generic names.
var genericCCTLDs = map[string]bool{
	"ai": true,
	"co": true,
	"fm": true,
	"gg": true,
	"io": true,
	"ly": true,
	"me": true,
	"tv": true,
	"ws": true,
}

// CountryForTarget returns the ISO country code implied by the target's
// public suffix, e.g. "shop.example.co.uk" -> "GB".
func CountryForTarget(target string) string {
	host := domain.HostOf(target)
	if host == "" {
		return DefaultCountry
	}
	suffix, _ := publicsuffix.PublicSuffix(host)
	labels := strings.Split(suffix, ".")
	tld := labels[len(labels)-1]

	if c, ok := tldToCountry[tld]; ok {
		return c
	}
	if len(tld) != 2 || genericCCTLDs[tld] {
		return DefaultCountry
	}
	return strings.ToUpper(tld)
}
