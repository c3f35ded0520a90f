package classifier

import (
	"regexp"

	"github.com/vietddude/egress/internal/core/domain"
)

// rule is the set of body phrases that point at one ban type.
type rule struct {
	banType  domain.BanType
	patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile("(?i)"+e))
	}
	return out
}

// defaultRules is scanned in order; on equal confidence the earlier rule wins.
var defaultRules = []rule{
	{domain.BanTypeRateLimit, compile(
		`rate.?limit`, `too.?many.?requests`, `429`, `slow.?down`, `throttl`, `exceeded.?quota`,
	)},
	{domain.BanTypeIPBan, compile(
		`blocked`, `banned`, `forbidden`, `403`, `access.?denied`, `unauthorized.?access`, `ip.?block`,
	)},
	{domain.BanTypeCaptcha, compile(
		`captcha`, `recaptcha`, `hcaptcha`, `challenge`, `verify.?you.?are.?human`, `robot.?check`, `security.?check`,
	)},
	{domain.BanTypeCloudflare, compile(
		`cloudflare`, `cf-ray`, `checking.?your.?browser`, `ddos.?protection`, `please.?wait`, `security.?check.?cloudflare`,
	)},
	{domain.BanTypeBehavioral, compile(
		`suspicious.?activity`, `unusual.?traffic`, `automated.?behavior`, `bot.?detected`, `non.?human`,
	)},
	{domain.BanTypeGeographic, compile(
		`not.?available.?in.?your.?(country|region)`, `geo.?block`, `location.?restricted`, `content.?not.?available`,
	)},
	{domain.BanTypeUserAgent, compile(
		`unsupported.?browser`, `update.?your.?browser`, `browser.?not.?supported`, `invalid.?user.?agent`,
	)},
}

// Page titles that mark a generic block page.
var blockTitles = map[string]bool{
	"access denied": true,
	"403 forbidden": true,
	"error":         true,
}

// Elements that mark a generic block page.
const blockSelector = "#challenge-form, .error-page"
