package domain

import (
	"fmt"
	"strings"
	"time"
)

// ProxyClass is the kind of egress path a proxy provides.
type ProxyClass string

const (
	ProxyClassResidential ProxyClass = "residential"
	ProxyClassDatacenter  ProxyClass = "datacenter"
	ProxyClassMobile      ProxyClass = "mobile"
	ProxyClassStatic      ProxyClass = "static"
	ProxyClassUnknown     ProxyClass = "unknown"
)

var ProxyClasses = []ProxyClass{
	ProxyClassResidential,
	ProxyClassDatacenter,
	ProxyClassMobile,
	ProxyClassStatic,
}

// ParseProxyClass returns ProxyClassUnknown for unrecognized names.
func ParseProxyClass(s string) (ProxyClass, error) {
	normalized := ProxyClass(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ProxyClasses {
		if normalized == known {
			return known, nil
		}
	}
	return ProxyClassUnknown, fmt.Errorf("unknown proxy class %q", s)
}

// ProxyDescriptor identifies one egress path. Supplied by the proxy pool and
// immutable once admitted.
type ProxyDescriptor struct {
	ID          string     `json:"id"          yaml:"id"`
	EndpointRef string     `json:"endpoint"    yaml:"endpoint"`
	Class       ProxyClass `json:"class"       yaml:"class"`
	Country     string     `json:"country"     yaml:"country"`
	CreatedAt   time.Time  `json:"created_at"  yaml:"-"`
}

// ProxyRequirements narrows proxy selection. Zero values mean "no constraint".
type ProxyRequirements struct {
	Class           ProxyClass
	MinSuccessRate  float64       // percent, 0-100
	MaxResponseTime time.Duration // average over the response window
	Country         string
	AvoidDatacenter bool
	ExcludeIDs      []string
}
