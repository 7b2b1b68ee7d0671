package eventlog

import (
	"net/url"
	"strings"
)

// Filter decides which requests count toward idleness. Requests must have one
// of ResourceTypes and, with SameHostOnly, target the page's own host so
// third-party beacons do not hold a wait open.
type Filter struct {
	ResourceTypes []string
	SameHostOnly  bool
}

// DefaultFilter captures same-host XHR and fetch requests.
func DefaultFilter() Filter {
	return Filter{ResourceTypes: []string{"XHR", "Fetch"}, SameHostOnly: true}
}

// Allows reports whether a request should be captured. An empty pageHost
// (nothing navigated yet) disables the host check.
func (f Filter) Allows(resourceType, requestURL, pageHost string) bool {
	if !f.allowsType(resourceType) {
		return false
	}
	if !f.SameHostOnly || pageHost == "" {
		return true
	}
	u, err := url.Parse(requestURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, pageHost)
}

func (f Filter) allowsType(resourceType string) bool {
	if len(f.ResourceTypes) == 0 {
		return true
	}
	for _, t := range f.ResourceTypes {
		if strings.EqualFold(t, resourceType) {
			return true
		}
	}
	return false
}

// hostOf returns the host[:port] of rawURL, or "" when it has none.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
