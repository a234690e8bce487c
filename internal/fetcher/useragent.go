// Package fetcher holds helpers shared by the network fetcher implementations.
package fetcher

import (
	"net/http"
	"sync/atomic"
)

// DefaultUserAgent is sent when no user agents are configured.
const DefaultUserAgent = "crawlkit/1.0 (+https://github.com/JakeFAU/crawlkit)"

// UserAgents hands out configured user agent strings round-robin.
type UserAgents struct {
	agents []string
	next   atomic.Uint64
}

// NewUserAgents builds a pool; an empty list falls back to DefaultUserAgent.
func NewUserAgents(agents []string) *UserAgents {
	clean := make([]string, 0, len(agents))
	for _, a := range agents {
		if a != "" {
			clean = append(clean, a)
		}
	}
	if len(clean) == 0 {
		clean = []string{DefaultUserAgent}
	}
	return &UserAgents{agents: clean}
}

// Next returns the next user agent in rotation.
func (u *UserAgents) Next() string {
	n := u.next.Add(1) - 1
	return u.agents[n%uint64(len(u.agents))]
}

// Apply sets User-Agent on h unless the caller already chose one.
func (u *UserAgents) Apply(h http.Header) {
	if h.Get("User-Agent") == "" {
		h.Set("User-Agent", u.Next())
	}
}
