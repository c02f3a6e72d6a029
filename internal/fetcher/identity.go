package fetcher

import (
	"strings"

	"github.com/JakeFAU/property-monitor/internal/random"
)

// DefaultUserAgents is the identity pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:115.0) Gecko/20100101 Firefox/115.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4; rv:115.0) Gecko/20100101 Firefox/115.0",
}

// IdentityPool hands out User-Agent strings uniformly at random.
type IdentityPool struct {
	agents []string
	rnd    random.Source
}

// NewIdentityPool copies the non-blank agents. An empty list falls back to
// DefaultUserAgents.
func NewIdentityPool(agents []string, src random.Source) *IdentityPool {
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		out = append(out, DefaultUserAgents...)
	}
	if src == nil {
		src = random.Global()
	}
	return &IdentityPool{agents: out, rnd: src}
}

// Pick returns one identity.
func (p *IdentityPool) Pick() string {
	return p.agents[p.rnd.IntN(len(p.agents))]
}

func (p *IdentityPool) size() int {
	return len(p.agents)
}
