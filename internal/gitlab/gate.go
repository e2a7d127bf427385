package gitlab

import (
	"sync"

	"github.com/user/gitlabbot/internal/config"
)

// Gate authorizes webhook deliveries against the configured sources.
// The source list can be swapped at runtime when the configuration reloads.
type Gate struct {
	mu      sync.RWMutex
	sources []config.Source
	byToken map[string]config.Source
}

// NewGate creates a gate for the given sources.
func NewGate(sources []config.Source) *Gate {
	g := &Gate{}
	g.SetSources(sources)
	return g
}

// SetSources replaces the configured sources.
func (g *Gate) SetSources(sources []config.Source) {
	byToken := make(map[string]config.Source, len(sources))
	for _, s := range sources {
		if s.Token != "" {
			byToken[s.Token] = s
		}
	}
	list := append([]config.Source(nil), sources...)

	g.mu.Lock()
	g.sources = list
	g.byToken = byToken
	g.mu.Unlock()
}

// Authorize returns the source whose token equals token exactly.
func (g *Gate) Authorize(token string) (config.Source, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.byToken[token]
	return s, ok
}

// Sources returns a copy of the configured sources in configuration order.
func (g *Gate) Sources() []config.Source {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]config.Source(nil), g.sources...)
}
