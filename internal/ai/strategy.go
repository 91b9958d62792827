package ai

import (
	"errors"
	"fmt"
	"log"
	"strings"
)

// ErrNoProviders means a quality mode resolved to no usable provider.
// It is a configuration error and is never retried.
var ErrNoProviders = errors.New("no ai providers configured")

// StrategyTable maps quality modes to ordered fallback chains. Chains are
// resolved against the registry once, at construction.
type StrategyTable struct {
	chains      map[string][]CallProfile
	defaultMode string
}

func NewStrategyTable(reg *Registry, chains map[string][]string, defaultMode string) *StrategyTable {
	t := &StrategyTable{
		chains:      make(map[string][]CallProfile, len(chains)),
		defaultMode: normalizeKey(defaultMode),
	}
	for mode, keys := range chains {
		mode = normalizeKey(mode)
		resolved := make([]CallProfile, 0, len(keys))
		for _, k := range keys {
			p, err := reg.Get(k)
			if err != nil {
				log.Printf("[StrategyTable] mode=%s skip key=%s err=%v", mode, k, err)
				continue
			}
			if !p.Configured() {
				log.Printf("[StrategyTable] mode=%s skip key=%s reason=not_configured", mode, p.Key)
				continue
			}
			resolved = append(resolved, p)
		}
		t.chains[mode] = resolved
	}
	return t
}

// Select returns the chain for mode, or the default mode's chain when mode
// is unknown. The returned slice is a copy.
func (t *StrategyTable) Select(mode string) ([]CallProfile, error) {
	mode = normalizeKey(mode)
	chain, ok := t.chains[mode]
	if !ok {
		mode = t.defaultMode
		chain = t.chains[mode]
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("quality mode %q: %w", mode, ErrNoProviders)
	}
	return append([]CallProfile(nil), chain...), nil
}

func (t *StrategyTable) Modes() []string {
	out := make([]string, 0, len(t.chains))
	for m := range t.chains {
		out = append(out, m)
	}
	return out
}

// ParseChain splits a comma separated list of profile keys.
func ParseChain(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if k := normalizeKey(part); k != "" {
			out = append(out, k)
		}
	}
	return out
}
