package ai

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// CallProfile is one way of calling a model: which client, which model,
// and how long to wait for its first token.
type CallProfile struct {
	Key               string
	ProviderName      string
	Provider          StreamProvider
	Model             string
	FirstTokenTimeout time.Duration
	Label             string
}

// Configured reports whether the profile has a usable client.
func (p CallProfile) Configured() bool {
	if p.Provider == nil {
		return false
	}
	if c, ok := p.Provider.(Configurable); ok {
		return c.Configured()
	}
	return true
}

type Registry struct {
	mu       sync.RWMutex
	profiles map[string]CallProfile
}

func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]CallProfile)}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *Registry) Register(p CallProfile) {
	p.Key = normalizeKey(p.Key)
	if p.Label == "" {
		p.Label = p.Key
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Key] = p
}

func (r *Registry) Get(key string) (CallProfile, error) {
	key = normalizeKey(key)
	r.mu.RLock()
	p, ok := r.profiles[key]
	r.mu.RUnlock()
	if !ok {
		return CallProfile{}, fmt.Errorf("unknown call profile: %s", key)
	}
	return p, nil
}

func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.profiles))
	for k := range r.profiles {
		out = append(out, k)
	}
	return out
}
