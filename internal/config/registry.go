package config

import "sync"

// Registry is the read surface the router and supervisor resolve domains
// through. Reloads swap the whole FileConfig atomically; readers never see a
// partially applied config.
type Registry struct {
	mu sync.RWMutex
	fc *FileConfig

	projects map[string]Project
	mappings map[string]int
}

func NewRegistry(fc *FileConfig) *Registry {
	r := &Registry{}
	r.Swap(fc)
	return r
}

// Swap replaces the active config.
func (r *Registry) Swap(fc *FileConfig) {
	projects := make(map[string]Project, len(fc.Projects))
	for _, p := range fc.Projects {
		projects[p.Domain] = p
	}
	mappings := make(map[string]int, len(fc.Mappings))
	for _, m := range fc.Mappings {
		mappings[m.Domain] = m.Port
	}
	r.mu.Lock()
	r.fc = fc
	r.projects = projects
	r.mappings = mappings
	r.mu.Unlock()
}

// Project looks up a managed project by exact domain.
func (r *Registry) Project(domain string) (Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[domain]
	return p, ok
}

// Mapping looks up a static domain -> port entry.
func (r *Registry) Mapping(domain string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	port, ok := r.mappings[domain]
	return port, ok
}

// Domains returns the full configured domain set.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fc.Domains()
}

// Server returns the active server section.
func (r *Registry) Server() ServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fc.Server
}
