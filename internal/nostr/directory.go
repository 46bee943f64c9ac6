package nostr

import (
	"strings"
	"sync"
)

// AgentInfo describes a registered project agent.
type AgentInfo struct {
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Pubkey string `json:"pubkey"`
}

// Directory maps pubkeys to display names and distinguishes registered
// project agents from human users. It is read-mostly; lookups take a
// read lock and registration is rare.
type Directory struct {
	mu       sync.RWMutex
	agents   map[string]AgentInfo // by pubkey
	bySlug   map[string]AgentInfo
	humans   map[string]string // pubkey -> username
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		agents: make(map[string]AgentInfo),
		bySlug: make(map[string]AgentInfo),
		humans: make(map[string]string),
	}
}

// RegisterAgent records a project agent.
func (d *Directory) RegisterAgent(info AgentInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[info.Pubkey] = info
	d.bySlug[info.Slug] = info
}

// RegisterUser records a human user's display name.
func (d *Directory) RegisterUser(pubkey, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.humans[pubkey] = name
}

// IsAgent reports whether the pubkey belongs to a registered agent.
func (d *Directory) IsAgent(pubkey string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.agents[pubkey]
	return ok
}

// Agent returns the registered agent for a pubkey.
func (d *Directory) Agent(pubkey string) (AgentInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.agents[pubkey]
	return info, ok
}

// AgentBySlug returns the registered agent for a slug.
func (d *Directory) AgentBySlug(slug string) (AgentInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.bySlug[slug]
	return info, ok
}

// Agents returns all registered agents.
func (d *Directory) Agents() []AgentInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]AgentInfo, 0, len(d.agents))
	for _, info := range d.agents {
		out = append(out, info)
	}
	return out
}

// Name resolves a pubkey to a display name. Registered agents and users
// resolve to their names; unknown pubkeys fall back to the leading 8 hex
// characters.
func (d *Directory) Name(pubkey string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if info, ok := d.agents[pubkey]; ok && info.Name != "" {
		return info.Name
	}
	if name, ok := d.humans[pubkey]; ok && name != "" {
		return name
	}
	return shortPubkey(pubkey)
}

func shortPubkey(pubkey string) string {
	pk := strings.TrimSpace(pubkey)
	if len(pk) > 8 {
		return pk[:8]
	}
	return pk
}
