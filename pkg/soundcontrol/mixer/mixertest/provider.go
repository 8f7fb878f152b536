// Package mixertest provides in-memory collaborators for exercising a Mixer.
package mixertest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
)

// ErrInjected is returned by calls configured to fail
var ErrInjected = errors.New("injected provider failure")

// Levels is the volume and mute flag of one session
type Levels struct {
	Volume int
	Muted  bool
}

// Provider is an in-memory mixer.Provider. Its fields may be set freely before use;
// once shared with a Mixer, use the methods only
type Provider struct {
	mu sync.Mutex

	Endpoints []mixer.RawEndpoint
	Defaults  map[mixer.Role]string
	Sessions  map[string][]mixer.RawSession
	Levels    map[uint32]Levels
	Master    Levels

	// FailDefaultFor makes SetDefaultEndpoint fail for these roles
	FailDefaultFor map[mixer.Role]bool

	// FailReads makes every getter fail
	FailReads bool

	Released    bool
	DefaultSets []mixer.Role
}

// NewProvider creates an empty Provider
func NewProvider() *Provider {
	return &Provider{
		Defaults:       map[mixer.Role]string{},
		Sessions:       map[string][]mixer.RawSession{},
		Levels:         map[uint32]Levels{},
		FailDefaultFor: map[mixer.Role]bool{},
	}
}

// AddEndpoint registers an active endpoint and makes it the default for every role
// if there is no default yet
func (p *Provider) AddEndpoint(id, description, driverClass string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Endpoints = append(p.Endpoints, mixer.RawEndpoint{
		ID:          id,
		State:       mixer.EndpointActive,
		DriverClass: driverClass,
		Description: description,
	})

	for _, role := range mixer.DefaultDeviceRoles {
		if _, ok := p.Defaults[role]; !ok {
			p.Defaults[role] = id
		}
	}

	return p
}

// AddSession registers a session on an endpoint with the given levels
func (p *Provider) AddSession(endpointID string, session mixer.RawSession, levels Levels) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Sessions[endpointID] = append(p.Sessions[endpointID], session)
	p.Levels[session.ProcessID] = levels

	return p
}

// SessionLevels returns the stored levels of a pid
func (p *Provider) SessionLevels(pid uint32) (Levels, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	levels, ok := p.Levels[pid]
	return levels, ok
}

// DefaultFor returns the endpoint currently default for a role
func (p *Provider) DefaultFor(role mixer.Role) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.Defaults[role]
}

func (p *Provider) ListEndpoints() ([]mixer.RawEndpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailReads {
		return nil, ErrInjected
	}

	return append([]mixer.RawEndpoint(nil), p.Endpoints...), nil
}

func (p *Provider) DefaultEndpoint(role mixer.Role) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailReads {
		return "", ErrInjected
	}

	id, ok := p.Defaults[role]
	if !ok {
		return "", mixer.ErrEndpointNotFound
	}

	return id, nil
}

func (p *Provider) ListSessions(endpointID string) ([]mixer.RawSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailReads {
		return nil, ErrInjected
	}

	return append([]mixer.RawSession(nil), p.Sessions[endpointID]...), nil
}

func (p *Provider) MasterVolume() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailReads {
		return 0, ErrInjected
	}

	return p.Master.Volume, nil
}

func (p *Provider) MasterMute() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailReads {
		return false, ErrInjected
	}

	return p.Master.Muted, nil
}

func (p *Provider) SetMasterVolume(level int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Master.Volume = mixer.ClampLevel(level)
	return nil
}

func (p *Provider) SetMasterMute(muted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Master.Muted = muted
	return nil
}

func (p *Provider) SessionVolume(pid uint32) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailReads {
		return 0, ErrInjected
	}

	levels, ok := p.Levels[pid]
	if !ok {
		return 0, mixer.ErrSessionNotFound
	}

	return levels.Volume, nil
}

func (p *Provider) SessionMute(pid uint32) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailReads {
		return false, ErrInjected
	}

	levels, ok := p.Levels[pid]
	if !ok {
		return false, mixer.ErrSessionNotFound
	}

	return levels.Muted, nil
}

func (p *Provider) SetSessionVolume(pid uint32, level int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	levels, ok := p.Levels[pid]
	if !ok {
		return mixer.ErrSessionNotFound
	}

	levels.Volume = mixer.ClampLevel(level)
	p.Levels[pid] = levels

	return nil
}

func (p *Provider) SetSessionMute(pid uint32, muted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	levels, ok := p.Levels[pid]
	if !ok {
		return mixer.ErrSessionNotFound
	}

	levels.Muted = muted
	p.Levels[pid] = levels

	return nil
}

func (p *Provider) SetDefaultEndpoint(id string, role mixer.Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailDefaultFor[role] {
		return fmt.Errorf("role %s: %w", role, ErrInjected)
	}

	known := false
	for _, endpoint := range p.Endpoints {
		if endpoint.ID == id {
			known = true
			break
		}
	}

	if !known {
		return mixer.ErrEndpointNotFound
	}

	p.Defaults[role] = id
	p.DefaultSets = append(p.DefaultSets, role)

	return nil
}

func (p *Provider) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Released = true
	return nil
}

// IconLoader serves icons from a map and records every path it was asked for
type IconLoader struct {
	mu    sync.Mutex
	Icons map[string]mixer.Icon
	Calls []string
}

// NewIconLoader creates an IconLoader knowing the given icons
func NewIconLoader(icons map[string]mixer.Icon) *IconLoader {
	if icons == nil {
		icons = map[string]mixer.Icon{}
	}

	return &IconLoader{Icons: icons}
}

func (l *IconLoader) LoadIcon(path string) (mixer.Icon, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.Calls = append(l.Calls, path)

	icon, ok := l.Icons[path]
	if !ok {
		return nil, fmt.Errorf("load icon %s: file not found", path)
	}

	return icon, nil
}

// Requested returns the paths asked for so far
func (l *IconLoader) Requested() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.Calls...)
}
