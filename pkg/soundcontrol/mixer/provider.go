package mixer

import (
	"errors"
	"fmt"
)

// Role is one of the independent default-device assignments a host holds
type Role int

// Values match the ERole enumeration of the Windows core audio API
const (
	RoleConsole Role = iota
	RoleMultimedia
	RoleCommunications
)

func (r Role) String() string {
	switch r {
	case RoleConsole:
		return "console"
	case RoleMultimedia:
		return "multimedia"
	case RoleCommunications:
		return "communications"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// MarshalText lets roles appear by name in JSON error bodies
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// EndpointState mirrors the device state bits reported by the host
type EndpointState uint32

const (
	EndpointActive     EndpointState = 0x1
	EndpointDisabled   EndpointState = 0x2
	EndpointNotPresent EndpointState = 0x4
	EndpointUnplugged  EndpointState = 0x8
)

func (s EndpointState) String() string {
	switch s {
	case EndpointActive:
		return "active"
	case EndpointDisabled:
		return "disabled"
	case EndpointNotPresent:
		return "not present"
	case EndpointUnplugged:
		return "unplugged"
	default:
		return fmt.Sprintf("state(%#x)", uint32(s))
	}
}

// RawEndpoint is a rendering endpoint as reported by the Provider
type RawEndpoint struct {
	ID          string
	State       EndpointState
	DriverClass string
	Description string
}

// RawSession is an audio session as reported by the Provider, before resolution
type RawSession struct {
	DisplayName       string
	IconHint          string
	SessionIdentifier string
	ProcessID         uint32
}

var (
	// ErrSessionNotFound is returned by the Provider when no live session belongs to a pid
	ErrSessionNotFound = errors.New("no audio session for process")

	// ErrEndpointNotFound is returned by the Provider when an endpoint id is unknown
	ErrEndpointNotFound = errors.New("no such audio endpoint")
)

// Provider is the binding to the native audio subsystem. Volumes are integer
// percentages; setters clamp their input into [0,100]. A lookup that finds nothing
// returns ErrSessionNotFound or ErrEndpointNotFound, any other error is a failure
// of the native call itself
type Provider interface {
	ListEndpoints() ([]RawEndpoint, error)
	DefaultEndpoint(role Role) (string, error)
	ListSessions(endpointID string) ([]RawSession, error)

	MasterVolume() (int, error)
	MasterMute() (bool, error)
	SetMasterVolume(level int) error
	SetMasterMute(muted bool) error

	SessionVolume(pid uint32) (int, error)
	SessionMute(pid uint32) (bool, error)
	SetSessionVolume(pid uint32, level int) error
	SetSessionMute(pid uint32, muted bool) error

	SetDefaultEndpoint(id string, role Role) error

	Release() error
}

// ClampLevel forces a volume level into [0,100]
func ClampLevel(level int) int {
	if level < 0 {
		return 0
	}

	if level > 100 {
		return 100
	}

	return level
}
