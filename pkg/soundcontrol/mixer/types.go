// Package mixer turns the raw records of the host audio subsystem into an ordered,
// serializable snapshot of mixer state and applies commands against it.
package mixer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is reported to clients in every snapshot
const ProtocolVersion = 5

const (
	// SystemSoundName is the name given to the session that plays system sounds
	SystemSoundName = "Systemsound"

	// JunkMarker flags a resolved session as a placeholder to be purged
	JunkMarker = "#"
)

// Icon holds PNG bytes. It serializes as a base64 string, or null when empty
type Icon []byte

// MarshalJSON implements json.Marshaler
func (i Icon) MarshalJSON() ([]byte, error) {
	if len(i) == 0 {
		return []byte("null"), nil
	}

	return json.Marshal(base64.StdEncoding.EncodeToString(i))
}

// UnmarshalJSON implements json.Unmarshaler
func (i *Icon) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*i = nil
		return nil
	}

	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return fmt.Errorf("unmarshal icon: %w", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode icon: %w", err)
	}

	*i = decoded
	return nil
}

// SessionEntity is one application producing sound, as presented to clients
type SessionEntity struct {
	Name              string  `json:"name"`
	ProcessID         uint32  `json:"processId"`
	IconPath          *string `json:"iconPath"`
	SessionIdentifier string  `json:"sessionIdentifier"`
	Volume            int     `json:"volume"`
	Muted             bool    `json:"isMute"`
	Icon              Icon    `json:"bild"`
}

func (s SessionEntity) String() string {
	return fmt.Sprintf("<session: %s, pid %d, vol: %d, muted: %t>", s.Name, s.ProcessID, s.Volume, s.Muted)
}

// MasterState is the volume and mute flag of the default render endpoint
type MasterState struct {
	Volume int  `json:"volume"`
	Muted  bool `json:"isMute"`
}

// Speaker is an active rendering endpoint that can be made the default
type Speaker struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
	ID        string `json:"id"`
}

// Snapshot is the complete world state delivered after every command.
// A snapshot is never modified once built
type Snapshot struct {
	Sessions        []SessionEntity `json:"soundObjList"`
	Master          MasterState     `json:"masterObj"`
	ProtocolVersion int             `json:"serverVersion"`
	Speakers        []Speaker       `json:"speakersList"`
}

func (s Snapshot) String() string {
	return fmt.Sprintf("<snapshot: %d sessions, %d speakers, master: %d%%>", len(s.Sessions), len(s.Speakers), s.Master.Volume)
}

// Session returns the entity with the given process id, if the snapshot contains one
func (s Snapshot) Session(pid uint32) (SessionEntity, bool) {
	for _, session := range s.Sessions {
		if session.ProcessID == pid {
			return session, true
		}
	}

	return SessionEntity{}, false
}

// DefaultSpeaker returns the speaker currently marked as default, if any
func (s Snapshot) DefaultSpeaker() (Speaker, bool) {
	for _, speaker := range s.Speakers {
		if speaker.IsDefault {
			return speaker, true
		}
	}

	return Speaker{}, false
}

// Clone returns a deep copy of the snapshot that shares no memory with it
func (s Snapshot) Clone() Snapshot {
	clone := s

	if s.Sessions != nil {
		clone.Sessions = make([]SessionEntity, len(s.Sessions))
		for i, session := range s.Sessions {
			clone.Sessions[i] = session.clone()
		}
	}

	if s.Speakers != nil {
		clone.Speakers = make([]Speaker, len(s.Speakers))
		copy(clone.Speakers, s.Speakers)
	}

	return clone
}

func (s SessionEntity) clone() SessionEntity {
	if s.IconPath != nil {
		iconPath := *s.IconPath
		s.IconPath = &iconPath
	}

	if s.Icon != nil {
		s.Icon = append(Icon(nil), s.Icon...)
	}

	return s
}
