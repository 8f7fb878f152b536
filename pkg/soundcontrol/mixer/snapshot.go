package mixer

import (
	"sort"
	"strings"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// the sessions listed in a snapshot are those playing on the default endpoint of this role
const sessionRole = RoleMultimedia

// SnapshotBuilder reads the whole mixer state from the Provider
type SnapshotBuilder struct {
	logger   *zap.SugaredLogger
	provider Provider
	resolver *Resolver

	// driver classes (e.g. HDAUDIO) whose endpoints are listed as speakers, empty means all
	speakerClasses []string
}

// NewSnapshotBuilder creates a SnapshotBuilder
func NewSnapshotBuilder(logger *zap.SugaredLogger, provider Provider, resolver *Resolver, speakerClasses []string) *SnapshotBuilder {
	classes := make([]string, 0, len(speakerClasses))
	for _, class := range speakerClasses {
		classes = append(classes, strings.ToUpper(class))
	}

	return &SnapshotBuilder{
		logger:         logger.Named("snapshot"),
		provider:       provider,
		resolver:       resolver,
		speakerClasses: classes,
	}
}

// Build reads and resolves everything into a new Snapshot. Reads are best-effort:
// a failing read leaves its part of the snapshot empty or zeroed
func (b *SnapshotBuilder) Build() Snapshot {
	defaultID, err := b.provider.DefaultEndpoint(sessionRole)
	if err != nil {
		b.logger.Warnw("Failed to get default endpoint", "role", sessionRole, "error", err)
		defaultID = ""
	}

	sessions := Purge(b.sessions(defaultID))
	SortSessions(sessions)

	snapshot := Snapshot{
		Sessions:        sessions,
		Master:          b.master(),
		ProtocolVersion: ProtocolVersion,
		Speakers:        b.speakers(defaultID),
	}

	b.logger.Debugw("Built snapshot", "snapshot", snapshot)

	return snapshot
}

// SortSessions orders sessions by name, comparing bytes (ordinal order)
func SortSessions(sessions []SessionEntity) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Name < sessions[j].Name
	})
}

func (b *SnapshotBuilder) sessions(endpointID string) []SessionEntity {
	resolved := []SessionEntity{}
	if endpointID == "" {
		return resolved
	}

	raw, err := b.provider.ListSessions(endpointID)
	if err != nil {
		b.logger.Warnw("Failed to list sessions", "endpoint", endpointID, "error", err)
		return resolved
	}

	seen := make(map[string]bool, len(raw))
	for _, rawSession := range raw {
		if seen[rawSession.SessionIdentifier] {
			b.logger.Debugw("Skipping duplicate session", "identifier", rawSession.SessionIdentifier)
			continue
		}
		seen[rawSession.SessionIdentifier] = true

		resolved = append(resolved, b.resolver.Resolve(rawSession))
	}

	return resolved
}

func (b *SnapshotBuilder) master() MasterState {
	var master MasterState

	volume, err := b.provider.MasterVolume()
	if err != nil {
		b.logger.Warnw("Failed to read master volume", "error", err)
	} else {
		master.Volume = ClampLevel(volume)
	}

	muted, err := b.provider.MasterMute()
	if err != nil {
		b.logger.Warnw("Failed to read master mute", "error", err)
	} else {
		master.Muted = muted
	}

	return master
}

func (b *SnapshotBuilder) speakers(defaultID string) []Speaker {
	speakers := []Speaker{}

	endpoints, err := b.provider.ListEndpoints()
	if err != nil {
		b.logger.Warnw("Failed to list endpoints", "error", err)
		return speakers
	}

	for _, endpoint := range endpoints {
		if !b.isSpeaker(endpoint) {
			continue
		}

		speakers = append(speakers, Speaker{
			Name:      endpoint.Description,
			IsDefault: defaultID != "" && endpoint.ID == defaultID,
			ID:        endpoint.ID,
		})
	}

	return speakers
}

func (b *SnapshotBuilder) isSpeaker(endpoint RawEndpoint) bool {
	if endpoint.State != EndpointActive {
		return false
	}

	if len(b.speakerClasses) == 0 {
		return true
	}

	return funk.ContainsString(b.speakerClasses, strings.ToUpper(endpoint.DriverClass))
}
