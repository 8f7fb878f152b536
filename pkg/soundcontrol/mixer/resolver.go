package mixer

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// display name reported for the system sounds session, up to its first comma
const systemSoundMarker = `@%SystemRoot%\System32\AudioSrv.Dll`

// Resolver turns raw session records into SessionEntity values
type Resolver struct {
	logger   *zap.SugaredLogger
	provider Provider
	icons    *IconLocator
}

// NewResolver creates a Resolver. icons may be nil, in which case no icon lookups happen
func NewResolver(logger *zap.SugaredLogger, provider Provider, icons *IconLocator) *Resolver {
	return &Resolver{
		logger:   logger.Named("resolver"),
		provider: provider,
		icons:    icons,
	}
}

// Identity is the provider-independent part of a resolved session
type Identity struct {
	Name string

	// DevicePath is empty for the system sounds session and for unparseable identifiers
	DevicePath string
}

// Identify derives the name of a raw session. It is a pure function of its input.
//
// Derived names keep the casing of the executable ("App.exe" becomes "App").
// A session that has neither a display name nor a parseable identifier is
// named with the junk marker so that it gets purged
func Identify(raw RawSession) Identity {
	if isSystemSound(raw) {
		return Identity{Name: SystemSoundName}
	}

	identifier, err := ParseSessionIdentifier(raw.SessionIdentifier)
	if err != nil {
		if raw.DisplayName != "" {
			return Identity{Name: raw.DisplayName}
		}

		return Identity{Name: unresolvedName(raw.ProcessID)}
	}

	name := raw.DisplayName
	if name == "" {
		name = identifier.ExecutableName()
	}

	if name == "" {
		name = unresolvedName(raw.ProcessID)
	}

	return Identity{
		Name:       name,
		DevicePath: identifier.DevicePath,
	}
}

// Resolve builds the full entity for a raw session: identity, icon and the
// current volume and mute flag. Read failures fall back to 0 and unmuted
func (r *Resolver) Resolve(raw RawSession) SessionEntity {
	identity := Identify(raw)

	entity := SessionEntity{
		Name:              identity.Name,
		ProcessID:         raw.ProcessID,
		SessionIdentifier: raw.SessionIdentifier,
	}

	if raw.IconHint != "" {
		iconPath := raw.IconHint
		entity.IconPath = &iconPath
	}

	if identity.DevicePath != "" && r.icons != nil {
		entity.Icon = r.icons.Locate(identity.DevicePath)
	}

	entity.Volume, entity.Muted = r.readLevels(raw.ProcessID)

	return entity
}

func (r *Resolver) readLevels(pid uint32) (int, bool) {
	volume, err := r.provider.SessionVolume(pid)
	if err != nil {
		r.logReadMiss("volume", pid, err)
		volume = 0
	}

	muted, err := r.provider.SessionMute(pid)
	if err != nil {
		r.logReadMiss("mute", pid, err)
		muted = false
	}

	return ClampLevel(volume), muted
}

func (r *Resolver) logReadMiss(field string, pid uint32, err error) {
	if errors.Is(err, ErrSessionNotFound) {
		r.logger.Debugw("Session vanished before it could be read", "field", field, "pid", pid)
		return
	}

	r.logger.Warnw("Failed to read session", "field", field, "pid", pid, "error", err)
}

func isSystemSound(raw RawSession) bool {
	if raw.ProcessID == 0 {
		return true
	}

	head, _, _ := strings.Cut(raw.DisplayName, ",")
	return head == systemSoundMarker
}

func unresolvedName(pid uint32) string {
	return fmt.Sprintf("unresolved%s%d", JunkMarker, pid)
}
