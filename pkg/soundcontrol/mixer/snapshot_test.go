package mixer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer/mixertest"
)

const (
	speakersID   = "{0.0.0.00000000}.{speakers}"
	headphonesID = "{0.0.0.00000000}.{headphones}"
)

func newTestBuilder(provider mixer.Provider, classes ...string) *mixer.SnapshotBuilder {
	logger := zap.NewNop().Sugar()
	resolver := mixer.NewResolver(logger, provider, nil)

	return mixer.NewSnapshotBuilder(logger, provider, resolver, classes)
}

func identifierFor(exe string) string {
	return `{g}|\Device\HarddiskVolume2\Apps\` + exe + `%b{g}`
}

func TestBuild_SortedOrdinal(t *testing.T) {
	provider := mixertest.NewProvider().AddEndpoint(speakersID, "Speakers", "HDAUDIO")
	for pid, exe := range map[uint32]string{11: "zoom.exe", 12: "Zoom.exe", 13: "App.exe", 14: "app.exe"} {
		provider.AddSession(speakersID, mixer.RawSession{SessionIdentifier: identifierFor(exe), ProcessID: pid}, mixertest.Levels{})
	}

	snapshot := newTestBuilder(provider).Build()

	assert.Equal(t, []string{"App", "Zoom", "app", "zoom"}, names(snapshot.Sessions))
	assert.Equal(t, mixer.ProtocolVersion, snapshot.ProtocolVersion)
}

func TestBuild_PurgesJunk(t *testing.T) {
	provider := mixertest.NewProvider().AddEndpoint(speakersID, "Speakers", "HDAUDIO")
	provider.AddSession(speakersID, mixer.RawSession{DisplayName: "ghost#1", SessionIdentifier: identifierFor("ghost.exe"), ProcessID: 5}, mixertest.Levels{})
	provider.AddSession(speakersID, mixer.RawSession{SessionIdentifier: identifierFor("real.exe"), ProcessID: 6}, mixertest.Levels{})

	snapshot := newTestBuilder(provider).Build()

	assert.Equal(t, []string{"real"}, names(snapshot.Sessions))
}

func TestBuild_DropsDuplicateIdentifiers(t *testing.T) {
	provider := mixertest.NewProvider().AddEndpoint(speakersID, "Speakers", "HDAUDIO")
	provider.AddSession(speakersID, mixer.RawSession{SessionIdentifier: identifierFor("a.exe"), ProcessID: 5}, mixertest.Levels{Volume: 10})
	provider.AddSession(speakersID, mixer.RawSession{SessionIdentifier: identifierFor("a.exe"), ProcessID: 5}, mixertest.Levels{Volume: 10})

	snapshot := newTestBuilder(provider).Build()

	require.Len(t, snapshot.Sessions, 1)
	assert.Equal(t, 10, snapshot.Sessions[0].Volume)
}

func TestBuild_OnlySessionsOfDefaultEndpoint(t *testing.T) {
	provider := mixertest.NewProvider().
		AddEndpoint(speakersID, "Speakers", "HDAUDIO").
		AddEndpoint(headphonesID, "Headphones", "HDAUDIO")
	provider.AddSession(speakersID, mixer.RawSession{SessionIdentifier: identifierFor("a.exe"), ProcessID: 5}, mixertest.Levels{})
	provider.AddSession(headphonesID, mixer.RawSession{SessionIdentifier: identifierFor("b.exe"), ProcessID: 6}, mixertest.Levels{})

	snapshot := newTestBuilder(provider).Build()

	assert.Equal(t, []string{"a"}, names(snapshot.Sessions))
}

func TestBuild_Speakers(t *testing.T) {
	provider := mixertest.NewProvider().
		AddEndpoint(speakersID, "Speakers", "HDAUDIO").
		AddEndpoint(headphonesID, "Headphones", "hdaudio").
		AddEndpoint("usb", "USB Headset", "USB")
	provider.Endpoints = append(provider.Endpoints, mixer.RawEndpoint{
		ID: "gone", State: mixer.EndpointUnplugged, DriverClass: "HDAUDIO", Description: "Unplugged",
	})
	provider.Defaults[mixer.RoleMultimedia] = headphonesID

	snapshot := newTestBuilder(provider, "HDAUDIO").Build()

	assert.Equal(t, []mixer.Speaker{
		{Name: "Speakers", IsDefault: false, ID: speakersID},
		{Name: "Headphones", IsDefault: true, ID: headphonesID},
	}, snapshot.Speakers)

	defaultSpeaker, ok := snapshot.DefaultSpeaker()
	require.True(t, ok)
	assert.Equal(t, headphonesID, defaultSpeaker.ID)
}

func TestBuild_AllClassesWhenUnrestricted(t *testing.T) {
	provider := mixertest.NewProvider().
		AddEndpoint(speakersID, "Speakers", "HDAUDIO").
		AddEndpoint("usb", "USB Headset", "USB")

	snapshot := newTestBuilder(provider).Build()

	assert.Len(t, snapshot.Speakers, 2)

	defaults := 0
	for _, speaker := range snapshot.Speakers {
		if speaker.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestBuild_MasterState(t *testing.T) {
	provider := mixertest.NewProvider().AddEndpoint(speakersID, "Speakers", "HDAUDIO")
	provider.Master = mixertest.Levels{Volume: 64, Muted: true}

	snapshot := newTestBuilder(provider).Build()

	assert.Equal(t, mixer.MasterState{Volume: 64, Muted: true}, snapshot.Master)
}

func TestBuild_BestEffortOnFailingProvider(t *testing.T) {
	provider := mixertest.NewProvider().AddEndpoint(speakersID, "Speakers", "HDAUDIO")
	provider.AddSession(speakersID, mixer.RawSession{SessionIdentifier: identifierFor("a.exe"), ProcessID: 5}, mixertest.Levels{Volume: 50})
	provider.Master = mixertest.Levels{Volume: 64, Muted: true}
	provider.FailReads = true

	snapshot := newTestBuilder(provider).Build()

	assert.NotNil(t, snapshot.Sessions)
	assert.Empty(t, snapshot.Sessions)
	assert.NotNil(t, snapshot.Speakers)
	assert.Empty(t, snapshot.Speakers)
	assert.Equal(t, mixer.MasterState{}, snapshot.Master)
}

func TestBuild_NoDefaultEndpoint(t *testing.T) {
	provider := mixertest.NewProvider()
	provider.Endpoints = []mixer.RawEndpoint{{ID: speakersID, State: mixer.EndpointActive, DriverClass: "HDAUDIO", Description: "Speakers"}}

	snapshot := newTestBuilder(provider).Build()

	require.Len(t, snapshot.Speakers, 1)
	assert.False(t, snapshot.Speakers[0].IsDefault)
	_, ok := snapshot.DefaultSpeaker()
	assert.False(t, ok)
}

func TestSnapshot_Clone(t *testing.T) {
	iconPath := `C:\Apps\app.exe`
	original := mixer.Snapshot{
		Sessions: []mixer.SessionEntity{{Name: "app", IconPath: &iconPath, Icon: mixer.Icon{1, 2}}},
		Speakers: []mixer.Speaker{},
	}

	clone := original.Clone()
	assert.Equal(t, original, clone)

	// empty lists stay empty instead of turning into null
	assert.NotNil(t, clone.Speakers)

	*clone.Sessions[0].IconPath = "changed"
	clone.Sessions[0].Icon[0] = 9

	assert.Equal(t, `C:\Apps\app.exe`, *original.Sessions[0].IconPath)
	assert.Equal(t, byte(1), original.Sessions[0].Icon[0])
}
