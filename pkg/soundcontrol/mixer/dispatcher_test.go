package mixer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer/mixertest"
)

func newTestDispatcher(provider mixer.Provider) *mixer.Dispatcher {
	return mixer.NewDispatcher(zap.NewNop().Sugar(), provider)
}

func TestStepLevel(t *testing.T) {
	tests := []struct {
		level, step, expected int
	}{
		{50, 10, 60},
		{50, -10, 40},
		{95, 10, 100},
		{5, -10, 0},
		{0, 1000, 100},
		{100, -1000, 0},
		{55, 0, 55},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, mixer.StepLevel(tt.level, tt.step), "%d%+d", tt.level, tt.step)
	}
}

func TestStepLevel_AlwaysInRange(t *testing.T) {
	for level := 0; level <= 100; level++ {
		for _, step := range []int{-1000, -101, -100, -37, -1, 0, 1, 37, 100, 101, 1000} {
			got := mixer.StepLevel(level, step)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		}

		assert.Equal(t, 100, mixer.StepLevel(level, 1000))
		assert.Equal(t, 0, mixer.StepLevel(level, -1000))
	}
}

func TestDispatcher_StepMasterVolume(t *testing.T) {
	provider := mixertest.NewProvider()
	provider.Master.Volume = 90

	level, err := newTestDispatcher(provider).StepMasterVolume(25)
	require.NoError(t, err)

	assert.Equal(t, 100, level)
	assert.Equal(t, 100, provider.Master.Volume)
}

func TestDispatcher_ChangeAudioDeviceOrder(t *testing.T) {
	provider := mixertest.NewProvider().
		AddEndpoint(speakersID, "Speakers", "HDAUDIO").
		AddEndpoint(headphonesID, "Headphones", "HDAUDIO")

	err := newTestDispatcher(provider).Apply(mixer.Command{Op: mixer.OpChangeAudioDevice, EndpointID: headphonesID})
	require.NoError(t, err)

	assert.Equal(t, []mixer.Role{mixer.RoleMultimedia, mixer.RoleCommunications, mixer.RoleConsole}, provider.DefaultSets)
	for _, role := range mixer.DefaultDeviceRoles {
		assert.Equal(t, headphonesID, provider.DefaultFor(role))
	}
}

func TestDispatcher_ChangeAudioDeviceTotalFailure(t *testing.T) {
	provider := mixertest.NewProvider().AddEndpoint(speakersID, "Speakers", "HDAUDIO")
	provider.FailDefaultFor[mixer.RoleMultimedia] = true

	err := newTestDispatcher(provider).Apply(mixer.Command{Op: mixer.OpChangeAudioDevice, EndpointID: speakersID})
	require.ErrorIs(t, err, mixertest.ErrInjected)

	var partial *mixer.PartialMutationError
	assert.False(t, errors.As(err, &partial))
	assert.Empty(t, provider.DefaultSets)
}

func TestDispatcher_ChangeAudioDevicePartialFailure(t *testing.T) {
	provider := mixertest.NewProvider().
		AddEndpoint(speakersID, "Speakers", "HDAUDIO").
		AddEndpoint(headphonesID, "Headphones", "HDAUDIO")
	provider.FailDefaultFor[mixer.RoleCommunications] = true

	err := newTestDispatcher(provider).Apply(mixer.Command{Op: mixer.OpChangeAudioDevice, EndpointID: headphonesID})

	var partial *mixer.PartialMutationError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []mixer.Role{mixer.RoleMultimedia}, partial.Applied)
	assert.Equal(t, mixer.RoleCommunications, partial.Failed)
	assert.ErrorIs(t, err, mixertest.ErrInjected)

	// console was never attempted
	assert.Equal(t, headphonesID, provider.DefaultFor(mixer.RoleMultimedia))
	assert.Equal(t, speakersID, provider.DefaultFor(mixer.RoleCommunications))
	assert.Equal(t, speakersID, provider.DefaultFor(mixer.RoleConsole))
}

func TestDispatcher_UnknownEndpoint(t *testing.T) {
	provider := mixertest.NewProvider().AddEndpoint(speakersID, "Speakers", "HDAUDIO")

	err := newTestDispatcher(provider).Apply(mixer.Command{Op: mixer.OpChangeAudioDevice, EndpointID: "nope"})
	assert.ErrorIs(t, err, mixer.ErrEndpointNotFound)
}

func TestDispatcher_MissingSession(t *testing.T) {
	dispatcher := newTestDispatcher(mixertest.NewProvider())

	assert.ErrorIs(t, dispatcher.Apply(mixer.Command{Op: mixer.OpSessionMute, PID: 1}), mixer.ErrSessionNotFound)
	assert.ErrorIs(t, dispatcher.Apply(mixer.Command{Op: mixer.OpSessionChange, PID: 1, Level: 5}), mixer.ErrSessionNotFound)
}

func TestDispatcher_UnknownOpcode(t *testing.T) {
	err := newTestDispatcher(mixertest.NewProvider()).Apply(mixer.Command{Op: "explode"})
	assert.ErrorIs(t, err, mixer.ErrUnknownOpcode)
}
