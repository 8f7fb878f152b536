package mixer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
)

func TestParseSessionIdentifier(t *testing.T) {
	id, err := mixer.ParseSessionIdentifier(`{g1}|\Device\HarddiskVolume2\Users\X\App\App.exe%b{g2}`)
	require.NoError(t, err)

	assert.Equal(t, "{g1}", id.Prefix)
	assert.Equal(t, `\Device\HarddiskVolume2\Users\X\App\App.exe`, id.DevicePath)
	assert.Equal(t, "b{g2}", id.Suffix)
	assert.Equal(t, "App", id.ExecutableName())
}

func TestParseSessionIdentifier_NoSuffix(t *testing.T) {
	id, err := mixer.ParseSessionIdentifier(`{g1}|\Device\HarddiskVolume3\Tools\tool.v2.exe`)
	require.NoError(t, err)

	assert.Equal(t, "", id.Suffix)
	assert.Equal(t, "tool.v2", id.ExecutableName())
}

func TestParseSessionIdentifier_UnixPath(t *testing.T) {
	id, err := mixer.ParseSessionIdentifier("pulse.sink-input.12|/usr/lib/firefox/firefox%b{12}")
	require.NoError(t, err)

	assert.Equal(t, "firefox", id.ExecutableName())
	assert.Equal(t, "", mixer.RelativeDevicePath(id.DevicePath))
}

func TestParseSessionIdentifier_Malformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"{g1}",
		`{g1}\Device\HarddiskVolume2\App.exe`,
		"{g1}|%b{g2}",
	} {
		_, err := mixer.ParseSessionIdentifier(raw)
		assert.ErrorIs(t, err, mixer.ErrMalformedIdentifier, raw)
	}
}

func TestRelativeDevicePath(t *testing.T) {
	tests := []struct {
		devicePath string
		expected   string
	}{
		{`\Device\HarddiskVolume2\Users\X\App\App.exe`, `\Users\X\App\App.exe`},
		{`\Device\HarddiskVolume2\App.exe`, `\App.exe`},
		{`\Device\HarddiskVolume2`, ""},
		{`\Device\HarddiskVolume2\`, ""},
		{"App.exe", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, mixer.RelativeDevicePath(tt.devicePath), tt.devicePath)
	}
}
