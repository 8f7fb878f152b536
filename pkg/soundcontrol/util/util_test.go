package util_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/util"
)

func TestScalarToPercent(t *testing.T) {
	assert.Equal(t, 55, util.ScalarToPercent(0.55))
	assert.Equal(t, 0, util.ScalarToPercent(0))
	assert.Equal(t, 100, util.ScalarToPercent(1))
	assert.Equal(t, 100, util.ScalarToPercent(1.3))
	assert.Equal(t, 0, util.ScalarToPercent(-0.2))

	for percent := 0; percent <= 100; percent++ {
		assert.Equal(t, percent, util.ScalarToPercent(util.PercentToScalar(percent)))
	}
}

func TestPercentToScalar_Clamps(t *testing.T) {
	assert.Equal(t, float32(0), util.PercentToScalar(-5))
	assert.Equal(t, float32(1), util.PercentToScalar(250))
	assert.InDelta(t, 0.37, util.PercentToScalar(37), 0.0001)
}

func TestIsPath(t *testing.T) {
	for _, path := range []string{`C:\Apps\foo.exe`, "d:/games/x.exe", `\\server\share\a.exe`, "/usr/bin/firefox"} {
		assert.True(t, util.IsPath(path), path)
	}

	for _, path := range []string{"", "foo.exe", "C:", "mute,12"} {
		assert.False(t, util.IsPath(path), path)
	}
}

func TestWriteFileAndFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "icon.ico")

	assert.False(t, util.FileExists(path))
	require.NoError(t, util.WriteFile(path, []byte{1, 2, 3}))
	assert.True(t, util.FileExists(path))
	assert.False(t, util.FileExists(dir))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, contents)
}
