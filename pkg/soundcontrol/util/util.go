package util

import (
	"fmt"
	"math"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// EnsureDirExists creates the given directory path if it doesn't already exist
func EnsureDirExists(path string) error {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("ensure directory exists (%s): %w", path, err)
	}

	return nil
}

// FileExists checks if a file exists and is not a directory before we
// try using it to prevent further errors.
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}

	return !info.IsDir()
}

// WriteFile writes contents to path, creating its parent directory first
func WriteFile(path string, contents []byte) error {
	if err := EnsureDirExists(filepath.Dir(path)); err != nil {
		return err
	}

	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return fmt.Errorf("write file (%s): %w", path, err)
	}

	return nil
}

// Linux returns true if we're running on Linux
func Linux() bool {
	return runtime.GOOS == "linux"
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS
func SetupCloseHandler() chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	return c
}

// DumpAllGoroutines writes stack traces of all goroutines to the logger
func DumpAllGoroutines(logger *zap.SugaredLogger) {
	buf := make([]byte, 1024*1024)
	n := runtime.Stack(buf, true)
	logger.Errorw("All goroutines stack trace", "stack", string(buf[:n]))
}

// OpenExternal spawns a detached window with the provided command and argument
func OpenExternal(logger *zap.SugaredLogger, cmd string, arg string) error {

	// use cmd for windows, bash for linux
	execCommandArgs := []string{"cmd.exe", "/C", "start", "/b", cmd, arg}
	if Linux() {
		execCommandArgs = []string{"/bin/bash", "-c", fmt.Sprintf("%s %s", cmd, arg)}
	}

	command := exec.Command(execCommandArgs[0], execCommandArgs[1:]...)

	if err := command.Run(); err != nil {
		logger.Warnw("Failed to spawn detached process",
			"command", cmd,
			"argument", arg,
			"error", err)

		return fmt.Errorf("spawn detached proc: %w", err)
	}

	return nil
}

// ScalarToPercent converts a 0..1 volume scalar into an integer percentage.
// Rounds rather than truncates, since 0.55 is stored as 0.54999...
func ScalarToPercent(v float32) int {
	percent := int(math.Round(float64(v) * 100))

	if percent < 0 {
		return 0
	}

	if percent > 100 {
		return 100
	}

	return percent
}

// PercentToScalar converts a percentage into a 0..1 volume scalar, clamping out-of-range input
func PercentToScalar(percent int) float32 {
	if percent <= 0 {
		return 0
	}

	if percent >= 100 {
		return 1
	}

	return float32(percent) / 100
}

var (
	windowsDrivePathRegex = regexp.MustCompile(`^[A-Za-z]:[/\\]`)
	uncPathRegex          = regexp.MustCompile(`^[/\\]{2}[^/\\]+[/\\]`)
)

// IsPath checks if a string looks like an absolute file path
func IsPath(s string) bool {
	// C:\ or C:/
	if windowsDrivePathRegex.MatchString(s) {
		return true
	}

	// \\server\share or //server/share
	if uncPathRegex.MatchString(s) {
		return true
	}

	return strings.HasPrefix(s, "/")
}
