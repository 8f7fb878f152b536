package mixer

import (
	"go.uber.org/zap"
)

// DefaultDrives are searched in order when locating an executable by its device path
var DefaultDrives = []string{"C:", "D:", "E:", "F:"}

// IconLoader extracts the icon associated with a file. A nil Icon with a nil
// error means the file exists but has no icon
type IconLoader interface {
	LoadIcon(path string) (Icon, error)
}

// IconLocator finds the icon of an executable whose drive letter is unknown
type IconLocator struct {
	logger *zap.SugaredLogger
	loader IconLoader
	drives []string
}

// NewIconLocator creates an IconLocator searching the given drives in order.
// An empty drive list falls back to DefaultDrives
func NewIconLocator(logger *zap.SugaredLogger, loader IconLoader, drives []string) *IconLocator {
	if len(drives) == 0 {
		drives = DefaultDrives
	}

	return &IconLocator{
		logger: logger.Named("icons"),
		loader: loader,
		drives: append([]string(nil), drives...),
	}
}

// Candidates lists the paths tried for a device path, in order
func (l *IconLocator) Candidates(devicePath string) []string {
	relativePath := RelativeDevicePath(devicePath)
	if relativePath == "" {
		return nil
	}

	candidates := make([]string, 0, len(l.drives))
	for _, drive := range l.drives {
		candidates = append(candidates, drive+relativePath)
	}

	return candidates
}

// Locate returns the icon of the first candidate that yields one, or nil.
// A failure to load is never reported to the caller
func (l *IconLocator) Locate(devicePath string) Icon {
	for _, candidate := range l.Candidates(devicePath) {
		if icon := l.Lookup(candidate); icon != nil {
			return icon
		}
	}

	return nil
}

// Lookup loads the icon of exactly one path, or returns nil
func (l *IconLocator) Lookup(path string) Icon {
	if l.loader == nil || path == "" {
		return nil
	}

	icon, err := l.loader.LoadIcon(path)
	if err != nil {
		l.logger.Debugw("No icon for path", "path", path, "error", err)
		return nil
	}

	if len(icon) == 0 {
		return nil
	}

	return icon
}
