package mixer

import (
	"errors"
	"fmt"
	"strings"
)

const (
	identifierPathSeparator   = "|"
	identifierSuffixSeparator = "%"

	devicePathSeparator = `\`

	// \Device\HarddiskVolume2 splits into "", "Device" and "HarddiskVolume2"
	devicePrefixSegments = 3
)

// ErrMalformedIdentifier is returned when a session identifier has no device path
var ErrMalformedIdentifier = errors.New("malformed session identifier")

// SessionIdentifier is the parsed form of an opaque session identifier, shaped
// prefix|devicepath%suffix, e.g.
// {0.0.0.00000000}.{guid}|\Device\HarddiskVolume2\Apps\foo.exe%b{guid}
type SessionIdentifier struct {
	Prefix     string
	DevicePath string
	Suffix     string
}

// ParseSessionIdentifier splits an identifier into its three parts. Only the
// segment following the first separator is considered for the device path
func ParseSessionIdentifier(raw string) (SessionIdentifier, error) {
	segments := strings.Split(raw, identifierPathSeparator)
	if len(segments) < 2 {
		return SessionIdentifier{}, fmt.Errorf("%w: no %q in %q", ErrMalformedIdentifier, identifierPathSeparator, raw)
	}

	devicePath, suffix, _ := strings.Cut(segments[1], identifierSuffixSeparator)
	if devicePath == "" {
		return SessionIdentifier{}, fmt.Errorf("%w: empty device path in %q", ErrMalformedIdentifier, raw)
	}

	return SessionIdentifier{
		Prefix:     segments[0],
		DevicePath: devicePath,
		Suffix:     suffix,
	}, nil
}

// ExecutableName is the file name of the device path without its extension
func (id SessionIdentifier) ExecutableName() string {
	return fileNameWithoutExtension(id.DevicePath)
}

// RelativeDevicePath drops the device/volume prefix from a device path, leaving a
// path that starts with a separator and can be appended to a drive letter.
// Returns an empty string if nothing is left
func RelativeDevicePath(devicePath string) string {
	segments := strings.Split(devicePath, devicePathSeparator)
	if len(segments) <= devicePrefixSegments {
		return ""
	}

	relative := segments[devicePrefixSegments:]
	if strings.Join(relative, "") == "" {
		return ""
	}

	return devicePathSeparator + strings.Join(relative, devicePathSeparator)
}

// accepts both separators so identifiers built from unix paths resolve too
func fileNameWithoutExtension(path string) string {
	name := path
	if idx := strings.LastIndexAny(name, `\/`); idx >= 0 {
		name = name[idx+1:]
	}

	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[:idx]
	}

	return name
}
