package config

import "fmt"

// CurrentVersion is the configuration format this build understands.
const CurrentVersion = 1

// VersionError reports a configuration written for another format version.
type VersionError struct {
	Version int
	Current int
}

func (e *VersionError) Error() string {
	switch {
	case e.Version > e.Current:
		return fmt.Sprintf("config version %d is newer than this build supports (%d); upgrade franz", e.Version, e.Current)
	case e.Version <= 0:
		return fmt.Sprintf("config version %d is invalid; set version: %d", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is no longer supported (current: %d)", e.Version, e.Current)
}

// ValidateVersion accepts only CurrentVersion.
func ValidateVersion(version int) error {
	if version != CurrentVersion {
		return &VersionError{Version: version, Current: CurrentVersion}
	}
	return nil
}
