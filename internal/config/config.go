package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigError reports invalid startup arguments. It is fatal: the
// process never begins a sync loop with a bad configuration.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Config holds everything the synchronizer needs at startup. Source,
// Replica and LogPath may be given as relative paths; Validate resolves
// them to absolute paths so behavior does not depend on the working
// directory.
type Config struct {
	Source      string
	Replica     string
	Interval    int // seconds between cycles
	LogPath     string
	LogLevel    string
	JournalPath string
	Once        bool
}

// Validate resolves paths and checks every field, returning a
// ConfigError on the first problem found.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return &ConfigError{Field: "interval", Err: fmt.Errorf("must be a positive number of seconds, got %d", c.Interval)}
	}

	var err error
	if c.Source, err = filepath.Abs(c.Source); err != nil {
		return &ConfigError{Field: "source", Err: err}
	}
	if c.Replica, err = filepath.Abs(c.Replica); err != nil {
		return &ConfigError{Field: "replica", Err: err}
	}
	if c.LogPath, err = filepath.Abs(c.LogPath); err != nil {
		return &ConfigError{Field: "log path", Err: err}
	}
	if c.JournalPath != "" {
		if c.JournalPath, err = filepath.Abs(c.JournalPath); err != nil {
			return &ConfigError{Field: "journal path", Err: err}
		}
	}

	info, err := os.Stat(c.Source)
	if err != nil {
		return &ConfigError{Field: "source", Err: err}
	}
	if !info.IsDir() {
		return &ConfigError{Field: "source", Err: fmt.Errorf("%s is not a directory", c.Source)}
	}

	if c.Source == c.Replica {
		return &ConfigError{Field: "replica", Err: fmt.Errorf("source and replica are the same directory")}
	}
	// A nested replica would make the mirror copy itself on every
	// cycle; a nested source would be deleted as extraneous.
	if isNested(c.Source, c.Replica) {
		return &ConfigError{Field: "replica", Err: fmt.Errorf("replica %s is inside source %s", c.Replica, c.Source)}
	}
	if isNested(c.Replica, c.Source) {
		return &ConfigError{Field: "source", Err: fmt.Errorf("source %s is inside replica %s", c.Source, c.Replica)}
	}

	return nil
}

func isNested(parent, child string) bool {
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
