package sync

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError marks a condition that makes the pass untrustworthy
// (bad schema, duplicate identity, unmapped required vocabulary). It is
// fatal for the repository set: the pass aborts before any write.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DuplicateKeyError reports two records on the same side resolving to one
// key. Merging them silently would corrupt the match, so indexing aborts.
type DuplicateKeyError struct {
	Key     Key
	System  System
	Natives []string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %q on %s side (records %s)",
		e.Key, e.System, strings.Join(e.Natives, ", "))
}

// MappingError reports a native value with no entry in the configured
// vocabulary. The unmapped literal is always named; values are never
// guessed or dropped silently.
type MappingError struct {
	Field   string
	Literal string
	Allowed []string
}

func (e *MappingError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid option for %s: %q", e.Field, e.Literal)
	}
	return fmt.Sprintf("invalid option for %s: %q (must be one of %s)",
		e.Field, e.Literal, strings.Join(e.Allowed, ", "))
}

// ApplyError wraps a failed write. It is recorded against the one record it
// concerns and never aborts the rest of the batch. Transient causes are
// worth retrying on the next scheduled pass.
type ApplyError struct {
	Key       Key
	Transient bool
	Err       error
}

func (e *ApplyError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("apply failed for %s (%s): %v", e.Key, kind, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// IsFatal reports whether err should abort the repository-set pass.
func IsFatal(err error) bool {
	var cfg *ConfigurationError
	var dup *DuplicateKeyError
	return errors.As(err, &cfg) || errors.As(err, &dup)
}
