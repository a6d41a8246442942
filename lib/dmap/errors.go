package dmap

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Code classifies the failures reported by a DMap
type Code uint8

const (
	CodeConfigError      Code = iota + 1 // required configuration missing or invalid, construction fails
	CodeValueInvalid                     // value rejected by set before any transaction starts
	CodeManifestConflict                 // more than one manifest entry or fragment where one is expected
	CodeFragmentMissing                  // a manifest entry references a fragment that does not exist
	CodeFragmentCorrupt                  // a fragment exists but its checksum does not match
)

func (c Code) String() string {
	switch c {
	case CodeConfigError:
		return "ConfigError"
	case CodeValueInvalid:
		return "ValueInvalid"
	case CodeManifestConflict:
		return "ManifestConflict"
	case CodeFragmentMissing:
		return "FragmentMissing"
	case CodeFragmentCorrupt:
		return "FragmentCorrupt"
	default:
		return "Unknown"
	}
}

// Error is returned for every failure the map detects itself.
// Failures of the underlying store are wrapped with fmt.Errorf instead.
// Key is the string form of the affected key (empty for config errors).
type Error struct {
	Code Code
	Key  string
	Msg  string
	Err  error // optional cause
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("dmap: %s: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("dmap: %s (key %q): %s", e.Code, e.Key, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, ErrFragmentMissing) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code Code, key, format string, args ...any) *Error {
	return &Error{Code: code, Key: key, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, key string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Key: key, Msg: fmt.Sprintf(format, args...) + ": " + err.Error(), Err: err}
}

// Sentinels for errors.Is
var (
	ErrConfig           = &Error{Code: CodeConfigError}
	ErrValueInvalid     = &Error{Code: CodeValueInvalid}
	ErrManifestConflict = &Error{Code: CodeManifestConflict}
	ErrFragmentMissing  = &Error{Code: CodeFragmentMissing}
	ErrFragmentCorrupt  = &Error{Code: CodeFragmentCorrupt}
)
