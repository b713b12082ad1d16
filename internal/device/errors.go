package device

import "fmt"

// Stage names the step of the device bridge that failed.
type Stage uint8

const (
	StageSerialize Stage = iota + 1
	StageCompile
	StageLoad
	StageCache
)

func (s Stage) String() string {
	switch s {
	case StageSerialize:
		return "serialize"
	case StageCompile:
		return "compile"
	case StageLoad:
		return "load"
	case StageCache:
		return "cache"
	default:
		return "unknown"
	}
}

// Error wraps a failure of the external device toolchain. It is never
// retried.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("device %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
