package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the backend reports a missing resource
	ErrNotFound = errors.New("not found")

	// ErrStaleReference marks an operation on a node or connection that no
	// longer exists locally. Mutations treat it as a no-op.
	ErrStaleReference = errors.New("stale reference")
)

// ValidationError is a rejected request detected before any network call
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Invalid builds a ValidationError
func Invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is or wraps a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// User-facing validation messages
const (
	MsgSelfLoop          = "Cannot connect a node to itself"
	MsgDuplicate         = "Connection already exists"
	MsgHandleOccupied    = "Target handle already has a connection"
	MsgMissingEndpoint   = "Connection endpoint does not exist"
	MsgConnectPrompt     = "connect a prompt node"
	MsgConnectVideo      = "connect a completed video"
	MsgMaxExtensions     = "Maximum 20 extensions reached"
	MsgStitchNeedsVideos = "connect at least two completed videos"
	MsgJobRunning        = "A job is already running for this node"
	MsgJobFailed         = "Generation failed"
	MsgJobNotFound       = "Job not found; it may have expired. Please generate again."
	MsgNoActiveJob       = "No active job found for this node. Please generate again."
)
