package nav

import (
	"errors"

	"navtrack/internal/route"
)

// Position feed failures. They are recoverable: the tracker forwards them to
// error subscribers and stays active.
var (
	ErrPermissionDenied    = errors.New("position permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("position timeout")
)

// ErrInvalidRoute is returned by Start for a route that cannot be navigated.
var ErrInvalidRoute = route.ErrInvalidRoute

// ErrNotIdle is returned by Start on a tracker that was already started.
var ErrNotIdle = errors.New("tracker is not idle")

// Kind returns the stable wire name of err's class.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrPositionUnavailable):
		return "position_unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidRoute):
		return "invalid_route"
	default:
		return "unknown"
	}
}
