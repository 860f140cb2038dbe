package elevation

import "errors"

var (
	// ErrInvalidConfig wraps every configuration and parameter validation
	// failure.
	ErrInvalidConfig = errors.New("invalid map config")
	// ErrTransformLookupFailed is returned when the sensor->map transform
	// could not be resolved in time. The batch is abandoned.
	ErrTransformLookupFailed = errors.New("transform lookup failed")
	// ErrTransformBroadcastFailed marks a failed map transform broadcast.
	// It is logged and counted; the batch still runs.
	ErrTransformBroadcastFailed = errors.New("transform broadcast failed")
	// ErrPointTransformFailed is returned when the looked-up transform could
	// not be applied to the cloud. The batch is abandoned.
	ErrPointTransformFailed = errors.New("point cloud transform failed")
)
