// Package grid owns the elevation grid and the numerics that run on it.
//
// Responsibilities: the five cell layers (elevation, variance, varianceX,
// varianceY, color) and their shared dimensions, the continuous position to
// cell index mapping, the per-point Kalman-style fusion and the per-batch
// process-noise growth.
// Key types: Grid, Index, Position, Length.
//
// The package does no locking and no I/O. Callers serialise access; see
// internal/elevation for the owner that does.
package grid
