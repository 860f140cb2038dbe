// Package elevation runs the elevation mapping node: it owns the grid,
// fuses incoming point clouds into it, keeps the map frame transform fresh
// and hands snapshots to subscribers.
//
// All grid mutation happens under a single lock held by Map. Two producers
// feed it: point-cloud batches (AddPointCloud) and the freshness Watchdog.
package elevation
