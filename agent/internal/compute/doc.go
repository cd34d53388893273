// Package compute derives a project's health trend from consecutive analysis
// results.
//
// score.go provides the pure Compute(Input) function that calculates the
// composite health score (0–100):
// completion(40%) + not-stalled(25%) + not-unassigned(20%) + uptime(15%).
//
// engine.go provides the stateful Engine that keeps the previous result per
// project and derives the hours burn rate and completion delta between
// cycles. Engine.Process accepts an injectable time.Time so tests are
// deterministic.
//
// Health state thresholds: Healthy ≥85, Degraded 60–84, Critical <60, Unknown.
package compute
