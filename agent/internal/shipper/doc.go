// Package shipper sends project Reports to projectlens-server as JSON batches
// (POST /api/v1/reports).
//
// Shipper.Ship() is non-blocking: reports are placed in an in-memory channel
// (default capacity 1000). When the buffer is full the oldest entry is
// evicted so the latest analysis is always preserved.
//
// Shipper.Run() drains the buffer every ship_interval in batches of up to 100,
// backing off exponentially (1s→60s, ±25% jitter) while the server is
// unreachable or answers 5xx/429. Permanent rejections (400, 401, 403, 413)
// discard the batch immediately rather than retrying.
//
// Auth: API key in a configurable header, mTLS client certificates, or none.
//
// BuildReport and FailedReport flatten one analysis cycle into types.Report.
package shipper
