// Package cwclient is the rate-governed fetch layer for the ConnectWise
// Manage REST API.
//
// Layers, bottom up:
//   - Pool (transport.go) owns the keep-alive connections and injects the
//     company+public:private basic auth and ClientID headers
//   - Executor (executor.go) paces every attempt through a shared limiter,
//     applies the per-attempt timeout and the retry policy (429 absorbed via
//     Retry-After; 5xx and timeouts share a budget of three attempts)
//   - BuildParams (query.go) produces the page/pageSize/fields/orderBy/
//     conditions wire parameters
//   - Client (fetch.go) holds the typed per-resource accessors
//
// Membership filters (project/id=N, chargeToId=N AND chargeToType="Project",
// identifier IN (...)) are sent as the verbatim condition strings the remote
// API expects.
//
// Errors carry one of ErrInvalidArgument, ErrRequestFailed,
// ErrTransportFailure or ErrCancelled; *RequestError has the status, body and
// attempt count.
package cwclient
