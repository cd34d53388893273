// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort           port for the receiver, REST API and WebSocket hub (default 8080)
//   - Auth.Mode          "apikey" or "none"
//   - Auth.KeyEnv        environment variable holding the expected API key
//   - Auth.Header        HTTP header name (default "X-API-Key")
//   - Report.TTL         how long a project's latest report remains live (default 3h)
//   - BroadcastInterval  WebSocket push period (default 5s)
//   - Alerts             rules and webhook targets
//   - Storage            history backend ("sqlite"), path and retention (default 90 days)
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
