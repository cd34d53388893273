// Package types defines the report payload shared by the agent and the
// server. The agent ships one Report per analysed project per cycle as JSON;
// the server stores, alerts on and serves the same struct.
package types
