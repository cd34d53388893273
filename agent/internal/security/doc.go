// Package security inspects the TLS certificates served by the endpoints the
// agent talks to: the project-management API and projectlens-server. The
// agent's check command prints one CertStatus per endpoint.
package security
