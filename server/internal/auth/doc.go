// Package auth provides authentication middleware for projectlens-server.
//
// APIKey(mode, header, key, exempt...) returns HTTP middleware that validates
// the API key from the named request header. Agents posting reports and API
// clients share the same key.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent,
// the middleware answers 401 immediately.
package auth
