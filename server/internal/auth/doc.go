// Package auth provides authentication middleware for the cyberpulse server.
//
// APIKey(mode, header, key) returns HTTP middleware that validates the API key
// from the named request header. When mode != "apikey" or key == "", all
// requests pass through (useful for local development with auth disabled).
// A missing or incorrect key is rejected with 401 and a JSON error body.
package auth
