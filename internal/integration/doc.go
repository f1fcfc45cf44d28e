// Package integration runs the Google gateway and the deck sync flow against
// the live Google Slides and Drive APIs.
//
// The tests are skipped unless INTEGRATION_TEST is set:
//
//	INTEGRATION_TEST=1 go test -v ./internal/integration/...
//
// # Required Environment Variables
//
//   - INTEGRATION_TEST: Set to "1" to enable integration tests
//   - GOOGLE_CLIENT_ID: OAuth2 client ID
//   - GOOGLE_CLIENT_SECRET: OAuth2 client secret
//   - GOOGLE_REFRESH_TOKEN: Refresh token granted the presentations and drive scopes
//
// Presentations created by a test are moved to the Drive trash when it ends.
package integration
