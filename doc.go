// Package social connects a user's social accounts (Twitter/X, Facebook,
// Instagram, LinkedIn) and publishes posts to them through one contract.
//
// Connecting:
//   - Connector.BeginAuth creates a single-use OAuthState through the
//     StateRegistry and asks the provider Adapter for its consent URL.
//     OAuth 1.0a providers round trip for a request token first; the token
//     secret travels inside the stored state, never to the browser.
//   - Connector.CompleteAuth consumes the state exactly once, lets the
//     adapter exchange the grant and saves every Connection of the returned
//     Grant. One Facebook login can yield a facebook and an instagram
//     Connection; each is stored as its own record.
//   - A state that is missing, expired or already consumed is a soft miss:
//     the callback answers OutcomeContinue instead of an error.
//
// Publishing:
//   - Publisher.Publish loads the Connection, short-circuits expired
//     credentials with token_expired, refreshes long-lived tokens inside
//     their refresh window, then drives the adapter's publish protocol.
//   - Every failure is a *PublishError carrying one ErrorKind of the
//     taxonomy. Provider 401s and token-invalid codes surface as
//     token_expired even when local bookkeeping thought the token valid.
//
// Status:
//   - StatusService reports connected/expired per provider and re-fetches
//     the live profile, falling back to the cached display fields.
//
// Storage is behind CredentialStore and StateStore; see the repository
// package for the bun implementation.
package social
