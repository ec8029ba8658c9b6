// Package api is the HTTP client for the backend's auth endpoints.
//
// # Endpoints
//
//   - POST /auth/login    {"username", "password"} → {"access", "refresh", "user"}
//   - POST /auth/refresh  {"refresh"} → {"access", "refresh"?}
//   - POST /auth/logout   {"refresh"} with bearer auth
//
// # Errors
//
// Every failure is one of three typed errors, so callers can tell a network
// problem from a rejection:
//
//   - TransportError: the exchange did not complete (connection, timeout)
//   - RejectedError: the server answered non-2xx
//   - MalformedResponseError: a 2xx response without a usable body
//
// IsUnauthorized, IsRejected, IsTransport and IsMalformedResponse test for
// them through wrapping.
//
// # Authorized requests
//
// TokenSource exposes the stored credential as an oauth2.TokenSource.
// AuthorizedTransport builds on oauth2.Transport to add the bearer header
// and, on a 401 response, performs one coordinated refresh and retries the
// request once.
//
//	ts := api.NewTokenSource(ctx, store, coordinator, codec)
//	httpClient := &http.Client{
//		Transport: api.NewAuthorizedTransport(ts, coordinator, nil),
//	}
package api
