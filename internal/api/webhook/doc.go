// Package webhook is the HTTP boundary receiving Unity Cloud Build
// notifications.
//
// A delivery is authenticated, parsed and handed to a Dispatcher; the answer
// is sent before any download starts. Unauthenticated deliveries get 403,
// deliveries for other events get 200 with {"ok":false} so UCB does not
// retry them, and a saturated pipeline gets 503.
package webhook
