// Package signature authenticates Unity Cloud Build webhook deliveries.
//
// UCB signs the raw request body with HMAC-SHA256 using the shared secret
// and sends the digest as upper-case hex. Comparison is case-insensitive and
// constant-time.
package signature
