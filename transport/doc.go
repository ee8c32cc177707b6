// Package transport carries outbound provider HTTP calls: a bounded default
// client, a JSON REST client and the TokenInjector decorator that attaches a
// valid token to every request.
package transport
