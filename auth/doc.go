// Package auth holds the token endpoint mechanics shared by provider
// strategies: client-credential and authorization-code exchanges with Basic
// auth, and PKCE authorization URLs built with golang.org/x/oauth2.
package auth
