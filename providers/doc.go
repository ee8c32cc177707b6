// Package providers holds the pieces shared by the bank strategies under
// providers/: injected dependencies, the token-injecting data client and small
// wire decoding helpers.
package providers
