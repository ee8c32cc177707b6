// Package cache holds the TokenCache backends. memcache keeps entries in
// process through ristretto; rediscache shares them across instances.
package cache
