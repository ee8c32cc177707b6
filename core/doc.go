// Package core contains the credential lifecycle contracts, entities, and
// orchestration logic for banking providers. Storage, cache, transport, and
// provider adapters depend on this package; core must not depend on any of
// them.
package core
