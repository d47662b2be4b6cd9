// Package hash computes the stable 64-bit content hash used for change
// detection across the daemon: snapshots, wait_for, await_change and
// await_settle all key off the value returned by Content.
package hash

import "github.com/cespare/xxhash/v2"

// Content returns a deterministic 64-bit hash of a grid's rendered text.
// Collisions are acceptable since callers only ever compare for equality,
// never rely on collision-resistance, but are extremely unlikely for the
// short, mostly-ASCII screens typical TUIs produce.
func Content(text string) uint64 {
	return xxhash.Sum64String(text)
}
