package engine

import "fmt"

// chunkKey derives a deterministic per-chunk idempotency key from the base
// key, so a re-run of the same manifest replays already-completed chunks
// instead of re-executing them. With no base key, chunks carry no key.
//
// The request-level duplicate strategy is attached to every chunk as-is; an
// operation carrying its own duplicateStrategy field overrides it remotely.
func chunkKey(base string, index, total int) string {
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s:chunk:%d:of:%d", base, index, total)
}
