// Package symtab maintains the symbolic-ID to real-ID table that accumulates
// across chunks of one apply, and persists it to a side-car file for future
// invocations.
package symtab

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/manifest"
	"github.com/starford/raido/internal/remote"
)

// Table maps symbols to real IDs. Entries only ever grow; a key is never
// removed or reassigned. Not safe for concurrent use (one apply owns one
// table).
type Table struct {
	m map[string]string
}

// New creates a table pre-seeded from idFile entries. The seed map is copied.
func New(seed map[string]string) *Table {
	t := &Table{m: make(map[string]string, len(seed))}
	for k, v := range seed {
		t.m[k] = v
	}
	return t
}

// Resolve returns the real ID for a symbol, if known.
func (t *Table) Resolve(sym string) (string, bool) {
	id, ok := t.m[sym]
	return id, ok
}

// Define records a new symbol mapping. Redefining a symbol with the same
// value is a no-op; redefining it with a different value is a conflict.
func (t *Table) Define(sym, id string) error {
	if existing, ok := t.m[sym]; ok {
		if existing == id {
			return nil
		}
		return apperr.New(apperr.CodeDuplicateSymbol,
			"symbol %q already resolved to %s, remote returned %s", sym, existing, id)
	}
	t.m[sym] = id
	return nil
}

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.m) }

// Snapshot returns a copy of the current mapping.
func (t *Table) Snapshot() map[string]string {
	out := make(map[string]string, len(t.m))
	for k, v := range t.m {
		out[k] = v
	}
	return out
}

// Substitute rewrites every reference field in ops whose value is a resolved
// symbol to its real ID, in place. Unresolved symbols are left untouched:
// the reference validator has already rejected ordering violations, so a
// remaining symbol either resolves with a later chunk or fails remotely.
func (t *Table) Substitute(ops []manifest.Operation) {
	for i := range ops {
		op := &ops[i]
		spec, ok := manifest.SpecFor(op.Op)
		if !ok {
			continue
		}
		for _, ref := range spec.Refs {
			field := op.RefField(ref.Field)
			if *field == "" || manifest.IsRealID(*field) {
				continue
			}
			if id, ok := t.m[*field]; ok {
				*field = id
			}
		}
	}
}

// Extract pulls new symbol mappings out of completed chunk result rows.
// A row contributes when it carries a tempId and at least one realized-ID
// field; the fields are consulted in a fixed priority order.
func (t *Table) Extract(rows []remote.OperationResult) error {
	for _, row := range rows {
		if row.TempID == "" {
			continue
		}
		id := firstRealized(row)
		if id == "" {
			continue
		}
		if err := t.Define(row.TempID, id); err != nil {
			return err
		}
	}
	return nil
}

// firstRealized returns the first populated realized-ID field, checked in
// priority order: generic real ID, then kind-specific IDs.
func firstRealized(row remote.OperationResult) string {
	for _, id := range []string{row.RealID, row.VisualID, row.NoteID, row.GroupID, row.ViewID} {
		if id != "" {
			return id
		}
	}
	return ""
}

// SaveSidecar writes the table as a flat JSON object. Keys marshal in sorted
// order, so side-car files diff cleanly between runs. The write is atomic
// (temp file + rename).
func (t *Table) SaveSidecar(path string) error {
	data, err := json.MarshalIndent(t.m, "", "  ")
	if err != nil {
		return fmt.Errorf("symtab: marshal: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("symtab: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("symtab: rename: %w", err)
	}
	return nil
}
