package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/raido/internal/apperr"
)

// LoadOptions control manifest composition.
type LoadOptions struct {
	// AllowMissingIDFiles downgrades missing idFiles entries from an
	// IDFILES_INCOMPLETE error to a recorded warning.
	AllowMissingIDFiles bool
}

// Document is a fully composed manifest: the flattened operation list in
// include-then-self order, plus the symbol table seeded from idFiles.
type Document struct {
	Path string

	// Root is the top-level manifest, which carries the idempotency key
	// and duplicate strategy for the whole apply.
	Root *Manifest

	// Ops is the flattened operation list in composition order.
	Ops []Operation

	// Seed maps pre-existing symbols (from idFiles) to real IDs.
	Seed map[string]string

	// Warnings records non-fatal composition notes, e.g. skipped idFiles.
	Warnings []string

	// Files lists every file the composition touched (manifests and
	// idFiles), absolute paths in load order.
	Files []string
}

// Load reads the manifest at path, recursively resolves its includes and
// idFiles, and returns the composed document. Include cycles fail with
// CIRCULAR_INCLUDE; schema violations are aggregated into an apperr.List
// with code INVALID_BOM.
func Load(path string, opts LoadOptions) (*Document, error) {
	l := &loader{
		opts:    opts,
		onStack: make(map[string]struct{}),
		seed:    make(map[string]string),
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: resolve %s: %w", path, err)
	}

	root, ops, err := l.compose(abs)
	if err != nil {
		return nil, err
	}
	if err := l.errs.Err(); err != nil {
		return nil, err
	}

	return &Document{
		Path:     abs,
		Root:     root,
		Ops:      ops,
		Seed:     l.seed,
		Warnings: l.warnings,
		Files:    l.files,
	}, nil
}

type loader struct {
	opts LoadOptions

	// stack is the current inclusion path, used for cycle reporting.
	stack    []string
	onStack  map[string]struct{}
	seed     map[string]string
	warnings []string
	files    []string
	errs     apperr.List
}

// compose loads one manifest file and merges its includes depth-first,
// returning the parsed manifest and the flattened operations of its
// transitive closure (includes first, own changes last).
func (l *loader) compose(abs string) (*Manifest, []Operation, error) {
	if _, ok := l.onStack[abs]; ok {
		cycle := append(append([]string{}, l.stack...), abs)
		return nil, nil, apperr.New(apperr.CodeCircularInclude,
			"circular include: %s", strings.Join(cycle, " -> "))
	}
	l.stack = append(l.stack, abs)
	l.onStack[abs] = struct{}{}
	defer func() {
		l.stack = l.stack[:len(l.stack)-1]
		delete(l.onStack, abs)
	}()

	m, err := parseFile(abs)
	if err != nil {
		return nil, nil, err
	}
	l.files = append(l.files, abs)
	if err := m.Validate(); err != nil {
		l.errs.Add(apperr.CodeInvalidBOM, "%s: %v", abs, err)
	}

	dir := filepath.Dir(abs)
	var ops []Operation

	for _, inc := range m.Includes {
		incAbs := resolveRelative(dir, inc)
		_, incOps, err := l.compose(incAbs)
		if err != nil {
			return nil, nil, err
		}
		ops = append(ops, incOps...)
	}

	for _, idf := range m.IDFiles {
		l.loadIDFile(resolveRelative(dir, idf))
	}

	for i := range m.Changes {
		op := &m.Changes[i]
		for _, shapeErr := range CheckShape(op) {
			l.errs.Add(apperr.CodeInvalidBOM, "%s: changes[%d]: %v", abs, i, shapeErr)
		}
	}
	ops = append(ops, m.Changes...)

	return m, ops, nil
}

// loadIDFile merges one side-car symbol file into the seed table. A missing
// file is IDFILES_INCOMPLETE unless the override is set; a symbol redefined
// with a different real ID is a DUPLICATE_SYMBOL conflict.
func (l *loader) loadIDFile(abs string) {
	l.files = append(l.files, abs)
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if l.opts.AllowMissingIDFiles {
				l.warnings = append(l.warnings, fmt.Sprintf("idFile %s missing, skipped", abs))
				return
			}
			l.errs.Add(apperr.CodeIDFilesIncomplete, "idFile %s does not exist", abs)
			return
		}
		l.errs.Add(apperr.CodeIDFilesIncomplete, "idFile %s: %v", abs, err)
		return
	}

	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		l.errs.Add(apperr.CodeInvalidBOM, "idFile %s: %v", abs, err)
		return
	}

	for sym, id := range entries {
		if existing, ok := l.seed[sym]; ok && existing != id {
			l.errs.Add(apperr.CodeDuplicateSymbol,
				"idFile %s redefines %q as %s (already %s)", abs, sym, id, existing)
			continue
		}
		l.seed[sym] = id
	}
}

func parseFile(abs string) (*Manifest, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", abs, err)
	}
	var m Manifest
	if err := strictUnmarshal(data, &m); err != nil {
		return nil, apperr.New(apperr.CodeInvalidBOM, "%s: %v", abs, err)
	}
	return &m, nil
}

func resolveRelative(dir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}
