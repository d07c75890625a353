// Package refcheck statically validates symbolic references in a composed
// manifest: definition-before-use ordering, namespace discipline between
// concept and visual symbols, and symbol uniqueness. It collects every
// violation instead of stopping at the first one; execution must never
// proceed on an invalid manifest.
package refcheck

import (
	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/manifest"
)

// Check runs a single forward pass over ops. seed holds pre-loaded idFile
// symbols, which are exempt from ordering checks (their namespace is
// unknowable from a flat ID file, so they satisfy either namespace).
func Check(ops []manifest.Operation, seed map[string]string) apperr.List {
	var errs apperr.List

	concept := make(map[string]struct{})
	visual := make(map[string]struct{})

	// Delete-style operations may reference symbols defined anywhere in the
	// manifest, including later; pre-scan the full definition sets for them.
	allConcept := make(map[string]struct{})
	allVisual := make(map[string]struct{})
	for i := range ops {
		op := &ops[i]
		spec, ok := manifest.SpecFor(op.Op)
		if !ok || op.TempID == "" {
			continue
		}
		switch spec.Defines {
		case manifest.NamespaceConcept:
			allConcept[op.TempID] = struct{}{}
		case manifest.NamespaceVisual:
			allVisual[op.TempID] = struct{}{}
		}
	}

	defined := func(sym string, ns manifest.Namespace, anyOrder bool) bool {
		if _, ok := seed[sym]; ok {
			return true
		}
		c, v := concept, visual
		if anyOrder {
			c, v = allConcept, allVisual
		}
		switch ns {
		case manifest.NamespaceConcept:
			_, ok := c[sym]
			return ok
		case manifest.NamespaceVisual:
			_, ok := v[sym]
			return ok
		}
		return false
	}

	inOther := func(sym string, ns manifest.Namespace) bool {
		switch ns {
		case manifest.NamespaceConcept:
			_, ok := allVisual[sym]
			return ok
		case manifest.NamespaceVisual:
			_, ok := allConcept[sym]
			return ok
		}
		return false
	}

	for i := range ops {
		op := &ops[i]
		spec, ok := manifest.SpecFor(op.Op)
		if !ok {
			// Unknown kinds are already rejected by the loader.
			continue
		}

		for _, ref := range spec.Refs {
			val := *op.RefField(ref.Field)
			if val == "" || manifest.IsRealID(val) {
				continue
			}
			if defined(val, ref.Namespace, spec.DeleteStyle) {
				continue
			}
			if inOther(val, ref.Namespace) {
				errs.AddErr(apperr.New(apperr.CodeNamespaceMismatch,
					"changes[%d] %s.%s: %q is a %s symbol but a %s symbol is required%s",
					i, op.Op, ref.Field, val, otherNamespace(ref.Namespace), ref.Namespace,
					namespaceHint(ref.Namespace)))
				continue
			}
			errs.AddErr(apperr.New(apperr.CodeInvalidBOM,
				"changes[%d] %s.%s: symbol %q is not defined by any earlier operation",
				i, op.Op, ref.Field, val))
		}

		if spec.Defines != manifest.NamespaceNone && op.TempID != "" {
			if dup := defineSymbol(op.TempID, spec.Defines, seed, concept, visual); dup {
				errs.AddErr(apperr.New(apperr.CodeDuplicateSymbol,
					"changes[%d] %s: tempId %q is already defined", i, op.Op, op.TempID))
			}
		}
	}

	return errs
}

// defineSymbol records a new symbol definition, reporting true when the
// symbol already exists in either namespace or the idFile seed.
func defineSymbol(sym string, ns manifest.Namespace, seed map[string]string, concept, visual map[string]struct{}) bool {
	if _, ok := seed[sym]; ok {
		return true
	}
	if _, ok := concept[sym]; ok {
		return true
	}
	if _, ok := visual[sym]; ok {
		return true
	}
	if ns == manifest.NamespaceConcept {
		concept[sym] = struct{}{}
	} else {
		visual[sym] = struct{}{}
	}
	return false
}

func otherNamespace(ns manifest.Namespace) manifest.Namespace {
	if ns == manifest.NamespaceConcept {
		return manifest.NamespaceVisual
	}
	return manifest.NamespaceConcept
}

func namespaceHint(want manifest.Namespace) string {
	switch want {
	case manifest.NamespaceVisual:
		return " (use the placement operation's tempId, not the concept's tempId, for a visual endpoint)"
	case manifest.NamespaceConcept:
		return " (use the concept's tempId, not the placement operation's tempId)"
	default:
		return ""
	}
}
