package mcpserver

// ManifestFormatContract describes the canonical change-manifest format that
// LLM consumers should follow when composing manifests.
const ManifestFormatContract = `# Raido Change-Manifest Contract

A manifest is a JSON document describing an ordered set of changes to apply
to the modeling service. Operations may refer to not-yet-created things
through caller-chosen symbols (tempIds).

## Document structure

` + "```" + `json
{
  "version": "1",
  "description": "optional human summary",
  "includes": ["shared/base-layer.json"],
  "idFiles": ["shared/base-layer.json.ids.json"],
  "idempotencyKey": "release-42",
  "duplicateStrategy": "reuse",
  "changes": [
    { "op": "createElement", "tempId": "e-app", "type": "application-component", "name": "Billing" },
    { "op": "createElement", "tempId": "e-db", "type": "data-store", "name": "Billing DB" },
    { "op": "createRelationship", "tempId": "r-uses", "type": "access", "source": "e-app", "target": "e-db" },
    { "op": "createView", "tempId": "v-main", "name": "Billing overview" },
    { "op": "addElementToView", "tempId": "va-app", "view": "v-main", "element": "e-app",
      "bounds": { "x": 40, "y": 40, "width": 160, "height": 80 } },
    { "op": "addElementToView", "tempId": "va-db", "view": "v-main", "element": "e-db" },
    { "op": "addRelationshipToView", "tempId": "vc-uses", "view": "v-main",
      "relationship": "r-uses", "sourceVisual": "va-app", "targetVisual": "va-db" }
  ]
}
` + "```" + `

## Rules

1. **version is required.** Use "1".
2. **Symbols (tempIds) live in two disjoint namespaces.** Concept symbols
   name elements, relationships, folders, and views. Visual symbols name
   on-view placements, notes, groups, and connections. A connection endpoint
   needs the *placement* operation's tempId (visual), never the element's
   tempId (concept).
3. **Define before use.** A symbol must be defined by an earlier operation
   (or come from an idFile) before anything references it. Delete-style
   operations are exempt.
4. **Real IDs** (the service's own ` + "`" + `id-...` + "`" + ` identifiers) may be used
   anywhere a reference is expected and skip ordering checks.
5. **includes** compose other manifests depth-first, includes before own
   changes. Include cycles are rejected.
6. **idFiles** seed the symbol table from earlier applies. After every apply
   a side-car ` + "`" + `<manifest>.ids.json` + "`" + ` is written; list it here to keep
   referring to the same concepts across sessions.
7. **idempotencyKey** (up to 128 chars of ` + "`" + `A-Za-z0-9._:-` + "`" + `) makes re-runs
   replay instead of re-execute. Reusing a key with a different payload is
   rejected.
8. **duplicateStrategy** is one of ` + "`" + `error` + "`" + `, ` + "`" + `reuse` + "`" + `, ` + "`" + `rename` + "`" + `.
   An individual operation may carry its own override.
9. **Unknown fields are rejected.** Each operation kind has a fixed set of
   allowed fields; run validate_manifest before applying.

## Operation kinds

Concept: createElement, updateElement, deleteElement, createRelationship,
updateRelationship, deleteRelationship, createFolder, deleteFolder,
moveToFolder, createView, updateView, deleteView.

Visual: addElementToView, addRelationshipToView, nestElement, moveVisual,
resizeVisual, styleVisual, styleConnection, addNote, addGroup,
removeFromView.
`
