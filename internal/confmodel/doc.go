// Package confmodel is the format-neutral representation of agent
// configuration documents.
//
// A document is a Mapping whose values are Scalars, Lists or nested
// Mappings. Adapters in package agentconf convert JSON and TOML to and
// from this model; Merge and Diff operate on it without knowing which
// agent or format the document came from.
//
// # Merge
//
// Merge(baseline, project, preserved) overlays project on baseline.
// Scalars and lists in project replace the baseline value, mappings are
// merged key by key, and keys named in preserved are taken whole from
// project when present there.
//
// # Diff
//
// Diff(runtime, baseline, preserved) is the inverse: it keeps only the
// runtime values that differ from baseline, recursing into mappings, and
// always keeps the preserved keys. For any minimal project document P:
//
//	Merge(B, Diff(Merge(B, P), B, keys), keys) == Merge(B, P)
//
// Removal of a baseline key cannot be expressed as a difference; the key
// reappears on the next merge.
package confmodel
