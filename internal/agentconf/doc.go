// Package agentconf merges and splits agent configuration documents.
//
// A Pair ties an agent to its three documents: the library baseline, the
// project override file and the runtime file the agent reads. Merge
// writes baseline+project to runtime; Split writes runtime-baseline back
// to the project file. Both decode through an Adapter (JSON or TOML),
// operate on confmodel documents, and replace their destination with an
// atomic write so a failure never leaves a truncated file behind.
//
// Merge and Split on the same pair serialize through a lock file next to
// the runtime document. A lock held longer than the lock timeout is
// removed with a warning and taken over.
package agentconf
