// Package dkg turns a set of evidence packages into a causal DAG and derives
// per-author contribution weights and merkle roots from it.
//
// Compute is a pure function. Its output depends only on the set of
// packages, never on the order they are supplied in, so two verifiers fed
// the same evidence always agree on weights and roots bit for bit. Clocks
// are derived from ancestry alone; timestamps are carried for
// VerifyCausality and the canonical package hash but never order the DAG.
//
// Weights use path counting: a node's weight is the number of distinct
// root-to-terminal paths passing through it, and an author's weight is the
// normalized sum over the nodes they authored.
package dkg
