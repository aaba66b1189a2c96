// Package chain defines the narrow interfaces the gateway consumes from the
// ledger: transaction submission, per-workflow state probes and calldata
// encoders. It also holds the hashing helpers shared by the workflow steps
// and the DKG engine.
//
// Implementations live in subpackages: evm talks JSON-RPC to an Ethereum
// node, chaintest provides recording fakes for tests.
package chain
