// Package evm implements the chain adapters against an Ethereum JSON-RPC
// node using go-ethereum.
//
// Ledger sends transactions with eth_sendTransaction and polls receipts.
// Signing is delegated to the node or a remote signer it fronts, so the
// signer address in a workflow must be an account the node can sign for.
// Encoder packs calldata from the bundled studio and rewards ABIs (or ABI
// files supplied at startup) and Probe answers the reconciler with view
// calls.
package evm
