package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a 20-byte account address.
type Address = common.Address

// Hash is a 32-byte hash. It marshals to 0x-prefixed hex.
type Hash = common.Hash

// TxRequest is an unsigned transaction produced by an Encoder.
type TxRequest struct {
	To       Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64

	// Nonce is filled in by the transaction queue while the signer lock
	// is held.
	Nonce *uint64
}

// ReceiptStatus is the execution outcome of a mined transaction.
type ReceiptStatus int

const (
	ReceiptSuccess ReceiptStatus = iota + 1
	ReceiptReverted
)

// Receipt describes a mined transaction.
type Receipt struct {
	TxHash       Hash
	BlockNumber  uint64
	Status       ReceiptStatus
	RevertReason string
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool { return r != nil && r.Status == ReceiptSuccess }

// Ledger submits transactions and observes their receipts.
type Ledger interface {
	GetNonce(ctx context.Context, signer Address) (uint64, error)

	// SubmitTx sends req from signer and returns its hash without waiting.
	SubmitTx(ctx context.Context, signer Address, req TxRequest) (Hash, error)

	// GetTxReceipt returns the receipt for hash, or nil while it is pending.
	GetTxReceipt(ctx context.Context, hash Hash) (*Receipt, error)

	// WaitForConfirmation blocks until hash is mined with the configured
	// number of confirmations or ctx is done.
	WaitForConfirmation(ctx context.Context, hash Hash) (*Receipt, error)
}

// RevertError reports a mined transaction that reverted. It is not
// classified here: whether a given revert reason is a rule violation or a
// transient condition depends on the deployment.
type RevertError struct {
	TxHash Hash
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transaction %s reverted", e.TxHash.Hex())
	}
	return fmt.Sprintf("transaction %s reverted: %s", e.TxHash.Hex(), e.Reason)
}

// CheckReceipt turns a reverted receipt into a *RevertError.
func CheckReceipt(r *Receipt) error {
	if r == nil {
		return fmt.Errorf("chain: nil receipt")
	}
	if r.Status != ReceiptSuccess {
		return &RevertError{TxHash: r.TxHash, Reason: r.RevertReason}
	}
	return nil
}
