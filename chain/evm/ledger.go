package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/chain"
)

var _ chain.Ledger = (*Ledger)(nil)

// Ledger talks to an Ethereum JSON-RPC node. Transactions go out through
// eth_sendTransaction, so signing happens in the node or a remote signer
// behind it; the gateway never holds keys.
type Ledger struct {
	rpc           *rpc.Client
	eth           *ethclient.Client
	confirmations uint64
	pollInterval  time.Duration
	logger        *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithConfirmations sets how many blocks, counting the inclusion block,
// must exist before a receipt counts as confirmed. Defaults to 1.
func WithConfirmations(n uint64) Option {
	return func(l *Ledger) { l.confirmations = n }
}

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(l *Ledger) { l.pollInterval = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Ledger, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", url, err)
	}
	return NewLedger(c, opts...), nil
}

// NewLedger wraps an existing RPC client.
func NewLedger(c *rpc.Client, opts ...Option) *Ledger {
	l := &Ledger{
		rpc:           c,
		eth:           ethclient.NewClient(c),
		confirmations: 1,
		pollInterval:  2 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.confirmations < 1 {
		l.confirmations = 1
	}
	return l
}

// Client exposes the underlying ethclient, which also satisfies Caller.
func (l *Ledger) Client() *ethclient.Client { return l.eth }

// Close closes the RPC connection.
func (l *Ledger) Close() { l.rpc.Close() }

// GetNonce returns the pending nonce of signer.
func (l *Ledger) GetNonce(ctx context.Context, signer chain.Address) (uint64, error) {
	n, err := l.eth.PendingNonceAt(ctx, signer)
	if err != nil {
		return 0, unavailable(fmt.Sprintf("pending nonce for %s", signer.Hex()), err)
	}
	return n, nil
}

type sendArgs struct {
	From  chain.Address   `json:"from"`
	To    *chain.Address  `json:"to,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
	Nonce *hexutil.Uint64 `json:"nonce,omitempty"`
}

// SubmitTx sends req from signer and returns the transaction hash.
func (l *Ledger) SubmitTx(ctx context.Context, signer chain.Address, req chain.TxRequest) (chain.Hash, error) {
	args := sendArgs{From: signer, To: &req.To, Data: req.Data}
	if req.Value != nil {
		args.Value = (*hexutil.Big)(req.Value)
	}
	if req.GasLimit > 0 {
		g := hexutil.Uint64(req.GasLimit)
		args.Gas = &g
	}
	if req.Nonce != nil {
		n := hexutil.Uint64(*req.Nonce)
		args.Nonce = &n
	}

	var hash chain.Hash
	if err := l.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		var rerr rpc.Error
		if !errors.As(err, &rerr) {
			return chain.Hash{}, unavailable("send transaction", err)
		}
		return chain.Hash{}, fmt.Errorf("evm: send transaction: %w", withRevertReason(err))
	}
	l.logger.Debug("transaction sent",
		slog.String("signer", signer.Hex()),
		slog.String("to", req.To.Hex()),
		slog.String("tx_hash", hash.Hex()),
	)
	return hash, nil
}

// GetTxReceipt returns the receipt of hash, or nil while it is pending.
func (l *Ledger) GetTxReceipt(ctx context.Context, hash chain.Hash) (*chain.Receipt, error) {
	r, err := l.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("receipt "+hash.Hex(), err)
	}

	out := &chain.Receipt{TxHash: hash, BlockNumber: r.BlockNumber.Uint64(), Status: chain.ReceiptSuccess}
	if r.Status != types.ReceiptStatusSuccessful {
		out.Status = chain.ReceiptReverted
		out.RevertReason = l.revertReason(ctx, hash, r)
	}
	return out, nil
}

// WaitForConfirmation polls until hash has the configured confirmations.
func (l *Ledger) WaitForConfirmation(ctx context.Context, hash chain.Hash) (*chain.Receipt, error) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		r, err := l.GetTxReceipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if r != nil {
			head, err := l.eth.BlockNumber(ctx)
			if err != nil {
				return nil, unavailable("block number", err)
			}
			if head+1 >= r.BlockNumber+l.confirmations {
				return r, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// revertReason replays a reverted transaction as a call at its block to
// recover the reason string. Failures yield "".
func (l *Ledger) revertReason(ctx context.Context, hash chain.Hash, r *types.Receipt) string {
	tx, _, err := l.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return ""
	}
	from, err := l.eth.TransactionSender(ctx, tx, r.BlockHash, r.TransactionIndex)
	if err != nil {
		return ""
	}
	msg := ethereum.CallMsg{From: from, To: tx.To(), Data: tx.Data(), Value: tx.Value(), Gas: tx.Gas()}
	_, err = l.eth.CallContract(ctx, msg, new(big.Int).Set(r.BlockNumber))
	if err == nil {
		return ""
	}
	return reasonFrom(err)
}

// unavailable marks a node or transport failure as retryable so its text is
// never matched against revert phrasings. Context errors pass through to
// keep their own classification.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("evm: %s: %w", op, err)
	}
	return gateway.Operational(gateway.CodeUnavailable, "evm: "+op, err)
}

// withRevertReason appends the decoded Error(string) payload of an RPC
// error, when there is one, so classification sees the contract's words.
func withRevertReason(err error) error {
	reason := reasonFrom(err)
	if reason == "" || reason == err.Error() {
		return err
	}
	return fmt.Errorf("%w: %s", err, reason)
}

func reasonFrom(err error) string {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(s); decErr == nil {
				if reason, upErr := abi.UnpackRevert(data); upErr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}
