// Package explorer defines the pull interface to a blockchain indexer and
// ships an Esplora REST client plus an in-memory implementation.
package explorer

import (
	"context"
	"errors"
	"fmt"
)

// ErrInconsistent is returned when indexer data contradicts itself or the
// wallet's confirmed history.
var ErrInconsistent = errors.New("inconsistent explorer response")

// Error is an explorer failure carrying the operation and the address involved.
type Error struct {
	Op      string
	Address string
	Err     error
}

func (e *Error) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("explorer %s %s: %v", e.Op, e.Address, e.Err)
	}
	return fmt.Sprintf("explorer %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Cursor marks the chain tip at the last successful reconcile.
type Cursor struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

// IsZero reports whether the cursor was never advanced.
func (c Cursor) IsZero() bool {
	return c.Height == 0 && c.Hash == ""
}

// Request asks for the activity of a batch of addresses since a cursor.
type Request struct {
	Addresses []string
	Cursor    Cursor
}

// UTXO is an unspent output as reported by the indexer.
type UTXO struct {
	TxID        string
	Vout        uint32
	Value       int64
	BlockHeight int64 // 0 while unconfirmed
}

// TxInput is a spent previous output.
type TxInput struct {
	TxID    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Address string `json:"address,omitempty"`
	Value   int64  `json:"value"`
}

// TxOutput is a created output.
type TxOutput struct {
	Index   uint32 `json:"index"`
	Address string `json:"address,omitempty"`
	Value   int64  `json:"value"`
}

// Tx is a transaction touching a queried address.
type Tx struct {
	TxID        string     `json:"txid"`
	BlockHeight int64      `json:"block_height"` // 0 while unconfirmed
	BlockHash   string     `json:"block_hash,omitempty"`
	BlockTime   int64      `json:"block_time,omitempty"`
	Fee         int64      `json:"fee"`
	Inputs      []TxInput  `json:"inputs"`
	Outputs     []TxOutput `json:"outputs"`
}

// Confirmed reports whether the transaction is in a block.
func (t *Tx) Confirmed() bool {
	return t.BlockHeight > 0
}

// AddressActivity is everything the indexer knows about one address.
// Txs holds the history since the request cursor; UTXOs is the full
// current unspent set.
type AddressActivity struct {
	UTXOs []UTXO
	Txs   []Tx
}

// Used reports whether the address has any on-chain or mempool activity.
func (a *AddressActivity) Used() bool {
	return a != nil && (len(a.Txs) > 0 || len(a.UTXOs) > 0)
}

// Response maps each requested address to its activity.
type Response struct {
	Activity map[string]*AddressActivity
}

// FeeEstimates maps a confirmation target in blocks to a fee rate in sat/vB.
type FeeEstimates map[int]float64

// Explorer is the indexer service the sync engine pulls from.
type Explorer interface {
	// Tip returns the current best block.
	Tip(ctx context.Context) (Cursor, error)
	// FetchActivity returns per-address UTXOs and history.
	FetchActivity(ctx context.Context, req *Request) (*Response, error)
	// FeeEstimates returns fee rates per confirmation target.
	FeeEstimates(ctx context.Context) (FeeEstimates, error)
	// Broadcast submits a serialized transaction and returns its txid.
	Broadcast(ctx context.Context, rawTx []byte) (string, error)
}
