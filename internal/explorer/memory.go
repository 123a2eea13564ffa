package explorer

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Memory is an in-process Explorer backed by maps. It serves tests and
// offline replays, and can be told to fail.
type Memory struct {
	mu sync.RWMutex

	tip   Cursor
	utxos map[string]map[string]UTXO // address -> "txid:vout" -> utxo
	txs   map[string]map[string]Tx   // address -> txid -> tx
	fees  FeeEstimates

	failErr   error
	failAfter int // successful calls left before failErr applies; <0 means immediately
	calls     int

	broadcasted [][]byte
}

// NewMemory creates an empty in-memory explorer at height 0.
func NewMemory() *Memory {
	return &Memory{
		utxos: make(map[string]map[string]UTXO),
		txs:   make(map[string]map[string]Tx),
		fees:  FeeEstimates{1: 20, 6: 10, 144: 1},
	}
}

// SetTip sets the best block.
func (m *Memory) SetTip(height int64, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tip = Cursor{Height: height, Hash: hash}
}

// SetFeeEstimates replaces the served fee estimates.
func (m *Memory) SetFeeEstimates(est FeeEstimates) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees = est
}

// AddUTXO records an unspent output for address.
func (m *Memory) AddUTXO(address string, u UTXO) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.utxos[address] == nil {
		m.utxos[address] = make(map[string]UTXO)
	}
	m.utxos[address][outpointKey(u.TxID, u.Vout)] = u
}

// RemoveUTXO deletes an unspent output.
func (m *Memory) RemoveUTXO(address, txid string, vout uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.utxos[address], outpointKey(txid, vout))
}

// AddTx records a transaction in address' history.
func (m *Memory) AddTx(address string, tx Tx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txs[address] == nil {
		m.txs[address] = make(map[string]Tx)
	}
	m.txs[address][tx.TxID] = tx
}

// RemoveTx deletes a transaction from address' history.
func (m *Memory) RemoveTx(address, txid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txs[address], txid)
}

// AddFunding records a transaction paying value to address at vout, and the
// resulting UTXO.
func (m *Memory) AddFunding(address, txid string, vout uint32, value, height int64) {
	outputs := make([]TxOutput, vout+1)
	for i := range outputs {
		outputs[i] = TxOutput{Index: uint32(i)}
	}
	outputs[vout] = TxOutput{Index: vout, Address: address, Value: value}

	m.AddTx(address, Tx{TxID: txid, BlockHeight: height, Outputs: outputs})
	m.AddUTXO(address, UTXO{TxID: txid, Vout: vout, Value: value, BlockHeight: height})
}

// Spend moves an output of address to spent by a new transaction.
func (m *Memory) Spend(address, txid string, vout uint32, spendTxID string, height int64) {
	m.mu.Lock()
	u, ok := m.utxos[address][outpointKey(txid, vout)]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.RemoveUTXO(address, txid, vout)
	m.AddTx(address, Tx{
		TxID:        spendTxID,
		BlockHeight: height,
		Inputs:      []TxInput{{TxID: txid, Vout: vout, Address: address, Value: u.Value}},
	})
}

// FailWith makes every subsequent call fail with err. Nil clears it.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
	m.failAfter = -1
}

// FailAfter lets n more calls succeed, then fails every call with err.
func (m *Memory) FailAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
	m.failAfter = n
}

// Calls returns the number of calls served so far.
func (m *Memory) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// Broadcasted returns copies of every transaction submitted.
func (m *Memory) Broadcasted() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.broadcasted))
	for i, b := range m.broadcasted {
		out[i] = append([]byte(nil), b...)
	}
	return out
}

// enter counts a call and returns the injected failure, if any.
// Caller must hold mu.
func (m *Memory) enter() error {
	m.calls++
	if m.failErr == nil {
		return nil
	}
	if m.failAfter > 0 {
		m.failAfter--
		return nil
	}
	return m.failErr
}

// Tip implements Explorer.
func (m *Memory) Tip(ctx context.Context) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return Cursor{}, &Error{Op: "tip", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return Cursor{}, &Error{Op: "tip", Err: err}
	}
	return m.tip, nil
}

// FetchActivity implements Explorer. History is filtered to the cursor
// minus ReorgMargin, like the HTTP client.
func (m *Memory) FetchActivity(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "fetch", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return nil, &Error{Op: "fetch", Err: err}
	}

	stopBelow := int64(0)
	if !req.Cursor.IsZero() {
		stopBelow = req.Cursor.Height - ReorgMargin
	}

	resp := &Response{Activity: make(map[string]*AddressActivity, len(req.Addresses))}
	for _, addr := range req.Addresses {
		act := &AddressActivity{}
		for _, u := range m.utxos[addr] {
			act.UTXOs = append(act.UTXOs, u)
		}
		for _, tx := range m.txs[addr] {
			if tx.Confirmed() && tx.BlockHeight < stopBelow {
				continue
			}
			act.Txs = append(act.Txs, copyTx(tx))
		}
		sort.Slice(act.UTXOs, func(i, j int) bool {
			return outpointKey(act.UTXOs[i].TxID, act.UTXOs[i].Vout) < outpointKey(act.UTXOs[j].TxID, act.UTXOs[j].Vout)
		})
		sort.Slice(act.Txs, func(i, j int) bool { return act.Txs[i].TxID < act.Txs[j].TxID })
		resp.Activity[addr] = act
	}
	return resp, nil
}

// FeeEstimates implements Explorer.
func (m *Memory) FeeEstimates(ctx context.Context) (FeeEstimates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return nil, &Error{Op: "fees", Err: err}
	}
	out := make(FeeEstimates, len(m.fees))
	for k, v := range m.fees {
		out[k] = v
	}
	return out, nil
}

// Broadcast implements Explorer. The txid is the double-SHA256 of the raw
// bytes, which equals the real txid for non-witness serializations only.
func (m *Memory) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return "", &Error{Op: "broadcast", Err: err}
	}
	if len(rawTx) == 0 {
		return "", &Error{Op: "broadcast", Err: errors.New("empty transaction")}
	}
	m.broadcasted = append(m.broadcasted, append([]byte(nil), rawTx...))
	h := chainhash.DoubleHashH(rawTx)
	return h.String(), nil
}

func copyTx(tx Tx) Tx {
	tx.Inputs = append([]TxInput(nil), tx.Inputs...)
	tx.Outputs = append([]TxOutput(nil), tx.Outputs...)
	return tx
}

func outpointKey(txid string, vout uint32) string {
	return txid + ":" + strconv.FormatUint(uint64(vout), 10)
}
