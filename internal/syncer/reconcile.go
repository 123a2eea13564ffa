package syncer

import (
	"fmt"

	"github.com/Klingon-tech/klingwallet/internal/account"
	"github.com/Klingon-tech/klingwallet/internal/explorer"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// reconcile stages the account state implied by a fetch. It never touches
// the account; the result is committed with Account.Replace.
//
// Rules:
//   - transactions are replaced by txid; unconfirmed ones the explorer no
//     longer reports are dropped, as are confirmed ones above the tip
//   - outputs reported by the explorer replace the stored ones by outpoint
//   - an output missing from the explorer is kept as spent when a known
//     transaction spends it, dropped when it was unconfirmed, and is an
//     inconsistency when it was confirmed
func reconcile(a *account.Account, res *fetchResult) (*account.State, error) {
	old := a.Snapshot()
	tip := res.tip

	fetchedTx := make(map[string]account.TxRecord)
	for _, act := range res.activity {
		for _, tx := range act.Txs {
			fetchedTx[tx.TxID] = tx
		}
	}

	history := make(map[string]account.TxRecord, len(old.History)+len(fetchedTx))
	for _, tx := range old.History {
		if _, ok := fetchedTx[tx.TxID]; ok {
			continue
		}
		if !tx.Confirmed() || tx.BlockHeight > tip.Height {
			continue
		}
		history[tx.TxID] = tx
	}
	for id, tx := range fetchedTx {
		history[id] = tx
	}

	spentBy := make(map[string]string) // outpoint -> spending txid
	for _, tx := range history {
		for _, in := range tx.Inputs {
			key, err := outpointKey(in.TxID, in.Vout)
			if err != nil {
				return nil, fmt.Errorf("%w: tx %s input: %v", explorer.ErrInconsistent, tx.TxID, err)
			}
			spentBy[key] = tx.TxID
		}
	}

	utxos := make(map[string]account.UTXO)
	for addr, act := range res.activity {
		for _, eu := range act.UTXOs {
			hash, err := chainhash.NewHashFromStr(eu.TxID)
			if err != nil {
				return nil, &explorer.Error{Op: "reconcile", Address: addr, Err: fmt.Errorf("%w: bad txid %q", explorer.ErrInconsistent, eu.TxID)}
			}
			if eu.Value <= 0 {
				return nil, &explorer.Error{Op: "reconcile", Address: addr, Err: fmt.Errorf("%w: output %s:%d has value %d", explorer.ErrInconsistent, eu.TxID, eu.Vout, eu.Value)}
			}
			u := account.UTXO{
				OutPoint:      *wire.NewOutPoint(hash, eu.Vout),
				Value:         eu.Value,
				Address:       addr,
				BlockHeight:   eu.BlockHeight,
				Confirmations: confirmations(eu.BlockHeight, tip.Height),
			}
			_, u.Spent = spentBy[u.Key()]
			utxos[u.Key()] = u
		}
	}

	for _, u := range old.UTXOs {
		key := u.Key()
		if _, ok := utxos[key]; ok {
			continue
		}
		if _, queried := res.activity[u.Address]; !queried {
			utxos[key] = u
			continue
		}
		switch {
		case spentBy[key] != "":
			u.Spent = true
			u.Confirmations = confirmations(u.BlockHeight, tip.Height)
			utxos[key] = u
		case !u.Confirmed():
			// Evicted from the mempool or reorged out.
		default:
			return nil, &explorer.Error{
				Op:      "reconcile",
				Address: u.Address,
				Err:     fmt.Errorf("%w: confirmed output %s vanished without a spending transaction", explorer.ErrInconsistent, key),
			}
		}
	}

	addresses := make(map[string]account.DerivedAddress)
	for _, d := range old.Addresses {
		addresses[d.Address] = d
	}
	for addr, act := range res.activity {
		if act.Used() {
			addresses[addr] = res.derived[addr]
		}
	}

	st := &account.State{
		Addresses: make([]account.DerivedAddress, 0, len(addresses)),
		UTXOs:     make([]account.UTXO, 0, len(utxos)),
		History:   make([]account.TxRecord, 0, len(history)),
		Cursor:    tip,
	}
	for _, d := range addresses {
		st.Addresses = append(st.Addresses, d)
	}
	for _, u := range utxos {
		st.UTXOs = append(st.UTXOs, u)
	}
	for _, tx := range history {
		st.History = append(st.History, tx)
	}
	return st, nil
}

func outpointKey(txid string, vout uint32) (string, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return "", err
	}
	return wire.NewOutPoint(hash, vout).String(), nil
}

// confirmations counts blocks since inclusion, the including block being 1.
func confirmations(height, tip int64) int64 {
	if height <= 0 {
		return 0
	}
	if height > tip {
		return 1
	}
	return tip - height + 1
}
