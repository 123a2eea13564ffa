package explorer

// Wire types of the Esplora REST API.

type esploraStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

type esploraVout struct {
	ScriptPubKey     string `json:"scriptpubkey"`
	ScriptPubKeyType string `json:"scriptpubkey_type"`
	ScriptPubKeyAddr string `json:"scriptpubkey_address,omitempty"`
	Value            int64  `json:"value"`
}

type esploraVin struct {
	TxID       string       `json:"txid"`
	Vout       uint32       `json:"vout"`
	PrevOut    *esploraVout `json:"prevout,omitempty"`
	Sequence   uint32       `json:"sequence"`
	IsCoinbase bool         `json:"is_coinbase"`
}

type esploraTx struct {
	TxID   string        `json:"txid"`
	Fee    int64         `json:"fee"`
	Vin    []esploraVin  `json:"vin"`
	Vout   []esploraVout `json:"vout"`
	Status esploraStatus `json:"status"`
}

type esploraUTXO struct {
	TxID   string        `json:"txid"`
	Vout   uint32        `json:"vout"`
	Status esploraStatus `json:"status"`
	Value  int64         `json:"value"`
}

func (u *esploraUTXO) toUTXO() UTXO {
	out := UTXO{TxID: u.TxID, Vout: u.Vout, Value: u.Value}
	if u.Status.Confirmed {
		out.BlockHeight = u.Status.BlockHeight
	}
	return out
}

func (t *esploraTx) toTx() Tx {
	out := Tx{
		TxID:    t.TxID,
		Fee:     t.Fee,
		Inputs:  make([]TxInput, 0, len(t.Vin)),
		Outputs: make([]TxOutput, 0, len(t.Vout)),
	}
	if t.Status.Confirmed {
		out.BlockHeight = t.Status.BlockHeight
		out.BlockHash = t.Status.BlockHash
		out.BlockTime = t.Status.BlockTime
	}
	for _, in := range t.Vin {
		if in.IsCoinbase {
			continue
		}
		ti := TxInput{TxID: in.TxID, Vout: in.Vout}
		if in.PrevOut != nil {
			ti.Address = in.PrevOut.ScriptPubKeyAddr
			ti.Value = in.PrevOut.Value
		}
		out.Inputs = append(out.Inputs, ti)
	}
	for i, o := range t.Vout {
		out.Outputs = append(out.Outputs, TxOutput{
			Index:   uint32(i),
			Address: o.ScriptPubKeyAddr,
			Value:   o.Value,
		})
	}
	return out
}
