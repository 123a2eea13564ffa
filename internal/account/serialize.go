package account

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/explorer"
	"github.com/Klingon-tech/klingwallet/pkg/currency"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// SerializationVersion is the current SerializedAccount format.
const SerializationVersion = 1

// VersionError is returned for a serialized account of an unknown format.
type VersionError struct {
	Version int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("unsupported serialized account version %d (want %d)", e.Version, SerializationVersion)
}

// SerializedAccount is the flat, versioned persistence form of an Account.
type SerializedAccount struct {
	Version           int                         `json:"version"`
	Xpub              string                      `json:"xpub"`
	Path              string                      `json:"path"`
	MasterFingerprint uint32                      `json:"master_fingerprint"`
	Currency          string                      `json:"currency"`
	Network           string                      `json:"network"`
	Mode              string                      `json:"derivation_mode"`
	Policy            Policy                      `json:"policy"`
	Addresses         []DerivedAddress            `json:"addresses"`
	UTXOs             map[string][]SerializedUTXO `json:"utxos"`
	History           []TxRecord                  `json:"history"`
	Cursor            explorer.Cursor             `json:"cursor"`
}

// SerializedUTXO is one output in a SerializedAccount, keyed by its address.
type SerializedUTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Value         int64  `json:"value"`
	BlockHeight   int64  `json:"block_height"`
	Confirmations int64  `json:"confirmations"`
	Spent         bool   `json:"spent,omitempty"`
}

// Export captures the account's persistent state.
func Export(a *Account) *SerializedAccount {
	s := &SerializedAccount{
		Version:           SerializationVersion,
		Xpub:              a.xpub.Key,
		Path:              a.xpub.Path.String(),
		MasterFingerprint: a.xpub.MasterFingerprint,
		Currency:          string(a.xpub.Currency),
		Network:           a.xpub.Network,
		Mode:              string(a.xpub.Mode),
		Policy:            a.xpub.Policy,
		Addresses:         a.AllAddresses(),
		UTXOs:             make(map[string][]SerializedUTXO),
		History:           a.Snapshot().History,
		Cursor:            a.cursor,
	}
	for _, u := range a.AllUTXOs() {
		s.UTXOs[u.Address] = append(s.UTXOs[u.Address], SerializedUTXO{
			TxID:          u.OutPoint.Hash.String(),
			Vout:          u.OutPoint.Index,
			Value:         u.Value,
			BlockHeight:   u.BlockHeight,
			Confirmations: u.Confirmations,
			Spent:         u.Spent,
		})
	}
	return s
}

// Import rebuilds an account from its serialized form. Every address is
// re-derived from the xpub and must match.
func Import(s *SerializedAccount, ex explorer.Explorer) (*Account, error) {
	if s.Version != SerializationVersion {
		return nil, &VersionError{Version: s.Version}
	}
	mode, err := derivation.ParseMode(s.Mode)
	if err != nil {
		return nil, err
	}
	path, err := derivation.ParsePath(s.Path)
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}

	a, err := New(Xpub{
		Key:               s.Xpub,
		Currency:          currency.ID(s.Currency),
		Network:           s.Network,
		Mode:              mode,
		Path:              path,
		MasterFingerprint: s.MasterFingerprint,
		Policy:            s.Policy,
		Explorer:          ex,
	})
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}

	st := &State{
		Addresses: s.Addresses,
		History:   s.History,
		Cursor:    s.Cursor,
	}
	for addr, list := range s.UTXOs {
		for _, su := range list {
			hash, err := chainhash.NewHashFromStr(su.TxID)
			if err != nil {
				return nil, fmt.Errorf("import utxo %s: %w", su.TxID, err)
			}
			st.UTXOs = append(st.UTXOs, UTXO{
				OutPoint:      *wire.NewOutPoint(hash, su.Vout),
				Value:         su.Value,
				Address:       addr,
				BlockHeight:   su.BlockHeight,
				Confirmations: su.Confirmations,
				Spent:         su.Spent,
			})
		}
	}
	if err := a.Replace(st); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	return a, nil
}

// Marshal encodes a serialized account as JSON.
func Marshal(s *SerializedAccount) ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes JSON, rejecting unknown versions before anything else.
func Unmarshal(data []byte) (*SerializedAccount, error) {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode serialized account: %w", err)
	}
	if head.Version != SerializationVersion {
		return nil, &VersionError{Version: head.Version}
	}

	var s SerializedAccount
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode serialized account: %w", err)
	}
	return &s, nil
}
