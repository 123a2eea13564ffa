// Package wallet composes derivation, sync, coin selection and the
// transaction builder into the public wallet operations.
//
// Every operation that touches an account holds the account guard for its
// full duration, so one account sees at most one operation at a time.
// Distinct accounts share nothing mutable and may be used in parallel.
package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingwallet/internal/account"
	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/explorer"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/picking"
	"github.com/Klingon-tech/klingwallet/internal/syncer"
	"github.com/Klingon-tech/klingwallet/internal/txbuilder"
	"github.com/Klingon-tech/klingwallet/pkg/currency"
)

// Facade errors.
var (
	ErrNoSigner = errors.New("no signer configured")
	ErrNoStore  = errors.New("no account store configured")
)

// Store persists serialized accounts. Load returns an error matching
// storage.ErrNotFound when key is absent.
type Store interface {
	Load(key string) (*account.SerializedAccount, error)
	Save(key string, sa *account.SerializedAccount) error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys() ([]string, error)
}

// Config holds the collaborators of a Wallet. All fields are optional;
// operations that need a missing collaborator fail.
type Config struct {
	// Explorer is attached to accounts created or imported without one.
	Explorer explorer.Explorer
	Sync     syncer.Config
	// Policy is applied to new accounts. Zero means account.DefaultPolicy.
	Policy account.Policy
	Store  Store
	Signer Signer
}

// Wallet is the engine's public operation surface.
type Wallet struct {
	cfg    Config
	engine *syncer.Engine
}

// New creates a wallet.
func New(cfg Config) *Wallet {
	if cfg.Policy == (account.Policy{}) {
		cfg.Policy = account.DefaultPolicy()
	}
	return &Wallet{cfg: cfg, engine: syncer.New(cfg.Sync)}
}

// Explorer returns the default explorer.
func (w *Wallet) Explorer() explorer.Explorer { return w.cfg.Explorer }

// GenerateAccount derives a new, empty account from a master key.
func (w *Wallet) GenerateAccount(ctx context.Context, cfg account.GenerateConfig) (*account.Account, error) {
	if cfg.Explorer == nil {
		cfg.Explorer = w.cfg.Explorer
	}
	if cfg.Policy == nil {
		p := w.cfg.Policy
		cfg.Policy = &p
	}
	a, err := account.Generate(ctx, cfg)
	if err != nil {
		return nil, err
	}
	x := a.Xpub()
	log.WithAccount(log.Wallet, a.ID()).Info().
		Str("currency", a.Currency().String()).
		Str("mode", string(x.Mode)).
		Str("path", x.Path.Full()).
		Msg("Account generated")
	return a, nil
}

// GenerateAccountFromXpub creates a watch-only account. An empty path
// selects purpose'/coin'/0' for the mode.
func (w *Wallet) GenerateAccountFromXpub(xpub string, id currency.ID, network string, mode derivation.Mode, path string) (*account.Account, error) {
	a, err := account.FromXpub(xpub, id, network, mode, path, w.cfg.Explorer)
	if err != nil {
		return nil, err
	}
	if err := a.SetPolicy(w.cfg.Policy); err != nil {
		return nil, err
	}
	log.WithAccount(log.Wallet, a.ID()).Info().
		Str("currency", a.Currency().String()).
		Str("mode", string(mode)).
		Msg("Watch-only account added")
	return a, nil
}

// SyncAccount reconciles the account against its explorer. On failure the
// account is unchanged and the error is an *explorer.Error.
func (w *Wallet) SyncAccount(ctx context.Context, a *account.Account) error {
	a.Lock()
	defer a.Unlock()
	return w.engine.Sync(ctx, a)
}

// GetAccountBalance returns the sum of the account's unspent outputs.
func (w *Wallet) GetAccountBalance(a *account.Account) int64 {
	a.Lock()
	defer a.Unlock()
	return a.Balance()
}

// GetAccountBalanceDetail splits the balance by confirmation status.
func (w *Wallet) GetAccountBalanceDetail(a *account.Account) account.Balance {
	a.Lock()
	defer a.Unlock()
	return a.BalanceDetail()
}

// GetAccountNewReceiveAddress returns the lowest unused external address.
func (w *Wallet) GetAccountNewReceiveAddress(a *account.Account) (string, error) {
	a.Lock()
	defer a.Unlock()
	d, err := a.NewReceiveAddress()
	if err != nil {
		return "", err
	}
	return d.Address, nil
}

// BuildParams describes a payment from an account.
type BuildParams struct {
	From       *account.Account
	Dest       string
	Amount     int64
	FeePerByte int64
	// Strategy names a picking strategy. Empty means merge.
	Strategy string
	// Exclude lists "txid:vout" outpoints that must not be spent.
	Exclude []string
}

// BuildAccountTx builds an unsigned payment. The account is not modified;
// its outputs are spent only once a later sync observes the broadcast.
func (w *Wallet) BuildAccountTx(p BuildParams) (*txbuilder.TransactionInfo, error) {
	if p.From == nil {
		return nil, txbuilder.ErrNoAccount
	}
	strategy, err := picking.New(p.Strategy, p.Exclude...)
	if err != nil {
		return nil, err
	}
	p.From.Lock()
	defer p.From.Unlock()
	return txbuilder.Build(txbuilder.Params{
		FromAccount: p.From,
		Dest:        p.Dest,
		Amount:      p.Amount,
		FeePerByte:  p.FeePerByte,
		Strategy:    strategy,
	})
}

// SignAccountTx passes the built transaction to the signer and returns the
// signed bytes hex encoded.
func (w *Wallet) SignAccountTx(ctx context.Context, info *txbuilder.TransactionInfo) (string, error) {
	if w.cfg.Signer == nil {
		return "", &SigningError{Input: -1, Err: ErrNoSigner}
	}
	if info == nil {
		return "", &SigningError{Input: -1, Err: errors.New("no transaction")}
	}
	packet, err := info.PSBT()
	if err != nil {
		return "", &SigningError{Input: -1, Err: err}
	}
	signed, err := w.cfg.Signer.SignTransaction(ctx, packet, info.Derivation())
	if err != nil {
		var se *SigningError
		if errors.As(err, &se) {
			return "", err
		}
		return "", &SigningError{Input: -1, Err: err}
	}
	if len(signed) == 0 {
		return "", &SigningError{Input: -1, Err: errors.New("signer returned no bytes")}
	}
	return hex.EncodeToString(signed), nil
}

// BroadcastAccountTx submits a hex encoded signed transaction through the
// account's explorer and returns its txid.
func (w *Wallet) BroadcastAccountTx(ctx context.Context, a *account.Account, signedHex string) (string, error) {
	raw, err := hex.DecodeString(signedHex)
	if err != nil {
		return "", fmt.Errorf("decode signed tx: %w", err)
	}
	a.Lock()
	ex := a.Explorer()
	id := a.ID()
	a.Unlock()
	if ex == nil {
		return "", &explorer.Error{Op: "broadcast", Err: syncer.ErrNoExplorer}
	}

	txid, err := ex.Broadcast(ctx, raw)
	if err != nil {
		return "", err
	}
	log.WithAccount(log.Wallet, id).Info().Str("txid", txid).Msg("Transaction broadcast")
	return txid, nil
}

// ExportToSerializedAccount captures the account's persistent state.
func (w *Wallet) ExportToSerializedAccount(a *account.Account) *account.SerializedAccount {
	a.Lock()
	defer a.Unlock()
	return account.Export(a)
}

// ImportFromSerializedAccount rebuilds an account from its persistent form
// and attaches the default explorer.
func (w *Wallet) ImportFromSerializedAccount(sa *account.SerializedAccount) (*account.Account, error) {
	return account.Import(sa, w.cfg.Explorer)
}

// ImportFromJSON decodes and imports a serialized account.
func (w *Wallet) ImportFromJSON(data []byte) (*account.Account, error) {
	sa, err := account.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return w.ImportFromSerializedAccount(sa)
}

// SaveAccount writes the account to the store under its ID.
func (w *Wallet) SaveAccount(a *account.Account) error {
	if w.cfg.Store == nil {
		return ErrNoStore
	}
	return w.cfg.Store.Save(a.ID(), w.ExportToSerializedAccount(a))
}

// LoadAccount reads and imports the account stored under id.
func (w *Wallet) LoadAccount(id string) (*account.Account, error) {
	if w.cfg.Store == nil {
		return nil, ErrNoStore
	}
	sa, err := w.cfg.Store.Load(id)
	if err != nil {
		return nil, err
	}
	return w.ImportFromSerializedAccount(sa)
}

// ListAccounts returns the IDs of stored accounts.
func (w *Wallet) ListAccounts() ([]string, error) {
	if w.cfg.Store == nil {
		return nil, ErrNoStore
	}
	l, ok := w.cfg.Store.(Lister)
	if !ok {
		return nil, errors.New("account store cannot list keys")
	}
	return l.Keys()
}
