package wallet

import (
	"fmt"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/account"
	"github.com/Klingon-tech/klingwallet/internal/explorer"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/storage"
	"github.com/Klingon-tech/klingwallet/internal/syncer"
)

// Env is a wallet wired from configuration together with the resources
// it owns.
type Env struct {
	Wallet   *Wallet
	Accounts *storage.AccountStore
	// Keystore is nil unless storage is sealed.
	Keystore *Keystore

	db storage.DB
}

// Open builds the explorer client, opens the account store and returns a
// wallet over them. A sealed store needs cfg.Storage.Password.
func Open(cfg *config.Config) (*Env, error) {
	var password []byte
	if cfg.Storage.Sealed {
		if cfg.Storage.Password == "" {
			return nil, fmt.Errorf("sealed storage needs a password")
		}
		password = []byte(cfg.Storage.Password)
	}

	db, err := storage.Open(cfg.Storage.Backend, cfg.StorageDir(), password)
	if err != nil {
		return nil, err
	}

	env := &Env{
		Accounts: storage.NewAccountStore(db),
		db:       db,
	}
	if cfg.Storage.Sealed {
		env.Keystore, err = NewKeystore(db)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	ex := explorer.NewClient(explorer.Config{
		URL:            cfg.Explorer.URL,
		RequestTimeout: cfg.Explorer.Timeout,
		MaxRetries:     cfg.Explorer.MaxRetries,
		RateLimit:      cfg.Explorer.RateLimit,
		FeeCacheTTL:    cfg.Explorer.FeeCacheTTL,
		Concurrency:    cfg.Sync.Concurrency,
	})

	env.Wallet = New(Config{
		Explorer: ex,
		Sync:     syncer.Config{GapLimit: cfg.Sync.GapLimit},
		Policy:   PolicyFromConfig(cfg.Policy),
		Store:    env.Accounts,
	})

	log.Wallet.Debug().
		Str("currency", cfg.Currency).
		Str("network", string(cfg.Network)).
		Str("explorer", cfg.Explorer.URL).
		Str("storage", cfg.Storage.Backend).
		Bool("sealed", cfg.Storage.Sealed).
		Msg("Wallet opened")
	return env, nil
}

// SaveSeedAccount stores a and records it under the named seed in one
// batch: either both writes land or neither does.
func (e *Env) SaveSeedAccount(seed string, a *account.Account) error {
	if e.Keystore == nil {
		return ErrUnsealed
	}
	b := e.db.NewBatch()
	defer b.Discard()
	if err := e.Accounts.SaveBatch(b, a.ID(), e.Wallet.ExportToSerializedAccount(a)); err != nil {
		return err
	}
	if err := e.Keystore.AddAccountBatch(b, seed, a.ID()); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return &storage.Error{Op: "save", Key: a.ID(), Err: err}
	}
	log.WithAccount(log.Wallet, a.ID()).Info().Str("seed", seed).Msg("Account saved")
	return nil
}

// Close releases the store.
func (e *Env) Close() error {
	return e.db.Close()
}

// PolicyFromConfig fills unset policy values with the defaults.
func PolicyFromConfig(pc config.PolicyConfig) account.Policy {
	p := account.DefaultPolicy()
	if pc.MaxOutputValue > 0 {
		p.MaxOutputValue = pc.MaxOutputValue
	}
	if pc.DustRelayFeePerKb > 0 {
		p.DustRelayFeePerKb = pc.DustRelayFeePerKb
	}
	return p
}

// WithSigner returns a wallet sharing w's collaborators that signs with s.
func (w *Wallet) WithSigner(s Signer) *Wallet {
	cfg := w.cfg
	cfg.Signer = s
	return &Wallet{cfg: cfg, engine: w.engine}
}
