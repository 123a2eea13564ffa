// Package syncer pulls account state from an explorer and commits it
// atomically.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingwallet/internal/account"
	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/explorer"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Defaults.
const (
	DefaultGapLimit  = 20
	DefaultBatchSize = 20
)

// ErrNoExplorer is returned when the account has no explorer attached.
var ErrNoExplorer = errors.New("account has no explorer")

// Config tunes the address scan.
type Config struct {
	// GapLimit is the number of consecutive unused addresses that ends a
	// chain scan.
	GapLimit int
	// BatchSize is the number of addresses per explorer request.
	BatchSize int
}

// Engine runs account syncs. It holds no per-account state and is safe for
// concurrent use on distinct accounts.
type Engine struct {
	cfg Config
}

// New creates a sync engine.
func New(cfg Config) *Engine {
	if cfg.GapLimit <= 0 {
		cfg.GapLimit = DefaultGapLimit
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	metrics.Init()
	return &Engine{cfg: cfg}
}

// fetchResult is the staged outcome of the fetching state.
type fetchResult struct {
	tip      explorer.Cursor
	activity map[string]*explorer.AddressActivity
	derived  map[string]account.DerivedAddress
}

// Sync brings the account up to the explorer's tip. The caller must hold
// the account guard. On any failure the account is left exactly as it
// was and the error is an *explorer.Error.
func (e *Engine) Sync(ctx context.Context, a *account.Account) (err error) {
	start := time.Now()
	logger := log.WithAccount(log.Sync, a.ID())
	// State transitions must happen even when ctx is already cancelled.
	fsmCtx := context.WithoutCancel(ctx)

	if err := a.SyncEvent(fsmCtx, account.EventFetch); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	defer func() {
		metrics.SyncTotal.WithLabelValues(metrics.Result(err)).Inc()
		metrics.SyncDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			_ = a.SyncEvent(fsmCtx, account.EventFail)
			_ = a.SyncEvent(fsmCtx, account.EventReset)
			logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Sync failed")
		}
	}()

	ex := a.Explorer()
	if ex == nil {
		return &explorer.Error{Op: "sync", Err: ErrNoExplorer}
	}

	res, err := e.fetch(ctx, a, ex, logger)
	if err != nil {
		return asExplorerError("fetch", err)
	}

	if err := a.SyncEvent(fsmCtx, account.EventReconcile); err != nil {
		return &explorer.Error{Op: "sync", Err: err}
	}
	st, err := reconcile(a, res)
	if err != nil {
		return asExplorerError("reconcile", err)
	}
	if err := a.Replace(st); err != nil {
		return &explorer.Error{Op: "reconcile", Err: fmt.Errorf("%w: %v", explorer.ErrInconsistent, err)}
	}
	if err := a.SyncEvent(fsmCtx, account.EventDone); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	logger.Info().
		Int64("tip", res.tip.Height).
		Int("addresses", len(st.Addresses)).
		Int("utxos", len(st.UTXOs)).
		Int64("balance", a.Balance()).
		Dur("elapsed", time.Since(start)).
		Msg("Account synced")
	return nil
}

func (e *Engine) fetch(ctx context.Context, a *account.Account, ex explorer.Explorer, logger zerolog.Logger) (*fetchResult, error) {
	tip, err := ex.Tip(ctx)
	if err != nil {
		return nil, err
	}

	res := &fetchResult{
		tip:      tip,
		activity: make(map[string]*explorer.AddressActivity),
		derived:  make(map[string]account.DerivedAddress),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, chain := range []uint32{derivation.External, derivation.Internal} {
		g.Go(func() error {
			act, derived, err := e.scanChain(gctx, a, ex, chain, logger)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for addr, v := range act {
				res.activity[addr] = v
			}
			for addr, d := range derived {
				res.derived[addr] = d
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	metrics.SyncAddresses.Observe(float64(len(res.derived)))
	return res, nil
}

// scanChain fetches every address of a chain from index 0 through the
// highest known one plus a gap-limit lookahead, extending the window while
// the lookahead shows activity.
func (e *Engine) scanChain(ctx context.Context, a *account.Account, ex explorer.Explorer, chain uint32, logger zerolog.Logger) (map[string]*explorer.AddressActivity, map[string]account.DerivedAddress, error) {
	activity := make(map[string]*explorer.AddressActivity)
	derived := make(map[string]account.DerivedAddress)

	// Known addresses go first, then every index below the highest known
	// one that is not yet tracked, then the lookahead.
	var pending []account.DerivedAddress
	known := make(map[uint32]struct{})
	next := uint32(0)
	for _, d := range a.Addresses(chain) {
		pending = append(pending, d)
		known[d.Index] = struct{}{}
		if d.Index >= next {
			next = d.Index + 1
		}
	}
	for idx := uint32(0); idx < next; idx++ {
		if _, ok := known[idx]; ok {
			continue
		}
		addr, err := a.AddressAt(chain, idx)
		if err != nil {
			return nil, nil, err
		}
		pending = append(pending, account.DerivedAddress{Address: addr, Chain: chain, Index: idx})
	}

	lastUsed := -1
	gap := uint32(e.cfg.GapLimit)
	end := next + gap
	for {
		for idx := next; idx < end; idx++ {
			addr, err := a.AddressAt(chain, idx)
			if err != nil {
				return nil, nil, err
			}
			pending = append(pending, account.DerivedAddress{Address: addr, Chain: chain, Index: idx})
		}
		next = end

		for len(pending) > 0 {
			n := min(len(pending), e.cfg.BatchSize)
			batch := pending[:n]
			pending = pending[n:]

			req := &explorer.Request{Addresses: make([]string, 0, len(batch)), Cursor: a.Cursor()}
			for _, d := range batch {
				req.Addresses = append(req.Addresses, d.Address)
				derived[d.Address] = d
			}
			resp, err := ex.FetchActivity(ctx, req)
			if err != nil {
				return nil, nil, err
			}
			for _, d := range batch {
				act := resp.Activity[d.Address]
				if act == nil {
					return nil, nil, &explorer.Error{Op: "fetch", Address: d.Address, Err: fmt.Errorf("%w: address missing from response", explorer.ErrInconsistent)}
				}
				activity[d.Address] = act
				if act.Used() && int(d.Index) > lastUsed {
					lastUsed = int(d.Index)
				}
			}
		}

		want := uint32(lastUsed+1) + gap
		if want <= end {
			break
		}
		end = want
	}

	logger.Debug().
		Uint32("chain", chain).
		Int("last_used", lastUsed).
		Uint32("scanned", next).
		Msg("Chain scanned")
	return activity, derived, nil
}

func asExplorerError(op string, err error) error {
	var eerr *explorer.Error
	if errors.As(err, &eerr) {
		return err
	}
	return &explorer.Error{Op: op, Err: err}
}
