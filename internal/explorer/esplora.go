package explorer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/metrics"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// confirmedPageSize is the number of confirmed transactions Esplora returns
// per history page.
const confirmedPageSize = 25

// ReorgMargin is how many blocks below the cursor history is still refetched.
const ReorgMargin = 6

const feeCacheKey = "fees"

// Config holds the configuration for the Esplora client.
type Config struct {
	// URL is the base URL of the Esplora API (e.g. https://blockstream.info/api).
	URL string

	// RequestTimeout is the timeout for individual HTTP requests.
	RequestTimeout time.Duration

	// MaxRetries is the number of retries for failed transport calls.
	MaxRetries int

	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64

	// FeeCacheTTL is how long fee estimates are served from cache. Zero
	// disables caching.
	FeeCacheTTL time.Duration

	// Concurrency bounds parallel address requests inside one FetchActivity.
	Concurrency int
}

// Client is an HTTP client for the Esplora REST API. It is safe for
// concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	fees    *ttlcache.Cache[string, FeeEstimates]
	// backoff is the delay before the first retry; later retries wait
	// proportionally longer.
	backoff time.Duration
}

// NewClient creates a new Esplora client.
func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	var fees *ttlcache.Cache[string, FeeEstimates]
	if cfg.FeeCacheTTL > 0 {
		fees = ttlcache.New[string, FeeEstimates](
			ttlcache.WithTTL[string, FeeEstimates](cfg.FeeCacheTTL),
		)
	}

	metrics.Init()

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter: limiter,
		fees:    fees,
		backoff: 100 * time.Millisecond,
	}
}

// doRequest performs an HTTP request, retrying transport failures.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := c.cfg.URL + path

	var lastErr error
	for i := 0; i <= c.cfg.MaxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "text/plain")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if i < c.cfg.MaxRetries {
				log.Explorer.Debug().Err(err).Str("path", path).Int("attempt", i+1).Msg("Retrying request")
				if err := sleepCtx(ctx, time.Duration(i+1)*c.backoff); err != nil {
					return nil, err
				}
			}
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// doGet performs a GET request and returns the response body.
func (c *Client) doGet(ctx context.Context, op, path string) ([]byte, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		metrics.ExplorerRequests.WithLabelValues(op, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ExplorerRequests.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.ExplorerRequests.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	metrics.ExplorerRequests.WithLabelValues(op, "ok").Inc()
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, v any) error {
	body, err := c.doGet(ctx, op, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Tip implements Explorer.
func (c *Client) Tip(ctx context.Context) (Cursor, error) {
	body, err := c.doGet(ctx, "tip", "/blocks/tip/height")
	if err != nil {
		return Cursor{}, &Error{Op: "tip", Err: err}
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return Cursor{}, &Error{Op: "tip", Err: fmt.Errorf("parse height: %w", err)}
	}

	body, err = c.doGet(ctx, "tip", "/blocks/tip/hash")
	if err != nil {
		return Cursor{}, &Error{Op: "tip", Err: err}
	}

	return Cursor{Height: height, Hash: strings.TrimSpace(string(body))}, nil
}

// FetchActivity implements Explorer. Address requests run in parallel,
// bounded by Config.Concurrency; the first failure cancels the rest.
func (c *Client) FetchActivity(ctx context.Context, req *Request) (*Response, error) {
	results := make([]*AddressActivity, len(req.Addresses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, addr := range req.Addresses {
		g.Go(func() error {
			act, err := c.addressActivity(gctx, addr, req.Cursor)
			if err != nil {
				return err
			}
			results[i] = act
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp := &Response{Activity: make(map[string]*AddressActivity, len(req.Addresses))}
	for i, addr := range req.Addresses {
		resp.Activity[addr] = results[i]
	}
	return resp, nil
}

func (c *Client) addressActivity(ctx context.Context, addr string, since Cursor) (*AddressActivity, error) {
	var utxos []esploraUTXO
	if err := c.getJSON(ctx, "utxo", "/address/"+addr+"/utxo", &utxos); err != nil {
		return nil, &Error{Op: "utxo", Address: addr, Err: err}
	}

	txs, err := c.addressTxs(ctx, addr, since)
	if err != nil {
		return nil, &Error{Op: "txs", Address: addr, Err: err}
	}

	act := &AddressActivity{
		UTXOs: make([]UTXO, 0, len(utxos)),
		Txs:   make([]Tx, 0, len(txs)),
	}
	for i := range utxos {
		act.UTXOs = append(act.UTXOs, utxos[i].toUTXO())
	}
	for i := range txs {
		act.Txs = append(act.Txs, txs[i].toTx())
	}
	return act, nil
}

// addressTxs walks the address history newest first, stopping once a page
// reaches below the cursor minus ReorgMargin.
func (c *Client) addressTxs(ctx context.Context, addr string, since Cursor) ([]esploraTx, error) {
	var page []esploraTx
	if err := c.getJSON(ctx, "txs", "/address/"+addr+"/txs", &page); err != nil {
		return nil, err
	}

	stopBelow := int64(0)
	if !since.IsZero() {
		stopBelow = since.Height - ReorgMargin
	}

	all := page
	for {
		var confirmed []esploraTx
		for _, tx := range page {
			if tx.Status.Confirmed {
				confirmed = append(confirmed, tx)
			}
		}
		if len(confirmed) < confirmedPageSize {
			break
		}
		last := confirmed[len(confirmed)-1]
		if stopBelow > 0 && last.Status.BlockHeight < stopBelow {
			break
		}

		page = nil
		if err := c.getJSON(ctx, "txs", "/address/"+addr+"/txs/chain/"+last.TxID, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
	}
	return all, nil
}

// FeeEstimates implements Explorer.
func (c *Client) FeeEstimates(ctx context.Context) (FeeEstimates, error) {
	if c.fees != nil {
		if item := c.fees.Get(feeCacheKey); item != nil {
			return item.Value(), nil
		}
	}

	var raw map[string]float64
	if err := c.getJSON(ctx, "fees", "/fee-estimates", &raw); err != nil {
		return nil, &Error{Op: "fees", Err: err}
	}

	est := make(FeeEstimates, len(raw))
	for k, v := range raw {
		target, err := strconv.Atoi(k)
		if err != nil {
			return nil, &Error{Op: "fees", Err: fmt.Errorf("bad target %q: %w", k, err)}
		}
		est[target] = v
	}

	if c.fees != nil {
		c.fees.Set(feeCacheKey, est, ttlcache.DefaultTTL)
	}
	return est, nil
}

// Broadcast implements Explorer.
func (c *Client) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/tx", []byte(hex.EncodeToString(rawTx)))
	if err != nil {
		metrics.ExplorerRequests.WithLabelValues("broadcast", "error").Inc()
		return "", &Error{Op: "broadcast", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Op: "broadcast", Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ExplorerRequests.WithLabelValues("broadcast", "error").Inc()
		return "", &Error{
			Op:  "broadcast",
			Err: fmt.Errorf("broadcast failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	metrics.ExplorerRequests.WithLabelValues("broadcast", "ok").Inc()
	return strings.TrimSpace(string(body)), nil
}
