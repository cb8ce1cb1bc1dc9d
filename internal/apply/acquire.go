// Copyright 2025 James Ross
package apply

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/flyingrobots/patchkit/internal/block"
	"github.com/flyingrobots/patchkit/internal/breaker"
	"github.com/flyingrobots/patchkit/internal/obs"
	"github.com/flyingrobots/patchkit/internal/patcherr"
)

// acquire fetches every bundle referenced by a SourceRemoteBundle plan
// entry that isn't already satisfied locally, verifying each block's
// hash and writing it into the local block store so materialize can
// read it back uniformly alongside anything that was already local.
// Fetches run with bounded concurrency; a fatal error in one bundle
// cancels the rest via the errgroup's context.
func (e *Engine) acquire(ctx context.Context, plans []FilePlan) (int, error) {
	needed := make(map[string]bool)
	for _, p := range plans {
		if p.Clean {
			continue
		}
		for _, src := range p.Sources {
			if src.Kind == SourceRemoteBundle {
				needed[src.BundleID] = true
			}
		}
	}
	if len(needed) == 0 {
		return 0, nil
	}
	if e.fetcher == nil {
		return 0, patcherr.Network("apply.acquire", fmt.Errorf("remote bundles required but no fetcher configured"))
	}

	bundleIDs := make([]string, 0, len(needed))
	for id := range needed {
		bundleIDs = append(bundleIDs, id)
	}
	sort.Strings(bundleIDs)

	concurrency := e.cfg.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, concurrency)
	for _, id := range bundleIDs {
		id := id
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			return e.fetchBundle(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(bundleIDs), nil
}

// fetchBundle retrieves one bundle, verifying every constituent
// block's hash, retrying the whole bundle up to cfg.MaxRetries times
// with exponential backoff on transient failure. A hash mismatch is
// treated the same as a transient failure for retry purposes: the
// bundle may have been corrupted in transit, so re-fetching is worth
// trying before giving up.
func (e *Engine) fetchBundle(ctx context.Context, bundleID string) error {
	entries, ok := e.manifest.Bundles[bundleID]
	if !ok {
		return patcherr.Integrity("apply.fetchBundle", patcherr.ErrBundleNotFound).WithPath(bundleID)
	}

	type verified struct {
		blockID string
		plain   []byte
		stored  []byte
	}

	attempt := 0
	var out []verified

	op := func() error {
		attempt++
		if attempt > 1 {
			obs.BundleFetchRetries.Inc()
		}
		if !e.cb.Allow() {
			return fmt.Errorf("circuit breaker open for bundle fetches")
		}

		start := time.Now()
		data, err := e.fetcher.FetchBundle(ctx, bundleID)
		obs.BundleFetchDuration.Observe(time.Since(start).Seconds())
		e.progress.OnBundleFetch(bundleID, len(data), attempt)
		if err != nil {
			e.cb.Record(false)
			updateBreakerMetric(e.cb)
			if !patcherr.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		batch := make([]verified, 0, len(entries))
		for _, entry := range entries {
			if entry.Offset < 0 || entry.Length < 0 || entry.Offset+entry.Length > int64(len(data)) {
				e.cb.Record(false)
				updateBreakerMetric(e.cb)
				return patcherr.Integrity("apply.fetchBundle: slice", patcherr.ErrBundleOutOfRange).WithPath(bundleID)
			}
			stored := data[entry.Offset : entry.Offset+entry.Length]

			plain := stored
			if e.codec != nil {
				p, derr := e.codec.Decompress(stored)
				if derr != nil {
					e.cb.Record(false)
					updateBreakerMetric(e.cb)
					obs.IntegrityFailures.Inc()
					return derr
				}
				plain = p
			}
			if verr := block.VerifyID(entry.BlockID, plain); verr != nil {
				e.cb.Record(false)
				updateBreakerMetric(e.cb)
				obs.IntegrityFailures.Inc()
				return verr
			}
			batch = append(batch, verified{blockID: entry.BlockID, plain: plain, stored: append([]byte(nil), stored...)})
		}

		e.cb.Record(true)
		updateBreakerMetric(e.cb)
		out = batch
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryBaseDelay
	bo.MaxInterval = e.cfg.RetryMaxDelay
	bounded := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.cfg.MaxRetries)), ctx)

	if err := backoff.Retry(op, bounded); err != nil {
		// Keep the original classification when there is one: a 404 is
		// an input error even though it traveled the network, and a
		// persistent hash mismatch stays an integrity error. Only
		// unclassified failures (e.g. the breaker refusing) escalate
		// as network errors.
		if patcherr.KindOf(err) != "" {
			return err
		}
		return patcherr.Network("apply.fetchBundle", err).WithPath(bundleID)
	}

	for _, v := range out {
		if err := e.blocks.Put(v.blockID, v.stored); err != nil {
			return err
		}
		obs.BlocksFetchedRemote.Inc()
		e.progress.OnBlock(v.blockID, SourceRemoteBundle)
	}
	return nil
}

func updateBreakerMetric(cb *breaker.CircuitBreaker) {
	switch cb.State() {
	case breaker.Closed:
		obs.CircuitBreakerState.Set(0)
	case breaker.HalfOpen:
		obs.CircuitBreakerState.Set(1)
	case breaker.Open:
		obs.CircuitBreakerState.Set(2)
	}
}
