// Package batch writes large item sets in bounded-size concurrent chunks.
package batch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Options controls a chunked save.
type Options struct {
	// ChunkSize is the number of items written concurrently. Values below 1
	// are treated as 1.
	ChunkSize int
	// OnProgress, if set, is called after every chunk with the number of
	// items attempted so far and the total.
	OnProgress func(completed, total int)
}

type Result struct {
	OK     bool `json:"ok"`
	Saved  int  `json:"saved"`
	Failed int  `json:"failed"`
}

// Save writes items with save, chunk by chunk. Items inside a chunk run
// concurrently and chunks run one after another, so at most ChunkSize
// writes are in flight. A failed item does not stop the remaining chunks;
// all item errors are joined into the returned error. Cancelling ctx stops
// scheduling new chunks.
func Save[T any](ctx context.Context, items []T, opts Options, save func(context.Context, T) error) (Result, error) {
	size := opts.ChunkSize
	if size < 1 {
		size = 1
	}

	var (
		res  Result
		errs []error
	)
	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			res.Failed += len(items) - start
			break
		}

		end := min(start+size, len(items))
		chunk := items[start:end]
		chunkErrs := make([]error, len(chunk))

		var g errgroup.Group
		for i, item := range chunk {
			g.Go(func() error {
				if err := save(ctx, item); err != nil {
					chunkErrs[i] = fmt.Errorf("item %d: %w", start+i, err)
				}
				return nil
			})
		}
		_ = g.Wait()

		for _, err := range chunkErrs {
			if err != nil {
				errs = append(errs, err)
				res.Failed++
				continue
			}
			res.Saved++
		}

		if opts.OnProgress != nil {
			opts.OnProgress(end, len(items))
		}
	}

	res.OK = len(errs) == 0
	return res, errors.Join(errs...)
}
