package storage

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BatchReader fetches many small objects with bounded parallelism. The index
// rebuild uses it to load summary artifacts and archived day files.
type BatchReader struct {
	storage     ObjectStorage
	concurrency int
}

// BatchResult holds the objects read and the per-path failures.
type BatchResult struct {
	Objects map[string][]byte
	Errors  map[string]error
}

// NewBatchReader creates a batch reader; concurrency <= 0 means 4.
func NewBatchReader(storage ObjectStorage, concurrency int) *BatchReader {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &BatchReader{storage: storage, concurrency: concurrency}
}

// Read fetches every path. A failed object lands in BatchResult.Errors and
// does not stop the others; Read itself fails only when ctx ends.
func (b *BatchReader) Read(ctx context.Context, paths []string) (*BatchResult, error) {
	result := &BatchResult{
		Objects: make(map[string][]byte, len(paths)),
		Errors:  make(map[string]error),
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(b.concurrency)

	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		objectPath := p
		g.Go(func() error {
			data, err := b.storage.Get(ctx, objectPath)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[objectPath] = err
			} else {
				result.Objects[objectPath] = data
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("batch read interrupted: %w", err)
	}
	return result, nil
}
