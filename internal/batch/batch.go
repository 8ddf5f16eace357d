// Package batch runs the detection cascade over many files, expanding
// directories and keeping results in input order.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// ErrNoFiles is returned when discovery yields nothing to process.
var ErrNoFiles = errors.New("no image or PDF files found")

// Process discovers the files named by args and runs them through det.
func Process(ctx context.Context, det Detector, args []string, cfg *Config) (*Result, error) {
	files, err := Discover(args, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover input files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	return Run(ctx, det, files, cfg), nil
}

// Run processes files with up to cfg.Workers in flight. Items keep the order
// of files; files not started before ctx ends are reported as cancelled.
func Run(ctx context.Context, det Detector, files []string, cfg *Config) *Result {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(files) {
		workers = len(files)
	}

	start := time.Now()
	items := make([]Item, len(files))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				items[i] = processFile(ctx, det, files[i], cfg)
			}
		}()
	}

	next := 0
feed:
	for ; next < len(files); next++ {
		select {
		case jobs <- next:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for i := next; i < len(files); i++ {
		items[i] = Item{File: files[i], Err: fmt.Errorf("%w: %s: %w", ErrCancelled, files[i], ctx.Err())}
	}

	return &Result{Items: items, Duration: time.Since(start), WorkerCount: workers}
}
