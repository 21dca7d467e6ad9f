package utils

import (
	"context"
	"sync"
	"time"
)

// WorkerPool manages a pool of goroutines with rate limiting.
type WorkerPool struct {
	maxWorkers  int
	rateLimitMs int
	semaphore   chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	lastRequest time.Time
}

// NewWorkerPool creates a WorkerPool with the given concurrency and rate limit.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		maxWorkers:  maxWorkers,
		rateLimitMs: rateLimitMs,
		semaphore:   make(chan struct{}, maxWorkers),
		lastRequest: time.Now().Add(-time.Duration(rateLimitMs) * time.Millisecond),
	}
}

// SubmitContext runs job on a free worker, giving up the wait once ctx is done.
func (wp *WorkerPool) SubmitContext(ctx context.Context, job func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case wp.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	wp.wg.Add(1)

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		wp.enforceRateLimit()
		job()
	}()
	return nil
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Size returns the maximum number of concurrent jobs.
func (wp *WorkerPool) Size() int {
	return wp.maxWorkers
}

func (wp *WorkerPool) enforceRateLimit() {
	if wp.rateLimitMs <= 0 {
		return
	}
	wp.mu.Lock()
	defer wp.mu.Unlock()

	minInterval := time.Duration(wp.rateLimitMs) * time.Millisecond
	elapsed := time.Since(wp.lastRequest)
	if elapsed < minInterval {
		time.Sleep(minInterval - elapsed)
	}
	wp.lastRequest = time.Now()
}

// StringSet is a thread-safe set for tracking seen keys.
type StringSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewStringSet creates an empty StringSet.
func NewStringSet() *StringSet {
	return &StringSet{seen: make(map[string]struct{})}
}

// Add returns true if the key was newly added, false if already present.
func (s *StringSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}
