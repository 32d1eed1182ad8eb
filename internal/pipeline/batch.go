package pipeline

import (
	"context"
	"sync"
)

// BatchProcess fans ProcessReceipt out over the ids with bounded
// concurrency. Every id gets an entry in the result map; one failing
// receipt never aborts the batch.
func (p *Processor) BatchProcess(ctx context.Context, ids []int64) map[int64]bool {
	results := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return results
	}

	p.logger.Info("processor.batch.start", "count", len(ids), "max_concurrent", p.opts.MaxConcurrent)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, p.opts.MaxConcurrent)
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ok := p.ProcessReceipt(ctx, id)

			mu.Lock()
			results[id] = ok
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	p.logger.Info("processor.batch.done", "count", len(ids), "succeeded", succeeded)
	return results
}
