package jobs

import (
	"context"
	"time"

	"github.com/MimeLyc/findoc-analyzer/pkg/log"
)

// Poller re-dispatches queued jobs found in the store. It covers jobs created
// by another process and jobs whose dispatch was lost.
type Poller struct {
	store      Store
	dispatcher Dispatcher
	interval   time.Duration
	batch      int
}

func NewPoller(store Store, dispatcher Dispatcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		store:      store,
		dispatcher: dispatcher,
		interval:   interval,
		batch:      100,
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll dispatches one batch of queued ids and reports how many it found.
func (p *Poller) Poll(ctx context.Context) int {
	ids, err := p.store.ListIDs(ctx, StateQueued, p.batch)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("Failed to list queued jobs: %v", err)
		}
		return 0
	}
	for _, id := range ids {
		p.dispatcher.Dispatch(id)
	}
	if len(ids) > 0 {
		log.Debug("Poller dispatched %d queued job(s)", len(ids))
	}
	return len(ids)
}
