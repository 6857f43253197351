package engine

import (
	"context"
	"sync/atomic"
	"time"

	"signoff/internal/approvals"
	"signoff/internal/common"
)

const DefaultSweepInterval = 60 * time.Second

// StartSweeperOpts configures the background expiry sweep
type StartSweeperOpts struct {
	Context  context.Context
	Interval time.Duration

	// Notify, when set, receives every newly expired approval so the
	// caller can update its posted notification
	Notify func(approvals.Approval)
}

// StartSweeper runs ExpireDue on a ticker until the context ends. A
// slow sweep is never overlapped by the next tick, and because the
// terminal-transition check is idempotent a skipped or repeated
// sweep cannot double-expire a record
func (e *Engine) StartSweeper(opts StartSweeperOpts) {
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	var sweeping atomic.Bool
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-opts.Context.Done():
				return
			case <-ticker.C:
				if !sweeping.CompareAndSwap(false, true) {
					e.serviceLogs <- common.ServiceLogf(common.LogLevelWarn, "previous expiry sweep still running, skipping this tick")
					continue
				}
				go func() {
					defer sweeping.Store(false)
					expired, err := e.ExpireDue(opts.Context, time.Now())
					if err != nil {
						e.serviceLogs <- common.ServiceLogf(common.LogLevelError, "expiry sweep failed: %s", err)
					}
					if opts.Notify != nil {
						for _, approval := range expired {
							opts.Notify(approval)
						}
					}
				}()
			}
		}
	}()
}
