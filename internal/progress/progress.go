package progress

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Update is a progress report. Progress is a percentage in [0, 100].
type Update struct {
	Progress int
	Message  string
}

// Cell holds the most recent Update. Writers never block; readers only ever
// see the latest value.
type Cell struct {
	v atomic.Pointer[Update]
}

func (c *Cell) Set(progress int, message string) {
	c.v.Store(&Update{Progress: progress, Message: message})
}

func (c *Cell) Get() (Update, bool) {
	u := c.v.Load()
	if u == nil {
		return Update{}, false
	}
	return *u, true
}

// Run executes work while polling its progress cell every interval. Each time
// progress has strictly increased since the last report, report is called
// from the polling goroutine. A final poll happens after work returns.
func Run(ctx context.Context, interval time.Duration, work func(ctx context.Context, cell *Cell) error, report func(Update)) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	cell := &Cell{}
	done := make(chan struct{})
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(done)
		return work(ctx, cell)
	})

	g.Go(func() error {
		last := -1
		poll := func() {
			if u, ok := cell.Get(); ok && u.Progress > last {
				last = u.Progress
				report(u)
			}
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				poll()
				return nil
			case <-ticker.C:
				poll()
			}
		}
	})

	return g.Wait()
}
