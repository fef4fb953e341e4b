package simulate

import (
	"context"
	"sync"
	"time"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/risk"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/service"
)

// Clock is a settable time source shared by the engines during an accelerated run.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts the clock at t.
func NewClock(t time.Time) *Clock { return &Clock{t: t.UTC()} }

// Now reads the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t.UTC()
	c.mu.Unlock()
}

// DriveOptions control an accelerated run. Requests are spread evenly over each bucket.
type DriveOptions struct {
	Start     time.Time
	Count     int
	PerBucket int
	Bucket    time.Duration
	Clock     *Clock
}

// DriveSummary tallies an accelerated run.
type DriveSummary struct {
	Processed int
	Decisions map[risk.Decision]int
	Statuses  map[payments.Status]int
	Buckets   int
	Alerts    int
	End       time.Time
}

// Drive feeds Count generated requests through svc, closing a bucket every PerBucket requests.
func Drive(ctx context.Context, svc *service.Service, gen *Generator, opts DriveOptions) (DriveSummary, error) {
	if opts.PerBucket <= 0 {
		opts.PerBucket = 20
	}
	if opts.Bucket <= 0 {
		opts.Bucket = time.Minute
	}
	summary := DriveSummary{
		Decisions: make(map[risk.Decision]int),
		Statuses:  make(map[payments.Status]int),
	}

	bucket := opts.Start.UTC().Truncate(opts.Bucket)
	step := opts.Bucket / time.Duration(opts.PerBucket)
	for summary.Processed < opts.Count {
		n := min(opts.PerBucket, opts.Count-summary.Processed)
		for i, req := range gen.Batch(n, bucket) {
			at := bucket.Add(time.Duration(i) * step)
			req.Timestamp = at
			if opts.Clock != nil {
				opts.Clock.Set(at)
			}
			res, err := svc.Process(ctx, req)
			if err != nil {
				return summary, err
			}
			summary.Processed++
			summary.Decisions[res.Risk.Decision]++
			summary.Statuses[res.Transaction.Status]++
		}

		closed := bucket
		bucket = bucket.Add(opts.Bucket)
		if opts.Clock != nil {
			opts.Clock.Set(bucket)
		}
		if err := svc.ProcessBucket(ctx, closed); err != nil {
			return summary, err
		}
		summary.Alerts += svc.DrainAlerts(ctx)
		summary.Buckets++
	}
	summary.End = bucket
	return summary, nil
}
