package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/copperxbot/core/logger"
)

const component = "tg.sender"

var (
	// ErrQueueClosed is returned when enqueue is attempted after dispatcher stop.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")
)

// Options controls the behaviour of the outbound dispatcher. Zero values select defaults.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single job.
	MaxDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	o.MaxRetries = max(o.MaxRetries, 0)
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

func (j job) attrs(extra ...slog.Attr) []slog.Attr {
	attrs := []slog.Attr{slog.String("action", j.action)}
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.endpoint))
	}
	return append(attrs, extra...)
}

// Dispatcher executes outbound Telegram calls on a worker pool, retrying
// flood waits and transient network failures.
type Dispatcher struct {
	opts Options
	jobs chan job

	// mu guards closed so no Enqueue can send on a closed jobs channel.
	mu     sync.RWMutex
	closed bool

	once sync.Once
	wg   sync.WaitGroup
	sent atomic.Uint64
	errs atomic.Uint64
}

// NewDispatcher starts the workers.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		opts: opts,
		jobs: make(chan job, opts.QueueSize),
	}
	d.wg.Add(opts.Workers)
	for range opts.Workers {
		go d.worker()
	}
	return d
}

// Enqueue schedules run without blocking. run may be called more than once.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// SentCount returns the number of jobs that eventually succeeded.
func (d *Dispatcher) SentCount() uint64 { return d.sent.Load() }

// ErrorCount returns the number of failed jobs.
func (d *Dispatcher) ErrorCount() uint64 { return d.errs.Load() }

// Close stops accepting jobs and waits until the queued ones are done.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.jobs)
		d.mu.Unlock()
		d.wg.Wait()
		logger.Info(logger.Background(), component, "sender.closed",
			slog.Uint64("sent", d.sent.Load()),
			slog.Uint64("failed", d.errs.Load()),
		)
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.handle(j)
	}
}

func (d *Dispatcher) handle(j job) {
	start := time.Now()
	logger.Debug(j.ctx, component, "send.start", j.attrs()...)

	attempts, err := d.runWithRetry(j)
	elapsed := slog.Duration("elapsed", time.Since(start))

	if err != nil {
		d.errs.Add(1)
		attrs := j.attrs(
			slog.String("err", sanitizeErrorMessage(err)),
			slog.String("err_kind", classifyError(err)),
			slog.Int("attempts", attempts),
			elapsed,
		)
		// A user who blocked the bot is expected noise for pushes.
		if isBlocked(err) {
			logger.Warn(j.ctx, component, "send.fail", attrs...)
		} else {
			logger.Error(j.ctx, component, "send.fail", attrs...)
		}
		return
	}

	d.sent.Add(1)
	if attempts > 1 {
		logger.Info(j.ctx, component, "send.retry.success", j.attrs(slog.Int("attempt", attempts), elapsed)...)
		return
	}
	logger.Debug(j.ctx, component, "send.success", j.attrs(elapsed)...)
}

// runWithRetry calls j.run until it succeeds, fails permanently, exhausts
// MaxRetries or exceeds MaxDuration. It returns the number of calls made.
func (d *Dispatcher) runWithRetry(j job) (int, error) {
	ctx, cancel := context.WithTimeout(j.ctx, d.opts.MaxDuration)
	defer cancel()

	limit := d.opts.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		err := j.run()
		if err == nil {
			return attempt, nil
		}
		delay, retry := retryDelay(err, d.opts.RetryBackoff, attempt)
		if !retry || attempt == limit {
			return attempt, err
		}
		logger.Debug(j.ctx, component, "send.retry.backoff",
			j.attrs(slog.Int("attempt", attempt), slog.Duration("backoff", delay))...)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}
