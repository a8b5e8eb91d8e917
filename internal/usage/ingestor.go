package usage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const bufferSize = 10000

// Ingestor batches records onto a Sink from a single background worker.
type Ingestor struct {
	logger    *zap.Logger
	sink      Sink
	ch        chan *Record
	batchSize int
	flushTime time.Duration

	// A full buffer is logged at most once per second.
	dropped rate.Sometimes
	late    rate.Sometimes

	// mu guards stopped and the close of ch.
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
	done     chan struct{}
}

func NewIngestor(logger *zap.Logger, sink Sink, batchSize int, flushTime time.Duration) *Ingestor {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushTime <= 0 {
		flushTime = 5 * time.Second
	}
	return &Ingestor{
		logger:    logger,
		sink:      sink,
		ch:        make(chan *Record, bufferSize),
		batchSize: batchSize,
		flushTime: flushTime,
		dropped:   rate.Sometimes{Interval: time.Second},
		late:      rate.Sometimes{Interval: time.Second},
		done:      make(chan struct{}),
	}
}

// Record queues r without blocking. Records arriving after Stop are dropped.
func (i *Ingestor) Record(r *Record) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.stopped {
		i.late.Do(func() {
			i.logger.Warn("Usage ingestor stopped, dropping record", zap.String("record_id", r.ID))
		})
		return
	}
	select {
	case i.ch <- r:
	default:
		i.dropped.Do(func() {
			i.logger.Warn("Usage buffer full, dropping records", zap.String("record_id", r.ID))
		})
	}
}

func (i *Ingestor) Start(ctx context.Context) {
	go i.worker(ctx)
}

// Stop drains what is buffered and closes the sink.
func (i *Ingestor) Stop() {
	i.stopOnce.Do(func() {
		i.mu.Lock()
		i.stopped = true
		close(i.ch)
		i.mu.Unlock()

		<-i.done
		if err := i.sink.Close(); err != nil {
			i.logger.Error("Failed to close usage sink", zap.Error(err))
		}
	})
}

func (i *Ingestor) worker(ctx context.Context) {
	defer close(i.done)

	batch := make([]*Record, 0, i.batchSize)
	ticker := time.NewTicker(i.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := i.sink.Write(context.Background(), batch); err != nil {
			i.logger.Error("Failed to persist usage records", zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-i.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= i.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// Pick up whatever is already queued.
			for {
				select {
				case r, ok := <-i.ch:
					if !ok {
						flush()
						return
					}
					batch = append(batch, r)
				default:
					flush()
					return
				}
			}
		}
	}
}
