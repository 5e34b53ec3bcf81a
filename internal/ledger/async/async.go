package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokligence/tokligence-relay/internal/ledger"
	"github.com/tokligence/tokligence-relay/internal/logging"
)

// Store wraps a ledger.Store with asynchronous batch writes so a slow
// database never delays the end of a stream. Entries still queued when the
// process crashes are lost.
type Store struct {
	underlying    ledger.Store
	entries       chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration
	logger        *logging.Logger

	wg      sync.WaitGroup
	stop    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

var _ ledger.Store = (*Store)(nil)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("async ledger: closed")

// Config configures the async ledger behavior.
type Config struct {
	BatchSize     int           // flush after this many entries (default 100)
	FlushInterval time.Duration // flush at least this often (default 1s)
	ChannelBuffer int           // queued entries before Record starts dropping (default 10000)
	WriteTimeout  time.Duration // per-batch deadline on the underlying store (default 5s)
	Logger        *logging.Logger
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	s := &Store{
		underlying:    underlying,
		entries:       make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		writeTimeout:  cfg.WriteTimeout,
		logger:        cfg.Logger,
		stop:          make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	s.logger.Debugf("async ledger started batch_size=%d flush_interval=%v buffer=%d", cfg.BatchSize, cfg.FlushInterval, cfg.ChannelBuffer)
	return s
}

func (s *Store) run() {
	defer s.wg.Done()

	batch := make([]ledger.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()
		written := 0
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil {
				s.logger.Warnf("async ledger: write stream=%s: %v", entry.StreamID, err)
				continue
			}
			written++
		}
		s.logger.Debugf("async ledger: flushed %d/%d entries", written, len(batch))
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.entries:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			for {
				select {
				case entry := <-s.entries:
					batch = append(batch, entry)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Record validates and queues an entry without blocking. When the queue is
// full the entry is dropped and counted.
func (s *Store) Record(_ context.Context, entry ledger.Entry) error {
	if err := ledger.Validate(entry); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case <-s.stop:
		return ErrClosed
	default:
	}
	select {
	case s.entries <- entry:
	default:
		s.dropped.Add(1)
		s.logger.Warnf("async ledger: queue full, dropping stream=%s", entry.StreamID)
	}
	return nil
}

// Dropped reports how many entries were discarded because the queue was full.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

// Summary delegates to the underlying store.
func (s *Store) Summary(ctx context.Context) (ledger.Summary, error) {
	return s.underlying.Summary(ctx)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, limit)
}

// Ping delegates to the underlying store.
func (s *Store) Ping(ctx context.Context) error {
	return s.underlying.Ping(ctx)
}

// Close flushes remaining entries and closes the underlying store.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.underlying.Close()
	})
	return err
}
