// Package badger is the embedded cache driver, selected with
// CACHE_DRIVER=badger. It needs no external service, which makes it the
// backend of choice for tests and single-container deployments.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/stackd/internal/logger"
	"github.com/marmos91/stackd/pkg/cache"
	"github.com/marmos91/stackd/pkg/config"
	"github.com/marmos91/stackd/pkg/metrics"
)

// DriverName is the CACHE_DRIVER value selecting this backend.
const DriverName = config.DriverBadger

const (
	// DefaultGCInterval is how often the value log is compacted on disk.
	DefaultGCInterval = 5 * time.Minute

	gcDiscardRatio = 0.5
)

func init() {
	cache.RegisterDriver(DriverName, func(_ context.Context, cfg *config.Config, m *metrics.Metrics) (cache.Backend, error) {
		return Open(Options{Path: cfg.Cache.Path, Metrics: m})
	})
}

// Options configures the store.
type Options struct {
	// Path is the database directory. Empty keeps everything in memory.
	Path string

	// GCInterval overrides DefaultGCInterval. Negative disables the
	// background loop.
	GCInterval time.Duration

	Metrics *metrics.Metrics
}

// Store implements cache.Backend on an embedded badger database.
type Store struct {
	db      *badgerdb.DB
	metrics *metrics.Metrics

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ cache.Backend = (*Store)(nil)

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	bopts := badgerdb.DefaultOptions(opts.Path).WithLogger(badgerLogger{})
	if opts.Path == "" {
		bopts = bopts.WithInMemory(true)
	}

	db, err := badgerdb.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Path, err)
	}

	s := &Store{db: db, metrics: opts.Metrics, stop: make(chan struct{})}

	interval := opts.GCInterval
	if interval == 0 {
		interval = DefaultGCInterval
	}
	if interval > 0 {
		s.wg.Add(1)
		go s.maintain(interval, opts.Path != "")
	}

	if opts.Path == "" {
		logger.Debug("Badger cache opened in memory")
	} else {
		logger.Info("Badger cache opened", logger.File(opts.Path))
	}
	return s, nil
}

func (s *Store) Name() string { return DriverName }

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.wrap(s.db.Update(func(txn *badgerdb.Txn) error {
		e := badgerdb.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	}))
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap(err)
	}
	return value, true, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int64
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		n = 0
		for _, k := range keys {
			_, err := txn.Get([]byte(k))
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, s.wrap(err)
	}
	return n, nil
}

// DeleteByPrefix counts the live keys under prefix, then drops them with
// DropPrefix.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if n%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, s.wrap(err)
	}
	if n == 0 {
		return 0, nil
	}

	if err := s.db.DropPrefix([]byte(prefix)); err != nil {
		return 0, s.wrap(err)
	}
	return n, nil
}

// Ping verifies the database is open and can start a transaction.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return cache.ErrClosed
	}
	return s.wrap(s.db.View(func(*badgerdb.Txn) error { return nil }))
}

func (s *Store) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.wrap(s.db.DropAll())
}

// Close stops the maintenance loop and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Size returns the LSM and value log sizes in bytes.
func (s *Store) Size() (lsm, vlog int64) {
	return s.db.Size()
}

// maintain reports the database size and, on disk, compacts the value log.
func (s *Store) maintain(interval time.Duration, onDisk bool) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.metrics.SetBadgerSize(s.db.Size())
			if onDisk {
				s.collectGarbage()
			}
		}
	}
}

func (s *Store) collectGarbage() {
	for {
		err := s.db.RunValueLogGC(gcDiscardRatio)
		if err == nil {
			continue
		}
		if !errors.Is(err, badgerdb.ErrNoRewrite) {
			logger.Warn("Badger value log GC failed", logger.Err(err))
		}
		return
	}
}

func (s *Store) wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badgerdb.ErrDBClosed):
		return fmt.Errorf("%w: %w", cache.ErrClosed, err)
	default:
		return err
	}
}

// badgerLogger forwards badger's internal logging to the process logger.
// Info chatter is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error("badger: "+trimNewline(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn("badger: "+trimNewline(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debug("badger: "+trimNewline(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(string, ...any) {}

func trimNewline(s string) string {
	return strings.TrimRight(s, "\r\n")
}
