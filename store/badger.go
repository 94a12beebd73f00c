package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"snapgraph/cas"
	"snapgraph/metrics"
)

// Badger values are one codec byte followed by the at-rest bytes.
const (
	badgerRaw  byte = 0
	badgerZstd byte = 1
)

var contentPrefix = []byte("content/")

// BadgerConfig configures OpenBadger.
type BadgerConfig struct {
	Path string
	// CompressAbove works as in SQLiteConfig.
	CompressAbove int
	SyncWrites    bool
	// InMemory keeps everything in memory; Path is ignored.
	InMemory bool
	Logger   *logrus.Logger
}

// BadgerContent is a cas.Store on a Badger key-value database.
type BadgerContent struct {
	db            *badger.DB
	compressAbove int
	log           *logrus.Logger
}

var _ cas.Store = (*BadgerContent)(nil)

// OpenBadger opens or creates a Badger content store.
func OpenBadger(cfg BadgerConfig) (*BadgerContent, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.CompressAbove == 0 {
		cfg.CompressAbove = DefaultCompressAbove
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = cfg.SyncWrites
	opts.ValueLogFileSize = 1024 * 1024 * 100

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	cfg.Logger.WithFields(logrus.Fields{"path": cfg.Path, "in_memory": cfg.InMemory}).Debug("badger store opened")
	return &BadgerContent{db: db, compressAbove: cfg.CompressAbove, log: cfg.Logger}, nil
}

// Close closes the database.
func (b *BadgerContent) Close() error {
	return b.db.Close()
}

func contentKey(h cas.Hash) []byte {
	key := make([]byte, 0, len(contentPrefix)+cas.HashSize)
	key = append(key, contentPrefix...)
	return append(key, h[:]...)
}

// Put stores data under its hash unless it is already present.
func (b *BadgerContent) Put(ctx context.Context, data []byte) (cas.Hash, error) {
	if err := ctx.Err(); err != nil {
		return cas.ZeroHash, err
	}
	h := cas.Sum(data)
	key := contentKey(h)
	stored := false
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		packed, codec := compress(data, b.compressAbove)
		tag := badgerRaw
		if codec == CodecZstd {
			tag = badgerZstd
		}
		value := make([]byte, 0, len(packed)+1)
		value = append(value, tag)
		value = append(value, packed...)
		stored = true
		return txn.Set(key, value)
	})
	if err != nil {
		return cas.ZeroHash, fmt.Errorf("writing content %s: %w", h.Short(), err)
	}
	if stored {
		metrics.ContentWrites.WithLabelValues("badger", "stored").Inc()
	} else {
		metrics.ContentWrites.WithLabelValues("badger", "dedup").Inc()
	}
	return h, nil
}

// Get returns the bytes stored under h, verifying them against the hash.
func (b *BadgerContent) Get(ctx context.Context, h cas.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(contentKey(h))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, cas.NotFound(h)
	}
	if err != nil {
		return nil, fmt.Errorf("reading content %s: %w", h.Short(), err)
	}
	if len(value) == 0 {
		return nil, fmt.Errorf("%w: %s has an empty value", ErrCorrupt, h)
	}

	codec := CodecRaw
	switch value[0] {
	case badgerRaw:
	case badgerZstd:
		codec = CodecZstd
	default:
		return nil, fmt.Errorf("%w: %s has codec tag %d", ErrCorrupt, h, value[0])
	}
	data, err := decompress(value[1:], codec)
	if err != nil {
		return nil, err
	}
	if cas.Sum(data) != h {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, h)
	}
	return data, nil
}

// Has reports whether h is stored.
func (b *BadgerContent) Has(ctx context.Context, h cas.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(contentKey(h))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("checking content %s: %w", h.Short(), err)
	}
}

// Count returns the number of stored objects.
func (b *BadgerContent) Count() (int, error) {
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = contentPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
